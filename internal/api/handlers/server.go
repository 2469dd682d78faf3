// Package handlers implements Herald's HTTP API: auth, articles,
// preferences and the in-app notification inbox.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"heraldapp.io/herald/internal/api/middleware"
	"heraldapp.io/herald/internal/auth"
	"heraldapp.io/herald/internal/domain"
	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	users    store.Users
	articles store.Articles
	prefs    store.Preferences
	inbox    queue.Inbox
	events   *domain.EventDispatcher
	tokens   *auth.VerificationTokens
	jwtCfg   middleware.JWTConfig

	// pool backs the health check's DB ping; nil in store-free tests.
	pool *pgxpool.Pool
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, wired in internal/app.
type ServerDeps struct {
	Users    store.Users
	Articles store.Articles
	Prefs    store.Preferences
	Inbox    queue.Inbox
	Events   *domain.EventDispatcher
	Tokens   *auth.VerificationTokens
	JWTCfg   middleware.JWTConfig
	Pool     *pgxpool.Pool
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		users:    deps.Users,
		articles: deps.Articles,
		prefs:    deps.Prefs,
		inbox:    deps.Inbox,
		events:   deps.Events,
		tokens:   deps.Tokens,
		jwtCfg:   deps.JWTCfg,
		pool:     deps.Pool,
	}
}

// currentUserID resolves the authenticated caller from the JWT context.
// The second return aborts the request when the id is missing or
// malformed, which only happens on middleware misconfiguration.
func (s *Server) currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw := middleware.GetUserID(c.Request.Context())
	userID, err := uuid.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "missing authenticated user",
		})
		return uuid.Nil, false
	}
	return userID, true
}

// fail routes an error through the centralized error handler.
func fail(c *gin.Context, err error) {
	if _, ok := apperrors.IsAppError(err); !ok {
		err = apperrors.Wrap(err, "INTERNAL_ERROR", "An internal error occurred", http.StatusInternalServerError)
	}
	_ = c.Error(err)
}
