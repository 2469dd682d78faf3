package handlers

import (
	"net/http"
	"net/mail"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"heraldapp.io/herald/internal/api/middleware"
	"heraldapp.io/herald/internal/domain"
	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
)

const passwordHashCost = 12

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /api/v1/auth/register.
func (s *Server) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest("INVALID_REQUEST", "email, name and a password of at least 8 characters are required"))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		fail(c, apperrors.BadRequest("INVALID_EMAIL", "email address is malformed"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordHashCost)
	if err != nil {
		fail(c, err)
		return
	}

	user, err := s.users.Create(c.Request.Context(), req.Email, req.Name, string(hash))
	if err != nil {
		fail(c, err)
		return
	}

	// The welcome email and in-app notification ride on this event. The
	// account exists either way; a failed enqueue is logged loudly
	// rather than failing the registration.
	payload, err := domain.UserRegisteredPayload{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
	}.ToJSON()
	if err == nil {
		err = s.events.Dispatch(c.Request.Context(), &domain.Event{
			EventID:    uuid.NewString(),
			EventType:  domain.EventUserRegistered,
			Payload:    payload,
			OccurredAt: time.Now().UTC(),
		})
	}
	if err != nil {
		logger.Error("user.registered dispatch failed",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login handles POST /api/v1/auth/login.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest("INVALID_REQUEST", "email and password are required"))
		return
	}

	user, err := s.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		logger.Warn("login failed: invalid credentials")
		fail(c, apperrors.ErrInvalidCredentials())
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		logger.Warn("login failed: invalid credentials")
		fail(c, apperrors.ErrInvalidCredentials())
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtCfg, user.ID.String(), user.Email)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       user,
	})
}

// VerifyEmail handles GET /api/v1/auth/verify-email?token=.
func (s *Server) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		fail(c, apperrors.BadRequest("INVALID_REQUEST", "token query parameter is required"))
		return
	}

	userID, err := s.tokens.Parse(token)
	if err != nil {
		fail(c, err)
		return
	}

	user, err := s.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	if user.Verified {
		// Re-clicking the link is fine; don't re-fire the event.
		c.JSON(http.StatusOK, gin.H{"verified": true})
		return
	}

	if err := s.users.MarkVerified(c.Request.Context(), userID); err != nil {
		fail(c, err)
		return
	}

	payload, err := domain.EmailVerifiedPayload{UserID: userID.String()}.ToJSON()
	if err == nil {
		err = s.events.Dispatch(c.Request.Context(), &domain.Event{
			EventID:    uuid.NewString(),
			EventType:  domain.EventUserEmailVerified,
			Payload:    payload,
			OccurredAt: time.Now().UTC(),
		})
	}
	if err != nil {
		logger.Error("user.email_verified dispatch failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}
