package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"heraldapp.io/herald/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

var signingKey = []byte("0123456789abcdef0123456789abcdef")

func protectedRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), ErrorHandler())
	router.GET("/me", JWTAuth(signingKey), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c.Request.Context()),
			"email":   GetEmail(c.Request.Context()),
		})
	})
	return router
}

func TestJWTAuth_ValidToken(t *testing.T) {
	token, expiresAt, err := GenerateToken(JWTConfig{
		SigningKey: signingKey,
		Issuer:     "herald",
		ExpiresIn:  time.Hour,
	}, "user-1", "alice@example.com")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protectedRouter().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"user_id":"user-1"`)
	require.Contains(t, w.Body.String(), `"email":"alice@example.com"`)
}

func TestJWTAuth_Rejections(t *testing.T) {
	expired, _, err := GenerateToken(JWTConfig{
		SigningKey: signingKey,
		Issuer:     "herald",
		ExpiresIn:  -time.Hour,
	}, "user-1", "alice@example.com")
	require.NoError(t, err)

	foreign, _, err := GenerateToken(JWTConfig{
		SigningKey: []byte("another-secret-another-secret-32"),
		Issuer:     "herald",
		ExpiresIn:  time.Hour,
	}, "user-1", "alice@example.com")
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc123",
		"garbage token":  "Bearer not-a-token",
		"expired token":  "Bearer " + expired,
		"wrong key":      "Bearer " + foreign,
	}
	router := protectedRouter()
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			router.ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.Contains(t, w.Body.String(), "UNAUTHORIZED")
		})
	}
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, generated)
	require.Equal(t, generated, w.Body.String())

	// A caller-supplied id is propagated untouched.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	router.ServeHTTP(w, req)
	require.Equal(t, "fixed-id", w.Header().Get(RequestIDHeader))
	require.Equal(t, "fixed-id", w.Body.String())
}
