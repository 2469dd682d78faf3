package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"heraldapp.io/herald/internal/api/handlers"
	"heraldapp.io/herald/internal/api/middleware"
	"heraldapp.io/herald/internal/config"
	"heraldapp.io/herald/internal/realtime"
)

func newRouter(cfg *config.Config, server *handlers.Server, gateway *realtime.Gateway, signingKey []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.Server.AllowedOrigins) == 1 && cfg.Server.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", server.Health)

	// The gateway authenticates its own upgrade request (browser
	// WebSocket clients pass the token as a query param).
	router.GET("/ws/notifications", gateway.Handle)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/register", server.Register)
	v1.POST("/auth/login", server.Login)
	v1.GET("/auth/verify-email", server.VerifyEmail)

	authed := v1.Group("", middleware.JWTAuth(signingKey))
	authed.POST("/articles", server.CreateArticle)
	authed.GET("/articles", server.ListArticles)
	authed.GET("/preferences", server.GetPreferences)
	authed.PUT("/preferences", server.UpdatePreferences)
	authed.GET("/notifications", server.ListNotifications)
	authed.GET("/notifications/unread-count", server.UnreadCount)
	authed.POST("/notifications/:id/read", server.MarkNotificationRead)
	authed.POST("/notifications/read-all", server.MarkAllNotificationsRead)

	return router
}
