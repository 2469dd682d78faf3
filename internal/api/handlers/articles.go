package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/domain"
	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
)

type createArticleRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreateArticle handles POST /api/v1/articles.
func (s *Server) CreateArticle(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	var req createArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest("INVALID_REQUEST", "title and content are required"))
		return
	}

	article, err := s.articles.Create(c.Request.Context(), userID, req.Title, req.Content)
	if err != nil {
		fail(c, err)
		return
	}

	payload, err := domain.ArticlePublishedPayload{
		ArticleID: article.ID.String(),
		AuthorID:  article.AuthorID.String(),
		Title:     article.Title,
	}.ToJSON()
	if err == nil {
		err = s.events.Dispatch(c.Request.Context(), &domain.Event{
			EventID:    uuid.NewString(),
			EventType:  domain.EventArticlePublished,
			Payload:    payload,
			OccurredAt: time.Now().UTC(),
		})
	}
	if err != nil {
		logger.Error("article.published dispatch failed",
			zap.String("article_id", article.ID.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{"article": article})
}

// ListArticles handles GET /api/v1/articles.
func (s *Server) ListArticles(c *gin.Context) {
	page := intQuery(c, "page", 1)
	perPage := intQuery(c, "per_page", 20)

	articles, total, err := s.articles.List(c.Request.Context(), page, perPage)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"articles": articles,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// intQuery parses a positive integer query parameter with a default.
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
