package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/queue"
)

// notificationView is the inbox wire representation of a job row.
type notificationView struct {
	ID        uuid.UUID     `json:"id"`
	Payload   queue.Payload `json:"payload"`
	Read      bool          `json:"read"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func toView(job *queue.Job) notificationView {
	return notificationView{
		ID:        job.ID,
		Payload:   job.Payload,
		Read:      job.Read,
		ReadAt:    job.ReadAt,
		CreatedAt: job.CreatedAt,
	}
}

// ListNotifications handles GET /api/v1/notifications.
func (s *Server) ListNotifications(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	page := intQuery(c, "page", 1)
	perPage := intQuery(c, "per_page", 20)
	unreadOnly := c.Query("unread_only") == "true"

	jobs, total, err := s.inbox.ListInbox(c.Request.Context(), userID.String(), unreadOnly, page, perPage)
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]notificationView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toView(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": views,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

// UnreadCount handles GET /api/v1/notifications/unread-count.
func (s *Server) UnreadCount(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	count, err := s.inbox.UnreadCount(c.Request.Context(), userID.String())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, apperrors.BadRequest("INVALID_REQUEST", "notification id must be a UUID"))
		return
	}

	if err := s.inbox.MarkRead(c.Request.Context(), jobID, userID.String()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

// MarkAllNotificationsRead handles POST /api/v1/notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	if err := s.inbox.MarkAllRead(c.Request.Context(), userID.String()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}
