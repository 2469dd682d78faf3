package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/queue"
)

// knownChannels is the channel set the preference API exposes. The
// engine's channel set is open, but the API only offers channels a
// handler exists for.
var knownChannels = []queue.Channel{queue.ChannelEmail, queue.ChannelInApp}

type preferenceEntry struct {
	Channel queue.Channel `json:"channel"`
	Enabled bool          `json:"enabled"`
}

type updatePreferencesRequest struct {
	Preferences []preferenceEntry `json:"preferences" binding:"required,min=1"`
}

// GetPreferences handles GET /api/v1/preferences. Channels without an
// explicit row report the default (enabled).
func (s *Server) GetPreferences(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	explicit, err := s.prefs.List(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	byChannel := make(map[queue.Channel]bool, len(explicit))
	for _, p := range explicit {
		byChannel[p.Channel] = p.Enabled
	}

	out := make([]preferenceEntry, 0, len(knownChannels))
	for _, ch := range knownChannels {
		enabled, set := byChannel[ch]
		if !set {
			enabled = true
		}
		out = append(out, preferenceEntry{Channel: ch, Enabled: enabled})
	}

	c.JSON(http.StatusOK, gin.H{"preferences": out})
}

// UpdatePreferences handles PUT /api/v1/preferences.
func (s *Server) UpdatePreferences(c *gin.Context) {
	userID, ok := s.currentUserID(c)
	if !ok {
		return
	}

	var req updatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest("INVALID_REQUEST", "preferences list is required"))
		return
	}

	for _, entry := range req.Preferences {
		if !isKnownChannel(entry.Channel) {
			fail(c, apperrors.ErrUnknownChannel(string(entry.Channel)))
			return
		}
	}

	for _, entry := range req.Preferences {
		if err := s.prefs.Set(c.Request.Context(), userID, entry.Channel, entry.Enabled); err != nil {
			fail(c, err)
			return
		}
	}

	s.GetPreferences(c)
}

func isKnownChannel(ch queue.Channel) bool {
	for _, known := range knownChannels {
		if ch == known {
			return true
		}
	}
	return false
}
