package notification

import (
	"context"

	"go.uber.org/zap"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/realtime"
)

// Pusher is the slice of the connection registry the in-app handler
// needs. Satisfied by *realtime.Registry.
type Pusher interface {
	// Push delivers a frame to every live connection of the user and
	// returns how many accepted it.
	Push(userID string, frame []byte) int
}

// InAppHandler delivers in-app jobs by pushing a notification frame to
// the recipient's live WebSocket connections. An offline recipient is a
// retryable transport failure up to the short in-app attempt ceiling;
// a job that exhausts it fails terminally and never enters the inbox,
// which carries delivered notifications only.
type InAppHandler struct {
	pusher Pusher
}

// NewInAppHandler creates the in-app delivery handler.
func NewInAppHandler(pusher Pusher) *InAppHandler {
	return &InAppHandler{pusher: pusher}
}

var _ Handler = (*InAppHandler)(nil)

// Channel implements Handler.
func (h *InAppHandler) Channel() queue.Channel { return queue.ChannelInApp }

// Deliver implements Handler.
func (h *InAppHandler) Deliver(_ context.Context, job *queue.Job) error {
	frame, err := realtime.EncodeFrame(realtime.FrameNotification, job)
	if err != nil {
		return apperrors.Terminal(err)
	}

	delivered := h.pusher.Push(job.Recipient, frame)
	if delivered == 0 {
		return apperrors.Transport(string(queue.ChannelInApp), apperrors.ErrOffline)
	}

	logger.Debug("in-app notification pushed",
		zap.String("job_id", job.ID.String()),
		zap.String("recipient", job.Recipient),
		zap.Int("connections", delivered))
	return nil
}
