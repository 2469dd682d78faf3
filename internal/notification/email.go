package notification

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/mail"
	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/store"
)

// Payload defaults when a producer omits the rendering fields.
const (
	defaultSubject  = "No Subject"
	defaultBodyText = "No text content."
)

// EmailHandler delivers email jobs: it resolves the recipient user id
// to an address and hands the rendered message to the mailer.
type EmailHandler struct {
	users  store.Users
	mailer mail.Mailer
}

// NewEmailHandler creates the email delivery handler.
func NewEmailHandler(users store.Users, mailer mail.Mailer) *EmailHandler {
	return &EmailHandler{users: users, mailer: mailer}
}

var _ Handler = (*EmailHandler)(nil)

// Channel implements Handler.
func (h *EmailHandler) Channel() queue.Channel { return queue.ChannelEmail }

// Deliver implements Handler. A recipient that cannot be resolved fails
// terminally; SMTP failures are transport errors and retry.
func (h *EmailHandler) Deliver(ctx context.Context, job *queue.Job) error {
	userID, err := uuid.Parse(job.Recipient)
	if err != nil {
		return apperrors.Terminal(err)
	}

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); ok {
			// Deleted or unknown recipient: retrying cannot help.
			return apperrors.Terminal(err)
		}
		return apperrors.Store("resolve_recipient", err)
	}

	subject := job.Payload.GetString("subject")
	if subject == "" {
		subject = defaultSubject
	}
	bodyText := job.Payload.GetString("body_text")
	if bodyText == "" {
		bodyText = defaultBodyText
	}

	err = h.mailer.Send(ctx, mail.Message{
		To:       user.Email,
		Subject:  subject,
		BodyText: bodyText,
		BodyHTML: job.Payload.GetString("body_html"),
	})
	if err != nil {
		return apperrors.Transport(string(queue.ChannelEmail), err)
	}

	logger.Debug("email delivered",
		zap.String("job_id", job.ID.String()),
		zap.String("recipient", job.Recipient))
	return nil
}
