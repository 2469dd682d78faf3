package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/auth"
	"heraldapp.io/herald/internal/domain"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/store"
)

// Receiver turns domain events into queued delivery jobs. It only
// enqueues — delivery always happens asynchronously in the worker — and
// it drops jobs for recipients who opted the channel out.
type Receiver struct {
	backend queue.Backend
	prefs   store.Preferences
	users   store.Users
	tokens  *auth.VerificationTokens

	baseURL          string
	maxAttempts      int
	inAppMaxAttempts int
}

// ReceiverConfig carries the per-channel attempt ceilings and the base
// URL rendered into verification links.
type ReceiverConfig struct {
	BaseURL          string
	MaxAttempts      int
	InAppMaxAttempts int
}

// NewReceiver creates the event receiver.
func NewReceiver(backend queue.Backend, prefs store.Preferences, users store.Users, tokens *auth.VerificationTokens, cfg ReceiverConfig) *Receiver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InAppMaxAttempts <= 0 {
		cfg.InAppMaxAttempts = 2
	}
	return &Receiver{
		backend:          backend,
		prefs:            prefs,
		users:            users,
		tokens:           tokens,
		baseURL:          cfg.BaseURL,
		maxAttempts:      cfg.MaxAttempts,
		inAppMaxAttempts: cfg.InAppMaxAttempts,
	}
}

// RegisterHandlers wires the receiver's event handlers onto the
// dispatcher. Call once at startup.
func (r *Receiver) RegisterHandlers(d *domain.EventDispatcher) {
	d.Register(domain.EventUserRegistered, r.onUserRegistered)
	d.Register(domain.EventUserEmailVerified, r.onEmailVerified)
	d.Register(domain.EventArticlePublished, r.onArticlePublished)
}

// Notify is the direct producer entry point: preference-checked enqueue
// of one job. It returns uuid.Nil with no error when the recipient has
// opted the channel out, and propagates enqueue errors so producers
// never silently lose a notification.
func (r *Receiver) Notify(ctx context.Context, recipient uuid.UUID, channel queue.Channel, payload queue.Payload) (uuid.UUID, error) {
	enabled, err := r.prefs.Enabled(ctx, recipient, channel)
	if err != nil {
		return uuid.Nil, fmt.Errorf("check preference: %w", err)
	}
	if !enabled {
		logger.Debug("notification skipped by preference",
			zap.String("recipient", recipient.String()),
			zap.String("channel", string(channel)))
		return uuid.Nil, nil
	}

	maxAttempts := r.maxAttempts
	if channel == queue.ChannelInApp {
		maxAttempts = r.inAppMaxAttempts
	}

	jobID, err := r.backend.Enqueue(ctx, queue.EnqueueParams{
		Recipient:   recipient.String(),
		Channel:     channel,
		Payload:     payload,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s notification: %w", channel, err)
	}

	logger.Info("notification enqueued",
		zap.String("job_id", jobID.String()),
		zap.String("recipient", recipient.String()),
		zap.String("channel", string(channel)))
	return jobID, nil
}

// onUserRegistered queues the welcome email carrying the verification
// link, plus a welcome in-app notification.
func (r *Receiver) onUserRegistered(ctx context.Context, event *domain.Event) error {
	var p domain.UserRegisteredPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}

	token, err := r.tokens.Issue(userID)
	if err != nil {
		return fmt.Errorf("issue verification token: %w", err)
	}
	verifyURL := fmt.Sprintf("%s/api/v1/auth/verify-email?token=%s", r.baseURL, token)

	if _, err := r.Notify(ctx, userID, queue.ChannelEmail, queue.Payload{
		"subject":   "Welcome to Herald",
		"body_text": fmt.Sprintf("Hi %s,\n\nWelcome! Verify your email address:\n%s\n", p.Name, verifyURL),
		"body_html": fmt.Sprintf(`<p>Hi %s,</p><p>Welcome! <a href="%s">Verify your email address</a>.</p>`, p.Name, verifyURL),
	}); err != nil {
		return err
	}

	_, err = r.Notify(ctx, userID, queue.ChannelInApp, queue.Payload{
		"kind": "welcome",
		"text": fmt.Sprintf("Welcome, %s! Check your email to verify your account.", p.Name),
	})
	return err
}

// onEmailVerified queues the in-app confirmation.
func (r *Receiver) onEmailVerified(ctx context.Context, event *domain.Event) error {
	var p domain.EmailVerifiedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}

	_, err = r.Notify(ctx, userID, queue.ChannelInApp, queue.Payload{
		"kind": "email_verified",
		"text": "Your email address is verified.",
	})
	return err
}

// onArticlePublished fans out one in-app job per registered user other
// than the author. Per-user failures do not stop the fan-out; the first
// error is returned.
func (r *Receiver) onArticlePublished(ctx context.Context, event *domain.Event) error {
	var p domain.ArticlePublishedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	authorID, err := uuid.Parse(p.AuthorID)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}

	audience, err := r.users.ListIDs(ctx, authorID)
	if err != nil {
		return fmt.Errorf("resolve article audience: %w", err)
	}

	payload := queue.Payload{
		"kind":       "article_published",
		"article_id": p.ArticleID,
		"text":       fmt.Sprintf("New article published: %s", p.Title),
	}

	var firstErr error
	for _, userID := range audience {
		if _, err := r.Notify(ctx, userID, queue.ChannelInApp, payload); err != nil {
			logger.Error("article fan-out enqueue failed",
				zap.String("recipient", userID.String()),
				zap.String("article_id", p.ArticleID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
