package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"heraldapp.io/herald/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func newEvent(t *testing.T, et EventType, payload interface{ ToJSON() ([]byte, error) }) *Event {
	t.Helper()
	raw, err := payload.ToJSON()
	require.NoError(t, err)
	return &Event{
		EventID:    uuid.NewString(),
		EventType:  et,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}
}

func TestDispatch_RoutesToRegisteredHandlers(t *testing.T) {
	d := NewEventDispatcher()

	var got UserRegisteredPayload
	d.Register(EventUserRegistered, func(ctx context.Context, e *Event) error {
		return json.Unmarshal(e.Payload, &got)
	})

	ev := newEvent(t, EventUserRegistered, UserRegisteredPayload{
		UserID: "u1", Email: "u1@example.com", Name: "U One",
	})
	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, "u1@example.com", got.Email)
}

func TestDispatch_NoHandlersIsNotAnError(t *testing.T) {
	d := NewEventDispatcher()
	ev := newEvent(t, EventArticlePublished, ArticlePublishedPayload{ArticleID: "a1"})
	require.NoError(t, d.Dispatch(context.Background(), ev))
}

func TestDispatch_AllHandlersRunAndFirstErrorReturned(t *testing.T) {
	d := NewEventDispatcher()

	errFirst := errors.New("first failure")
	var secondRan bool
	d.Register(EventUserEmailVerified, func(ctx context.Context, e *Event) error {
		return errFirst
	})
	d.Register(EventUserEmailVerified, func(ctx context.Context, e *Event) error {
		secondRan = true
		return errors.New("second failure")
	})

	ev := newEvent(t, EventUserEmailVerified, EmailVerifiedPayload{UserID: "u1"})
	err := d.Dispatch(context.Background(), ev)
	require.ErrorIs(t, err, errFirst)
	require.True(t, secondRan, "remaining handlers must still run after a failure")
}

func TestDispatch_ConcurrentDispatchIsSafe(t *testing.T) {
	d := NewEventDispatcher()
	d.Register(EventUserRegistered, func(ctx context.Context, e *Event) error { return nil })

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() { //nolint:naked-goroutine // test helper
			defer func() { done <- struct{}{} }()
			ev := newEvent(t, EventUserRegistered, UserRegisteredPayload{UserID: "u"})
			_ = d.Dispatch(context.Background(), ev)
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}
