// Package domain defines Herald's domain events and their dispatcher.
//
// Producers (registration, article publishing) dispatch events
// synchronously; the notification receiver reacts by enqueueing delivery
// jobs. Enqueue only — delivery itself always happens asynchronously in
// the dispatch worker, so the triggering request stays fast.
package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	EventUserRegistered    EventType = "user.registered"
	EventUserEmailVerified EventType = "user.email_verified"
	EventArticlePublished  EventType = "article.published"
)

// Event is an immutable domain event.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	Payload    []byte    `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserRegisteredPayload is the payload for user.registered events.
type UserRegisteredPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ToJSON converts payload to JSON bytes.
func (p UserRegisteredPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// EmailVerifiedPayload is the payload for user.email_verified events.
type EmailVerifiedPayload struct {
	UserID string `json:"user_id"`
}

// ToJSON converts payload to JSON bytes.
func (p EmailVerifiedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ArticlePublishedPayload is the payload for article.published events.
type ArticlePublishedPayload struct {
	ArticleID string `json:"article_id"`
	AuthorID  string `json:"author_id"`
	Title     string `json:"title"`
}

// ToJSON converts payload to JSON bytes.
func (p ArticlePublishedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
