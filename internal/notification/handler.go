// Package notification implements Herald's dispatch engine: the
// delivery handlers, the event receiver that turns domain events into
// queued jobs, and the polling worker that drains the queue.
package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"heraldapp.io/herald/internal/queue"
)

// Handler delivers one claimed job over its channel.
//
// Deliver returns nil on success. Retryable failures are reported as
// TransportError; anything wrapped Terminal (or ErrSuppressed) fails the
// job immediately regardless of attempts remaining.
type Handler interface {
	Channel() queue.Channel
	Deliver(ctx context.Context, job *queue.Job) error
}

// Registry maps channels to their delivery handlers. Handlers register
// at startup; the channel set is open — a new channel only needs a new
// handler, never worker changes.
type Registry struct {
	mu       sync.RWMutex
	handlers map[queue.Channel]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *Registry {
	return &Registry{handlers: make(map[queue.Channel]Handler)}
}

// Register adds a handler, replacing any previous handler for the same
// channel.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Channel()] = h
}

// Resolve returns the handler for the channel.
func (r *Registry) Resolve(channel queue.Channel) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[channel]
	if !ok {
		return nil, fmt.Errorf("no delivery handler for channel %q", channel)
	}
	return h, nil
}

// Channels returns the channels with a registered handler, sorted for
// stable claim queries and logs.
func (r *Registry) Channels() []queue.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]queue.Channel, 0, len(r.handlers))
	for ch := range r.handlers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, k int) bool { return channels[i] < channels[k] })
	return channels
}
