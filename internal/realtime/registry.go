// Package realtime is the WebSocket side of the in-app channel: a
// per-user connection registry and the HTTP gateway that feeds it.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
)

// Frame type markers on the wire.
const (
	FrameNotification = "notification"        // live delivery
	FrameMissed       = "notification_missed" // replay of unread backlog on connect
)

// Frame is one server→client message.
type Frame struct {
	Type      string        `json:"type"`
	JobID     string        `json:"job_id"`
	Payload   queue.Payload `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
}

// EncodeFrame renders a job as a wire frame of the given type.
func EncodeFrame(frameType string, job *queue.Job) ([]byte, error) {
	return json.Marshal(Frame{
		Type:      frameType,
		JobID:     job.ID.String(),
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
	})
}

// sendBuffer sizes each connection's outbound queue. A client that
// falls this far behind gets dropped rather than blocking dispatch.
const sendBuffer = 256

// Conn is one registered WebSocket connection. The send channel is the
// only path to the socket; writePump owns all writes.
type Conn struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
}

// enqueue hands a frame to the connection without blocking. It reports
// false when the client's buffer is full.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close shuts the send channel, which terminates writePump.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Registry tracks live connections per user. A user may hold several
// connections (multiple tabs); Push fans out to all of them.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[*Conn]struct{})}
}

// Register adds a connection for the user.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a connection and closes its send channel. Safe to
// call more than once.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	if set, ok := r.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.conns, c.userID)
		}
	}
	r.mu.Unlock()
	c.close()
}

// Push delivers a frame to every live connection of the user and
// returns how many accepted it. Zero means the user is offline.
func (r *Registry) Push(userID string, frame []byte) int {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns[userID]))
	for c := range r.conns[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.enqueue(frame) {
			delivered++
		} else {
			logger.Warn("dropping slow websocket client",
				zap.String("user_id", userID))
			r.Unregister(c)
		}
	}
	return delivered
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the total number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// CloseAll drops every connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.conns
	r.conns = make(map[string]map[*Conn]struct{})
	r.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}
