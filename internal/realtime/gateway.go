package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/config"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
)

// ackMessage is the one client→server message the gateway understands:
// marking a delivered notification as read.
type ackMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// Gateway upgrades authenticated requests to WebSocket connections,
// replays the unread backlog and relays read-acks back to the store.
type Gateway struct {
	registry   *Registry
	inbox      queue.Inbox
	signingKey []byte
	cfg        config.RealtimeConfig

	upgrader websocket.Upgrader
}

// NewGateway creates the gateway. Zero-valued timeouts get sane
// defaults so a partially populated config cannot stall the pumps.
func NewGateway(registry *Registry, inbox queue.Inbox, signingKey []byte, cfg config.RealtimeConfig) *Gateway {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		// Pings must outpace the pong deadline.
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	return &Gateway{
		registry:   registry,
		inbox:      inbox,
		signingKey: signingKey,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser WebSocket clients cannot set arbitrary headers, so
			// auth rides in the token query param and origin checks are
			// delegated to the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// wsClaims mirrors the API token claims the gateway cares about.
type wsClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// authenticate resolves the connecting user from the Authorization
// header or, for browser clients, the token query parameter.
func (g *Gateway) authenticate(c *gin.Context) (string, error) {
	tokenString := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		return "", fmt.Errorf("missing token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &wsClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return g.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*wsClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.UserID, nil
}

// Handle is the gin handler for GET /ws/notifications.
func (g *Gateway) Handle(c *gin.Context) {
	userID, err := g.authenticate(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "invalid or missing token",
		})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Conn{userID: userID, ws: ws, send: make(chan []byte, sendBuffer)}
	g.registry.Register(conn)
	logger.Debug("websocket connected", zap.String("user_id", userID))

	// Queue the unread backlog before live frames can interleave.
	g.replayMissed(c.Request.Context(), conn)

	go g.writePump(conn)
	go g.readPump(conn)
}

// replayMissed queues every unread in-app notification as a
// notification_missed frame, oldest first.
func (g *Gateway) replayMissed(ctx context.Context, conn *Conn) {
	jobs, err := g.inbox.ListUnread(ctx, conn.userID)
	if err != nil {
		logger.Error("replay unread backlog",
			zap.String("user_id", conn.userID), zap.Error(err))
		return
	}
	for _, job := range jobs {
		frame, err := EncodeFrame(FrameMissed, job)
		if err != nil {
			logger.Error("encode missed frame", zap.Error(err))
			continue
		}
		if !conn.enqueue(frame) {
			logger.Warn("backlog overflow on connect",
				zap.String("user_id", conn.userID))
			return
		}
	}
}

// writePump owns the socket's write side: queued frames plus keepalive
// pings. It exits when the send channel closes or a write fails.
func (g *Gateway) writePump(conn *Conn) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if !ok {
				_ = conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.registry.Unregister(conn)
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.registry.Unregister(conn)
				return
			}
		}
	}
}

// readPump owns the socket's read side: pong keepalive plus ack frames.
func (g *Gateway) readPump(conn *Conn) {
	defer func() {
		g.registry.Unregister(conn)
		conn.ws.Close()
		logger.Debug("websocket disconnected", zap.String("user_id", conn.userID))
	}()

	conn.ws.SetReadLimit(g.cfg.MaxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					zap.String("user_id", conn.userID), zap.Error(err))
			}
			return
		}
		g.handleAck(conn.userID, data)
	}
}

// handleAck marks the acked notification as read. Malformed or
// foreign-job acks are logged and dropped; they never close the socket.
func (g *Gateway) handleAck(userID string, data []byte) {
	var msg ackMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "ack" {
		logger.Debug("ignoring unknown websocket message",
			zap.String("user_id", userID))
		return
	}

	jobID, err := uuid.Parse(msg.JobID)
	if err != nil {
		logger.Debug("ack with malformed job id",
			zap.String("user_id", userID), zap.String("job_id", msg.JobID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.inbox.MarkRead(ctx, jobID, userID); err != nil {
		logger.Warn("mark read from ack failed",
			zap.String("user_id", userID),
			zap.String("job_id", msg.JobID),
			zap.Error(err))
	}
}
