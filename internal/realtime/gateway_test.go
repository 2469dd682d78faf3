package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"heraldapp.io/herald/internal/config"
	"heraldapp.io/herald/internal/queue"
)

var gatewayKey = []byte("0123456789abcdef0123456789abcdef")

func apiToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(gatewayKey)
	require.NoError(t, err)
	return token
}

func newGatewayServer(t *testing.T, store *queue.MemoryStore) (*httptest.Server, *Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := NewRegistry()
	gateway := NewGateway(registry, store, gatewayKey, config.RealtimeConfig{
		WriteTimeout: time.Second,
		PongTimeout:  5 * time.Second,
		PingInterval: time.Second,
	})

	router := gin.New()
	router.GET("/ws/notifications", gateway.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(registry.CloseAll)
	return srv, registry
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications?token=" + token
}

// deliverInApp enqueues an in-app job and walks it to sent so it shows
// up in the unread backlog.
func deliverInApp(t *testing.T, store *queue.MemoryStore, recipient, text string) *queue.Job {
	t.Helper()
	ctx := context.Background()
	id, err := store.Enqueue(ctx, queue.EnqueueParams{
		Recipient: recipient,
		Channel:   queue.ChannelInApp,
		Payload:   queue.Payload{"text": text},
	})
	require.NoError(t, err)
	batch, err := store.FetchBatch(ctx, []queue.Channel{queue.ChannelInApp}, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, store.MarkResult(ctx, id, nil))
	job, ok := store.Get(id)
	require.True(t, ok)
	return job
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestGateway_RejectsMissingAndBadTokens(t *testing.T) {
	srv, _ := newGatewayServer(t, queue.NewMemoryStore(queue.DefaultRetryPolicy()))

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestGateway_ReplaysUnreadBacklog(t *testing.T) {
	store := queue.NewMemoryStore(queue.DefaultRetryPolicy())
	first := deliverInApp(t, store, "alice", "first")
	second := deliverInApp(t, store, "alice", "second")

	srv, _ := newGatewayServer(t, store)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, apiToken(t, "alice")), nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	require.Equal(t, FrameMissed, frame.Type)
	require.Equal(t, first.ID.String(), frame.JobID, "backlog replays oldest first")
	require.Equal(t, "first", frame.Payload.GetString("text"))

	frame = readFrame(t, conn)
	require.Equal(t, FrameMissed, frame.Type)
	require.Equal(t, second.ID.String(), frame.JobID)
}

func TestGateway_LivePushAndAck(t *testing.T) {
	store := queue.NewMemoryStore(queue.DefaultRetryPolicy())
	srv, registry := newGatewayServer(t, store)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, apiToken(t, "alice")), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The registry registers synchronously during the HTTP upgrade, so
	// the connection is pushable as soon as Dial returns.
	require.Eventually(t, func() bool { return registry.Online("alice") },
		2*time.Second, 10*time.Millisecond)

	job := deliverInApp(t, store, "alice", "live one")
	frame, err := EncodeFrame(FrameNotification, job)
	require.NoError(t, err)
	require.Equal(t, 1, registry.Push("alice", frame))

	got := readFrame(t, conn)
	require.Equal(t, FrameNotification, got.Type)
	require.Equal(t, job.ID.String(), got.JobID)

	// Ack marks the notification read.
	ack, _ := json.Marshal(map[string]string{"type": "ack", "job_id": job.ID.String()})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ack))

	require.Eventually(t, func() bool {
		n, err := store.UnreadCount(context.Background(), "alice")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_AckForForeignJobIsIgnored(t *testing.T) {
	store := queue.NewMemoryStore(queue.DefaultRetryPolicy())
	bobJob := deliverInApp(t, store, "bob", "for bob")

	srv, _ := newGatewayServer(t, store)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, apiToken(t, "alice")), nil)
	require.NoError(t, err)
	defer conn.Close()

	ack, _ := json.Marshal(map[string]string{"type": "ack", "job_id": bobJob.ID.String()})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ack))

	// Bob's notification stays unread; the socket stays open.
	time.Sleep(100 * time.Millisecond)
	n, err := store.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{}")))
}
