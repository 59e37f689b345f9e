package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/stream"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

func newTestHub(t *testing.T, authToken string) (*Hub, *stream.MemoryBroker, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := stream.NewMemoryBroker(1024)
	t.Cleanup(func() { _ = broker.Close() })

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	hub := NewHub(broker, authToken, log)
	// Short poll so ping frames arrive quickly under test.
	hub.block = 50 * time.Millisecond
	t.Cleanup(hub.Shutdown)

	router := gin.New()
	RegisterRoutes(router, hub, log)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	return hub, broker, wsURL
}

func dialHub(t *testing.T, wsURL, authHeader string) *gorillaws.Conn {
	t.Helper()
	header := http.Header{}
	if authHeader != "" {
		header.Set("Authorization", authHeader)
	}
	conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gorillaws.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	return frame
}

func isPing(frame []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return false
	}
	return msg.Type == "ping"
}

// waitForTail reads until the first ping, which proves the subscriber's
// cursor is planted and anything published next lands after it.
func waitForTail(t *testing.T, conn *gorillaws.Conn) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if isPing(readFrame(t, conn)) {
			return
		}
	}
	t.Fatal("no ping frame before tail was established")
}

func nextEvent(t *testing.T, conn *gorillaws.Conn) v1.Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		if isPing(frame) {
			continue
		}
		var ev v1.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		return ev
	}
	t.Fatal("no event frame received")
	return v1.Event{}
}

func publishEvent(t *testing.T, broker stream.Broker, id, eventType string) {
	t.Helper()
	raw, err := json.Marshal(v1.Event{ID: id, Type: eventType, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	_, err = broker.Publish(context.Background(), string(raw))
	require.NoError(t, err)
}

func TestHubClosesOnMissingToken(t *testing.T) {
	_, _, wsURL := newTestHub(t, "secret")

	conn := dialHub(t, wsURL, "")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, closeMissingToken), "want close 4401, got %v", err)
}

func TestHubClosesOnWrongToken(t *testing.T) {
	_, _, wsURL := newTestHub(t, "secret")

	conn := dialHub(t, wsURL, "Bearer nope")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, closeInvalidToken), "want close 4403, got %v", err)
}

func TestHubAcceptsCaseInsensitiveBearer(t *testing.T) {
	_, _, wsURL := newTestHub(t, "secret")

	conn := dialHub(t, wsURL, "bearer secret")
	waitForTail(t, conn)
}

func TestHubSendsPingWhenIdle(t *testing.T) {
	_, _, wsURL := newTestHub(t, "")

	conn := dialHub(t, wsURL, "")
	frame := readFrame(t, conn)
	assert.True(t, isPing(frame), "want ping frame, got %s", frame)
}

func TestHubStartsAtTail(t *testing.T) {
	_, broker, wsURL := newTestHub(t, "secret")

	publishEvent(t, broker, "stale", v1.EventTypeTaskCreated)

	conn := dialHub(t, wsURL, "Bearer secret")
	waitForTail(t, conn)

	publishEvent(t, broker, "fresh", v1.EventTypeTaskCreated)

	ev := nextEvent(t, conn)
	assert.Equal(t, "fresh", ev.ID)
}

func TestHubDeliversInOrder(t *testing.T) {
	_, broker, wsURL := newTestHub(t, "")

	conn := dialHub(t, wsURL, "")
	waitForTail(t, conn)

	publishEvent(t, broker, "first", v1.EventTypeTaskCreated)
	publishEvent(t, broker, "second", v1.EventTypeTaskUpdated)
	publishEvent(t, broker, "third", v1.EventTypeCommentCreated)

	assert.Equal(t, "first", nextEvent(t, conn).ID)
	assert.Equal(t, "second", nextEvent(t, conn).ID)
	assert.Equal(t, "third", nextEvent(t, conn).ID)
}

func TestHubLateSubscriberMissesEarlierEvents(t *testing.T) {
	_, broker, wsURL := newTestHub(t, "")

	early := dialHub(t, wsURL, "")
	waitForTail(t, early)

	publishEvent(t, broker, "only-for-early", v1.EventTypeTaskCreated)
	assert.Equal(t, "only-for-early", nextEvent(t, early).ID)

	late := dialHub(t, wsURL, "")
	// The late subscriber's first frame must be a keep-alive, not the event.
	frame := readFrame(t, late)
	assert.True(t, isPing(frame), "late subscriber replayed history: %s", frame)
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub, _, wsURL := newTestHub(t, "")

	conn := dialHub(t, wsURL, "")
	waitForTail(t, conn)
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseGoingAway), "want close 1001, got %v", err)
			break
		}
	}

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
