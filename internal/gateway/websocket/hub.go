// Package websocket fans the event stream out to live subscribers. Every
// connection follows the broker from the tail; history is served by the feed
// endpoints, not here.
package websocket

import (
	"context"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/metrics"
	"github.com/missionctl/missionctl/internal/stream"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Subscribers never need to send anything; cap inbound frames hard
	maxMessageSize = 512

	// How long one broker read waits before the keep-alive ping
	defaultReadBlock = 25 * time.Second

	// Entries fetched per broker read
	defaultReadCount = 50
)

// pingFrame is the keep-alive sent when a broker read times out.
var pingFrame = []byte(`{"type":"ping"}`)

// Hub tracks live subscriber connections. Each subscriber runs in its own
// goroutine with a private stream cursor; the hub itself only exists so
// shutdown can close everyone and the gauge stays honest.
type Hub struct {
	broker    stream.Broker
	authToken string
	block     time.Duration
	count     int64
	logger    *logger.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub reading from broker. An empty authToken admits every
// connection.
func NewHub(broker stream.Broker, authToken string, log *logger.Logger) *Hub {
	return &Hub{
		broker:    broker,
		authToken: authToken,
		block:     defaultReadBlock,
		count:     defaultReadCount,
		logger:    log.WithComponent("ws-hub"),
		clients:   make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.SubscriberConnected()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.SubscriberDisconnected()
}

// SubscriberCount returns the number of live connections.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every live connection and refuses new ones. Subscriber
// goroutines notice their dead sockets on the next write.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(gorillaws.CloseGoingAway, "server shutting down")
	}
}

// serve runs one subscriber until its connection dies or the hub shuts down.
// It owns all writes on conn; the client's read loop only drains.
func (h *Hub) serve(ctx context.Context, client *Client) {
	if !h.register(client) {
		client.close(gorillaws.CloseGoingAway, "server shutting down")
		return
	}
	defer func() {
		h.unregister(client)
		_ = client.conn.Close()
	}()

	done := client.startReadLoop()

	// Tail semantics: new subscribers never replay history.
	last, err := h.broker.LatestID(ctx)
	if err != nil {
		h.logger.Error("failed to resolve stream tail", zap.Error(err))
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		entries, err := h.broker.Read(ctx, last, h.block, h.count)
		if err != nil {
			if ctx.Err() == nil && err != stream.ErrClosed {
				h.logger.Error("stream read failed", zap.Error(err))
			}
			return
		}

		if len(entries) == 0 {
			if err := client.writeText(pingFrame); err != nil {
				return
			}
			continue
		}
		for _, entry := range entries {
			if err := client.writeText([]byte(entry.Event)); err != nil {
				return
			}
			last = entry.ID
		}
	}
}
