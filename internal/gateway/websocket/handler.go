package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/gateway"
)

// Close codes mirroring the HTTP auth responses.
const (
	closeMissingToken = 4401
	closeInvalidToken = 4403
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bearer token is the trust boundary; origin is not.
		return true
	},
}

// Handler upgrades /ws/events connections and hands them to the hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithComponent("ws-handler"),
	}
}

// RegisterRoutes mounts the live event stream endpoint.
func RegisterRoutes(router *gin.Engine, hub *Hub, log *logger.Logger) *Handler {
	handler := NewHandler(hub, log)
	router.GET("/ws/events", handler.HandleConnection)
	return handler
}

// HandleConnection upgrades first and authenticates after, so clients get a
// WebSocket close code instead of an opaque handshake failure.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn)
	if h.hub.authToken != "" {
		token, ok := gateway.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			client.close(closeMissingToken, "missing bearer token")
			return
		}
		if token != h.hub.authToken {
			client.close(closeInvalidToken, "invalid token")
			return
		}
	}

	h.hub.serve(c.Request.Context(), client)
}
