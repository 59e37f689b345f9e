// Package chatproxy terminates browser chat traffic for known agents and
// forwards it to each agent's upstream gateway. The proxy injects per-agent
// credentials on the upstream hop, rewrites responses so the embedded chat UI
// keeps working under /chat/{slug}, and mirrors the observed exchanges into
// the event feed.
package chatproxy

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/agents"
	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/metrics"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

const (
	// Cap on one proxied HTTP round trip.
	upstreamTimeout = 20 * time.Second

	// Handshake budget when dialing the upstream WebSocket.
	dialTimeout = 10 * time.Second

	// Time allowed to write a frame to either peer.
	writeWait = 10 * time.Second
)

// Proxy forwards /chat/{slug} traffic to the slug's upstream gateway.
type Proxy struct {
	directory *agents.Directory
	events    EventSink
	scheme    string
	client    *http.Client
	dialer    *gorillaws.Dialer
	logger    *logger.Logger
}

// NewProxy builds the proxy. scheme is the Authorization scheme used on the
// upstream hop; empty means Bearer.
func NewProxy(directory *agents.Directory, sink EventSink, scheme string, log *logger.Logger) *Proxy {
	if scheme == "" {
		scheme = "Bearer"
	}
	return &Proxy{
		directory: directory,
		events:    sink,
		scheme:    scheme,
		client: &http.Client{
			Timeout: upstreamTimeout,
			// Redirects go back to the browser so Location rewriting
			// keeps them inside /chat/{slug}.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: &gorillaws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		logger: log.WithComponent("chat-proxy"),
	}
}

// RegisterRoutes mounts the proxy under /chat. The bare slug and every
// sub-path funnel through the same handler.
func RegisterRoutes(router *gin.Engine, proxy *Proxy) {
	router.Any("/chat/:slug", proxy.Handle)
	router.Any("/chat/:slug/*rest", proxy.Handle)
}

// Handle resolves the slug and dispatches to the HTTP forward or the
// WebSocket bridge.
func (p *Proxy) Handle(c *gin.Context) {
	slug := c.Param("slug")
	agent, ok := p.directory.Lookup(slug)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("unknown agent: %s", slug)})
		return
	}

	rest := c.Param("rest")
	if rest == "" {
		rest = "/"
	}

	if gorillaws.IsWebSocketUpgrade(c.Request) {
		p.bridge(c, agent, rest)
		return
	}
	p.forward(c, agent, rest)
}

// forward relays one plain HTTP exchange.
func (p *Proxy) forward(c *gin.Context, agent *agents.Agent, rest string) {
	req := c.Request
	upstreamURL := agent.Upstream + rest
	if req.URL.RawQuery != "" {
		upstreamURL += "?" + req.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(req.Context(), req.Method, upstreamURL, req.Body)
	if err != nil {
		p.logger.Error("failed to build upstream request",
			zap.Error(err),
			zap.String("agent", agent.Slug))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	copyRequestHeaders(out.Header, req.Header)
	if req.ContentLength >= 0 {
		out.ContentLength = req.ContentLength
	}
	if agent.Token != "" {
		out.Header.Set("Authorization", p.authorization(agent.Token))
	}

	// GETs are pure reads; only mutating traffic shows up in the feed.
	observed := req.Method != http.MethodGet
	queryKeys := sortedQueryKeys(req.URL.Query())
	if observed {
		p.emit(agent.Slug, v1.EventTypeChatMessageSent, map[string]interface{}{
			"method":         req.Method,
			"path":           rest,
			"query_keys":     queryKeys,
			"is_ws_upgrade":  false,
			"content_length": req.ContentLength,
		})
	}

	resp, err := p.client.Do(out)
	if err != nil {
		errorType := classifyTransportError(err)
		metrics.ProxyUpstreamError(agent.Slug, errorType)
		p.emit(agent.Slug, v1.EventTypeChatProxyError, map[string]interface{}{
			"method":     req.Method,
			"path":       rest,
			"query_keys": queryKeys,
			"error_type": errorType,
		})
		p.logger.Warn("upstream request failed",
			zap.String("agent", agent.Slug),
			zap.String("error_type", errorType),
			zap.Error(err))
		c.String(http.StatusBadGateway, "Upstream unavailable: %s", errorType)
		return
	}
	defer resp.Body.Close()

	metrics.ProxyRequest(agent.Slug, req.Method, resp.StatusCode)
	if observed {
		p.emit(agent.Slug, v1.EventTypeChatMessageReceived, map[string]interface{}{
			"method":        req.Method,
			"path":          rest,
			"query_keys":    queryKeys,
			"is_ws_upgrade": false,
			"status_code":   resp.StatusCode,
		})
	}

	if req.Method == http.MethodGet && strings.HasPrefix(rest, "/avatar/") {
		p.writeAvatar(c, agent, resp)
		return
	}
	p.writeResponse(c, agent, resp)
}

// authorization renders the upstream Authorization header value. A token
// that already carries a bearer prefix is used verbatim.
func (p *Proxy) authorization(token string) string {
	if len(token) >= len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
		return token
	}
	return p.scheme + " " + token
}
