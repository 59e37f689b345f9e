package chatproxy

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/missionctl/missionctl/internal/agents"
	"github.com/missionctl/missionctl/internal/metrics"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

var bridgeUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The upstream gateway enforces its own auth on the dial.
		return true
	},
}

// bridge runs one WebSocket session between the browser and the agent's
// gateway: client frames go upstream with auth merged in, upstream frames
// come back with avatar URLs pulled under the proxy prefix.
func (p *Proxy) bridge(c *gin.Context, agent *agents.Agent, rest string) {
	queryKeys := sortedQueryKeys(c.Request.URL.Query())

	client, err := bridgeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.logger.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("agent", agent.Slug))
		return
	}
	defer client.Close()

	p.emit(agent.Slug, v1.EventTypeChatMessageSent, map[string]interface{}{
		"method":         c.Request.Method,
		"path":           rest,
		"query_keys":     queryKeys,
		"is_ws_upgrade":  true,
		"content_length": c.Request.ContentLength,
	})

	upstreamURL := wsBase(agent.Upstream) + rest
	if c.Request.URL.RawQuery != "" {
		upstreamURL += "?" + c.Request.URL.RawQuery
	}

	header := http.Header{}
	if agent.Token != "" {
		header.Set("Authorization", p.authorization(agent.Token))
	}
	if origin := c.GetHeader("Origin"); origin != "" {
		header.Set("Origin", normalizeOrigin(origin))
	}

	upstream, resp, err := p.dialer.DialContext(c.Request.Context(), upstreamURL, header)
	if err != nil {
		errorType := classifyTransportError(err)
		metrics.ProxyUpstreamError(agent.Slug, errorType)
		p.emit(agent.Slug, v1.EventTypeChatProxyError, map[string]interface{}{
			"method":     c.Request.Method,
			"path":       rest,
			"query_keys": queryKeys,
			"error_type": errorType,
		})
		p.logger.Warn("upstream dial failed",
			zap.String("agent", agent.Slug),
			zap.String("error_type", errorType),
			zap.Error(err))
		closeConn(client, gorillaws.CloseInternalServerErr, "upstream unavailable: "+errorType)
		return
	}
	defer upstream.Close()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	metrics.ProxyWebsocketOpened()
	defer metrics.ProxyWebsocketClosed()

	p.emit(agent.Slug, v1.EventTypeChatMessageReceived, map[string]interface{}{
		"method":        c.Request.Method,
		"path":          rest,
		"query_keys":    queryKeys,
		"is_ws_upgrade": true,
		"status_code":   http.StatusSwitchingProtocols,
	})

	token := agent.Token
	prefix := "/chat/" + agent.Slug

	var g errgroup.Group
	g.Go(func() error {
		return relay(client, upstream, func(frame []byte) []byte {
			return mergeConnectAuth(frame, token)
		})
	})
	g.Go(func() error {
		return relay(upstream, client, func(frame []byte) []byte {
			return rewriteAvatarURLs(frame, prefix)
		})
	})
	if err := g.Wait(); err != nil {
		p.logger.Debug("chat bridge ended",
			zap.String("agent", agent.Slug),
			zap.Error(err))
	}
}

// relay pumps frames src to dst until either side fails. The close reason is
// propagated so the surviving peer learns why its counterpart went away,
// which also unblocks the opposite pump's read. Only text frames are
// rewritten; binary passes through untouched.
func relay(src, dst *gorillaws.Conn, rewrite func([]byte) []byte) error {
	for {
		msgType, frame, err := src.ReadMessage()
		if err != nil {
			propagateClose(dst, err)
			if isExpectedClose(err) {
				return nil
			}
			return err
		}
		if msgType == gorillaws.TextMessage && rewrite != nil {
			frame = rewrite(frame)
		}
		_ = dst.SetWriteDeadline(time.Now().Add(writeWait))
		if err := dst.WriteMessage(msgType, frame); err != nil {
			// Unblock the opposite pump.
			_ = src.Close()
			return err
		}
	}
}

// isExpectedClose reports whether err is a clean shutdown: a normal close
// frame from the peer, or this side's socket already torn down by the
// opposite pump.
func isExpectedClose(err error) bool {
	return gorillaws.IsCloseError(err,
		gorillaws.CloseNormalClosure,
		gorillaws.CloseGoingAway,
		gorillaws.CloseNoStatusReceived,
	) || errors.Is(err, net.ErrClosed)
}

// propagateClose tells dst why the other side went away: normal closes stay
// normal, everything else becomes 1011 with the error text as reason.
func propagateClose(dst *gorillaws.Conn, err error) {
	if isExpectedClose(err) {
		closeConn(dst, gorillaws.CloseNormalClosure, "")
		return
	}
	closeConn(dst, gorillaws.CloseInternalServerErr, err.Error())
}

// closeConn sends a close frame and tears the socket down. Reasons are capped
// at 123 bytes, the most a control frame payload can carry.
func closeConn(conn *gorillaws.Conn, code int, reason string) {
	if len(reason) > 123 {
		reason = reason[:123]
	}
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// wsBase converts the upstream HTTP base into its WebSocket form.
func wsBase(upstream string) string {
	switch {
	case strings.HasPrefix(upstream, "https://"):
		return "wss://" + strings.TrimPrefix(upstream, "https://")
	case strings.HasPrefix(upstream, "http://"):
		return "ws://" + strings.TrimPrefix(upstream, "http://")
	}
	return upstream
}

// normalizeOrigin rewrites 127.0.0.1 origins to localhost; gateways tend to
// pin their allow-list to the hostname form.
func normalizeOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() != "127.0.0.1" {
		return origin
	}
	if port := u.Port(); port != "" {
		u.Host = "localhost:" + port
	} else {
		u.Host = "localhost"
	}
	return u.String()
}
