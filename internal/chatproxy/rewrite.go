package chatproxy

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/agents"
)

// droppedRequestHeaders never reach the upstream. Host and Content-Length are
// rebuilt by the transport and Connection is hop-by-hop. Accept-Encoding is
// dropped so the transport negotiates gzip itself and hands back a decoded
// body the HTML rewriter can work on.
var droppedRequestHeaders = map[string]struct{}{
	"Host":            {},
	"Content-Length":  {},
	"Connection":      {},
	"Accept-Encoding": {},
}

// strippedResponseHeaders are removed from every proxied response. Length and
// encoding no longer match once bodies are rewritten; the frame and CSP
// headers would stop the dashboard from embedding the chat UI under the
// proxy's origin.
var strippedResponseHeaders = map[string]struct{}{
	"Content-Length":          {},
	"Transfer-Encoding":       {},
	"Content-Encoding":        {},
	"Connection":              {},
	"X-Frame-Options":         {},
	"Content-Security-Policy": {},
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, drop := droppedRequestHeaders[http.CanonicalHeaderKey(key)]; drop {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// filterResponseHeaders copies upstream headers onto the response, dropping
// the stripped set and pulling Location back under the proxy prefix.
func filterResponseHeaders(c *gin.Context, agent *agents.Agent, resp *http.Response) {
	header := c.Writer.Header()
	for key, values := range resp.Header {
		if _, strip := strippedResponseHeaders[http.CanonicalHeaderKey(key)]; strip {
			continue
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}
	if location := resp.Header.Get("Location"); location != "" {
		header.Set("Location", rewriteLocation(location, agent))
	}
}

// rewriteLocation keeps redirects inside the proxy prefix. Absolute URLs on
// the upstream base keep their remainder, host-relative ones get the prefix
// prepended, and anything else passes through.
func rewriteLocation(location string, agent *agents.Agent) string {
	prefix := "/chat/" + agent.Slug
	if strings.HasPrefix(location, agent.Upstream) {
		return prefix + strings.TrimPrefix(location, agent.Upstream)
	}
	if strings.HasPrefix(location, "/") {
		return prefix + location
	}
	return location
}

// writeResponse copies the upstream response back, filtering headers and
// patching HTML documents on the way through.
func (p *Proxy) writeResponse(c *gin.Context, agent *agents.Agent, resp *http.Response) {
	filterResponseHeaders(c, agent, resp)

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			p.logger.Warn("failed to read upstream HTML body",
				zap.Error(err),
				zap.String("agent", agent.Slug))
			c.Status(http.StatusBadGateway)
			return
		}
		c.Writer.WriteHeader(resp.StatusCode)
		_, _ = c.Writer.Write(injectBootstrap(body, agent))
		return
	}

	c.Writer.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		p.logger.Debug("response copy interrupted",
			zap.Error(err),
			zap.String("agent", agent.Slug))
	}
}
