package chatproxy

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/agents"
)

// avatarPalette gives each slug a stable placeholder color.
var avatarPalette = []string{
	"#1abc9c", "#3498db", "#9b59b6", "#e67e22",
	"#e74c3c", "#16a085", "#2980b9", "#8e44ad",
}

// writeAvatar post-processes avatar responses: metadata lookups get their
// avatarUrl pulled under the proxy prefix, and upstream 404s become a
// generated placeholder so the UI never renders a broken image.
func (p *Proxy) writeAvatar(c *gin.Context, agent *agents.Agent, resp *http.Response) {
	if c.Query("meta") == "1" {
		p.writeAvatarMeta(c, agent, resp)
		return
	}
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.Data(http.StatusOK, "image/svg+xml", placeholderSVG(agent.Slug))
		return
	}
	p.writeResponse(c, agent, resp)
}

func (p *Proxy) writeAvatarMeta(c *gin.Context, agent *agents.Agent, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Warn("failed to read avatar metadata",
			zap.Error(err),
			zap.String("agent", agent.Slug))
		c.Status(http.StatusBadGateway)
		return
	}

	var meta map[string]interface{}
	if json.Unmarshal(body, &meta) == nil {
		if avatarURL, ok := meta["avatarUrl"].(string); ok && strings.HasPrefix(avatarURL, "/avatar/") {
			rewritten := "/chat/" + agent.Slug + avatarURL
			if query := c.Request.URL.RawQuery; query != "" {
				rewritten += "?" + query
			}
			meta["avatarUrl"] = rewritten
			if patched, err := json.Marshal(meta); err == nil {
				body = patched
			}
		}
	}

	filterResponseHeaders(c, agent, resp)
	c.Writer.Header().Set("Content-Type", "application/json")
	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = c.Writer.Write(body)
}

// placeholderSVG renders the fallback avatar: a slug-colored disc bearing the
// uppercase first rune of the slug.
func placeholderSVG(slug string) []byte {
	initial := "?"
	for _, r := range slug {
		initial = strings.ToUpper(string(r))
		break
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(slug))
	color := avatarPalette[int(h.Sum32()%uint32(len(avatarPalette)))]
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64" viewBox="0 0 64 64"><rect width="64" height="64" rx="32" fill="%s"/><text x="32" y="42" font-family="sans-serif" font-size="28" font-weight="600" fill="#fff" text-anchor="middle">%s</text></svg>`, color, initial)
	return []byte(svg)
}
