// Package main implements a mock agent gateway for developing the chat proxy
// against a local upstream. It serves the chat page with the bootstrap
// placeholder, a one-avatar asset set, a header echo, and a WebSocket that
// answers connect frames and echoes everything else. Point a missionctl
// instance at it with
//
//	MISSIONCTL_AGENT_UPSTREAMS="demo=http://127.0.0.1:18789"
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/common/logger"
)

const avatarSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64" viewBox="0 0 64 64">` +
	`<rect width="64" height="64" rx="32" fill="#2563eb"/>` +
	`<circle cx="32" cy="26" r="10" fill="#ffffff"/>` +
	`<path d="M14 54c0-10 8-16 18-16s18 6 18 16" fill="#ffffff"/>` +
	`</svg>`

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", "127.0.0.1:18789", "listen address")
	name := flag.String("name", "demo", "agent display name on the chat page")
	token := flag.String("token", "", "when set, connect frames must carry this token")
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	page := pageHTML(*name)
	router.GET("/avatar/:file", serveAvatar)
	router.GET("/headers", func(c *gin.Context) { c.JSON(http.StatusOK, c.Request.Header) })
	router.GET("/stream", serveStream(*token, log))
	// Everything else behaves like the gateway's single-page app.
	router.NoRoute(func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
	})

	log.Info("Mock gateway listening",
		zap.String("addr", *addr),
		zap.String("name", *name),
		zap.Bool("auth", *token != ""))
	if err := http.ListenAndServe(*addr, router); err != nil {
		log.Fatal("Mock gateway exited", zap.Error(err))
	}
}

func pageHTML(name string) string {
	return fmt.Sprintf(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>%s gateway</title>
<script>
window.__OPENCLAW__BASE_PATH__ = "";
window.__OPENCLAW__ASSISTANT_AVATAR__ = "/avatar/agent.svg";
</script>
</head>
<body>
<h1>%s</h1>
<img src="/avatar/agent.svg" alt="%s">
<p>Mock gateway up. WebSocket at /stream, header echo at /headers.</p>
</body>
</html>
`, name, name, name)
}

// serveAvatar answers metadata lookups for any file so the proxy's rewrite is
// observable, serves the one real asset, and 404s the rest to exercise the
// placeholder path.
func serveAvatar(c *gin.Context) {
	if c.Query("meta") == "1" {
		c.JSON(http.StatusOK, gin.H{"avatarUrl": "/avatar/" + c.Param("file")})
		return
	}
	if c.Param("file") != "agent.svg" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "no such avatar"})
		return
	}
	c.Data(http.StatusOK, "image/svg+xml", []byte(avatarSVG))
}

type connectFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params struct {
		Auth *struct {
			Token string `json:"token"`
		} `json:"auth"`
	} `json:"params"`
}

func serveStream(token string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("Upgrade failed", zap.Error(err))
			return
		}
		defer func() { _ = conn.Close() }()

		log.Debug("Client connected", zap.String("remote", conn.RemoteAddr().String()))
		for {
			kind, frame, err := conn.ReadMessage()
			if err != nil {
				log.Debug("Client gone", zap.Error(err))
				return
			}
			reply := frame
			if kind == gorillaws.TextMessage {
				if r := answerConnect(frame, token); r != nil {
					reply = r
				}
			}
			if err := conn.WriteMessage(kind, reply); err != nil {
				return
			}
		}
	}
}

// answerConnect builds a res frame for connect reqs; other frames return nil
// and are echoed by the caller.
func answerConnect(frame []byte, token string) []byte {
	var req connectFrame
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil
	}
	if req.Type != "req" || req.Method != "connect" {
		return nil
	}

	got := ""
	if req.Params.Auth != nil {
		got = req.Params.Auth.Token
	}
	ok := token == "" || got == token
	payload := map[string]interface{}{
		"authenticated": ok,
		"avatarUrl":     "/avatar/agent.svg",
	}
	if !ok {
		payload["error"] = "invalid token"
	}
	out, err := json.Marshal(map[string]interface{}{
		"type":    "res",
		"id":      req.ID,
		"ok":      ok,
		"payload": payload,
	})
	if err != nil {
		return nil
	}
	return out
}
