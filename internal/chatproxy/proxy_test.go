package chatproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionctl/missionctl/internal/agents"
	"github.com/missionctl/missionctl/internal/common/config"
	"github.com/missionctl/missionctl/internal/common/logger"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// recordingSink captures synthetic events instead of running the ingest
// pipeline.
type recordingSink struct {
	mu     sync.Mutex
	events []*v1.EventIn
}

func (s *recordingSink) Ingest(_ context.Context, in *v1.EventIn) (*v1.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, in)
	return &v1.Event{ID: "recorded", Type: in.Type}, nil
}

func (s *recordingSink) byType(eventType string) []*v1.EventIn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*v1.EventIn
	for _, ev := range s.events {
		if ev.Type == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

// newTestProxy mounts the proxy for one agent, "metrics", pointed at
// upstreamURL.
func newTestProxy(t *testing.T, upstreamURL, token string) (*recordingSink, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	directory, err := agents.Load(config.AgentsConfig{
		TokenMap:    "metrics=" + token,
		UpstreamMap: "metrics=" + upstreamURL,
	}, log)
	require.NoError(t, err)

	sink := &recordingSink{}
	proxy := NewProxy(directory, sink, "", log)

	router := gin.New()
	RegisterRoutes(router, proxy)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return sink, server
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestProxyUnknownSlug(t *testing.T) {
	_, server := newTestProxy(t, "http://127.0.0.1:1", "")

	resp, err := http.Get(server.URL + "/chat/ghost/api/ping")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"unknown agent: ghost"}`, readBody(t, resp))
}

func TestProxyForwardsAndInjectsAuth(t *testing.T) {
	var gotHeader http.Header
	var gotHost, gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotHost = r.Host
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("X-Upstream", "yes")
		_, _ = w.Write([]byte("pong"))
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "tok-secret")

	req, err := http.NewRequest(http.MethodGet, server.URL+"/chat/metrics/api/ping?b=2&a=1", nil)
	require.NoError(t, err)
	req.Header.Set("X-Custom", "carried")
	req.Header.Set("Accept-Encoding", "br")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", readBody(t, resp))
	assert.Equal(t, "/api/ping", gotPath)
	assert.Equal(t, "b=2&a=1", gotQuery)
	assert.Equal(t, "Bearer tok-secret", gotHeader.Get("Authorization"))
	assert.Equal(t, "carried", gotHeader.Get("X-Custom"))
	// The upstream sees its own host, and the browser's encoding preference
	// never survives the hop.
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), gotHost)
	assert.NotEqual(t, "br", gotHeader.Get("Accept-Encoding"))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
}

func TestProxyUsesVerbatimBearerToken(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "bearer already-prefixed")

	resp, err := http.Get(server.URL + "/chat/metrics/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "bearer already-prefixed", gotAuth)
}

func TestProxyStripsFrameHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Kept", "1")
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "")

	resp, err := http.Get(server.URL + "/chat/metrics/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, resp.Header.Get("X-Frame-Options"))
	assert.Empty(t, resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "1", resp.Header.Get("X-Kept"))
}

func TestProxyRewritesLocation(t *testing.T) {
	var base string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/absolute":
			w.Header().Set("Location", base+"/login")
		case "/relative":
			w.Header().Set("Location", "/login")
		case "/external":
			w.Header().Set("Location", "https://elsewhere.example/login")
		}
		w.WriteHeader(http.StatusFound)
	}))
	t.Cleanup(upstream.Close)
	base = upstream.URL

	_, server := newTestProxy(t, upstream.URL, "")
	client := noRedirectClient()

	for path, want := range map[string]string{
		"/absolute": "/chat/metrics/login",
		"/relative": "/chat/metrics/login",
		"/external": "https://elsewhere.example/login",
	} {
		resp, err := client.Get(server.URL + "/chat/metrics" + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, want, resp.Header.Get("Location"), "path %s", path)
	}
}

func TestProxyInjectsBootstrapScript(t *testing.T) {
	page := `<html><head><script>window.__OPENCLAW__BASE_PATH__ = "";</script></head><body></body></html>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "tok-secret")

	resp, err := http.Get(server.URL + "/chat/metrics/")
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.NotContains(t, body, basePathSentinel)
	assert.Contains(t, body, `window.__OPENCLAW__BASE_PATH__ = "/chat/metrics";`)
	assert.Contains(t, body, `window.location.origin + "/chat/metrics" + "/"`)
	assert.Contains(t, body, `"openclaw.settings"`)
	assert.Contains(t, body, `"tok-secret"`)
	assert.Contains(t, body, "MutationObserver")
}

func TestProxyLeavesPagesWithoutSentinelAlone(t *testing.T) {
	page := "<html><body>no sentinel here</body></html>"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "tok-secret")

	resp, err := http.Get(server.URL + "/chat/metrics/")
	require.NoError(t, err)

	assert.Equal(t, page, readBody(t, resp))
}

func TestProxyRewritesAvatarMetadata(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"avatarUrl":"/avatar/claw.png","name":"Claw"}`))
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "")

	resp, err := http.Get(server.URL + "/chat/metrics/avatar/claw.png?meta=1")
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"avatarUrl":"/chat/metrics/avatar/claw.png?meta=1","name":"Claw"}`, body)
}

func TestProxySynthesizesAvatarPlaceholder(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(upstream.Close)

	_, server := newTestProxy(t, upstream.URL, "")

	resp, err := http.Get(server.URL + "/chat/metrics/avatar/missing.png")
	require.NoError(t, err)
	first := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, first, "<svg")
	assert.Contains(t, first, ">M<")

	resp, err = http.Get(server.URL + "/chat/metrics/avatar/missing.png")
	require.NoError(t, err)
	assert.Equal(t, first, readBody(t, resp), "placeholder must be deterministic")
}

func TestProxyGetEmitsNoEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(upstream.Close)

	sink, server := newTestProxy(t, upstream.URL, "")

	resp, err := http.Get(server.URL + "/chat/metrics/api/status")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, sink.byType(v1.EventTypeChatMessageSent))
	assert.Empty(t, sink.byType(v1.EventTypeChatMessageReceived))
}

func TestProxyPostEmitsSentAndReceived(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(upstream.Close)

	sink, server := newTestProxy(t, upstream.URL, "")

	resp, err := http.Post(server.URL+"/chat/metrics/api/send?x=1&a=2", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "hello", gotBody)

	sent := sink.byType(v1.EventTypeChatMessageSent)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Agent)
	assert.Equal(t, "metrics", *sent[0].Agent)
	assert.Equal(t, "POST", sent[0].Payload["method"])
	assert.Equal(t, "/api/send", sent[0].Payload["path"])
	assert.Equal(t, []string{"a", "x"}, sent[0].Payload["query_keys"])
	assert.Equal(t, false, sent[0].Payload["is_ws_upgrade"])
	assert.EqualValues(t, 5, sent[0].Payload["content_length"])

	received := sink.byType(v1.EventTypeChatMessageReceived)
	require.Len(t, received, 1)
	assert.EqualValues(t, http.StatusCreated, received[0].Payload["status_code"])
}

func TestProxyMapsRefusedConnection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstreamURL := upstream.URL
	upstream.Close()

	sink, server := newTestProxy(t, upstreamURL, "")

	resp, err := http.Get(server.URL + "/chat/metrics/api/ping")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Upstream unavailable: connection_refused", readBody(t, resp))

	// Transport failures are recorded for every method, reads included.
	errs := sink.byType(v1.EventTypeChatProxyError)
	require.Len(t, errs, 1)
	assert.Equal(t, "connection_refused", errs[0].Payload["error_type"])
	assert.Empty(t, sink.byType(v1.EventTypeChatMessageSent))
}

func TestClassifyTransportError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	assert.Equal(t, "dns_error", classifyTransportError(&net.DNSError{Err: "no such host", Name: "nowhere"}))
	assert.Equal(t, "connection_refused", classifyTransportError(refused))
	assert.Equal(t, "timeout", classifyTransportError(context.DeadlineExceeded))
	assert.Equal(t, "transport_error", classifyTransportError(errors.New("boom")))
}

func TestPlaceholderSVGUsesFirstRune(t *testing.T) {
	svg := string(placeholderSVG("qa-bot"))
	assert.Contains(t, svg, ">Q<")
	assert.Equal(t, svg, string(placeholderSVG("qa-bot")))
}
