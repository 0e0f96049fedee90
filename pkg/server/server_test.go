package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browser-api/pkg/browser/browsertest"
	"github.com/entrhq/browser-api/pkg/config"
	"github.com/entrhq/browser-api/pkg/metrics"
	"github.com/entrhq/browser-api/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSites = map[string]browsertest.Site{
	"https://example.com": {
		Title: "Example Domain",
		HTML: `<html><head><title>Example Domain</title><script>track()</script></head>` +
			`<body><h1>Example Domain</h1><p>More <a href="https://www.iana.org">information</a></p></body></html>`,
		Elements: map[string]string{
			"h1":     "Example Domain",
			"a":      "More information...",
			"button": "Submit",
		},
	},
	"https://example.org": {Title: "Example Org"},
}

type testEnv struct {
	server   *Server
	engine   *browsertest.Engine
	registry *session.Registry
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	engine := browsertest.New(testSites)
	m := metrics.New()
	registry := session.NewRegistry(engine, session.Options{
		Launch:      cfg.LaunchOptions(),
		MaxSessions: cfg.Browser.MaxSessions,
		Observer:    m,
	})

	srv, err := New(cfg, registry, WithMetrics(m))
	require.NoError(t, err)
	srv.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	return &testEnv{server: srv, engine: engine, registry: registry, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, path, body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, message, decode[ErrorResponse](t, rec).Error)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{
		Status:         "ok",
		Service:        config.DefaultServiceName,
		Timestamp:      "2024-03-01T12:30:00.000Z",
		ActiveBrowsers: 0,
	}, decode[HealthResponse](t, rec))

	env.post(t, "/browser/launch", `{"sessionId":"a"}`)
	env.post(t, "/browser/launch", `{"sessionId":"b"}`)

	rec = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, 2, decode[HealthResponse](t, rec).ActiveBrowsers)
}

func TestTools(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	for _, tool := range decode[ToolsResponse](t, rec).Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"launch_browser", "navigate", "get_content", "click", "screenshot", "close"}, names)
}

func TestLaunch(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, "/browser/launch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LaunchResponse{Success: true, Message: "Browser launched", SessionID: "default"},
		decode[LaunchResponse](t, rec))

	rec = env.post(t, "/browser/launch", `{}`)
	assertError(t, rec, http.StatusBadRequest, "Session exists")
	rec = env.post(t, "/browser/launch", `{"sessionId":""}`)
	assertError(t, rec, http.StatusBadRequest, "Session exists")
	assert.Equal(t, 1, env.engine.Launches())

	launched := env.engine.Browsers()[0]
	assert.True(t, launched.Options.Headless)
	assert.Contains(t, launched.Options.Args, "--no-sandbox")
}

func TestLaunchEngineFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.LaunchErr = errors.New("browserType.launch: Executable doesn't exist")

	rec := env.post(t, "/browser/launch", `{"sessionId":"s1"}`)
	assertError(t, rec, http.StatusInternalServerError, "browserType.launch: Executable doesn't exist")
	assert.Equal(t, 0, env.registry.Count())
}

func TestLaunchSessionLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Browser.MaxSessions = 1 })

	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{"sessionId":"a"}`).Code)
	rec := env.post(t, "/browser/launch", `{"sessionId":"b"}`)
	assertError(t, rec, http.StatusBadRequest, "Session limit reached")
}

func TestConcurrentDuplicateLaunch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.LaunchDelay = 20 * time.Millisecond

	const n = 6
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.post(t, "/browser/launch", `{"sessionId":"dup"}`).Code
		}(i)
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusBadRequest:
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, 1, env.engine.Launches())
}

func TestNavigate(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{"sessionId":"s1"}`).Code)

	rec := env.post(t, "/browser/navigate", `{"sessionId":"s1","url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, NavigateResponse{Success: true, Title: "Example Domain", URL: "https://example.com"},
		decode[NavigateResponse](t, rec))

	rec = env.post(t, "/browser/navigate", `{"sessionId":"s1","pageId":"page1","url":"https://example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Example Org", decode[NavigateResponse](t, rec).Title)

	pages := env.engine.Browsers()[0].Pages()
	require.Len(t, pages, 1, "same pageId must reuse the page")
	assert.Equal(t, []string{"https://example.com", "https://example.org"}, pages[0].History())

	rec = env.post(t, "/browser/navigate", `{"sessionId":"s1","pageId":"other","url":"https://example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.engine.Browsers()[0].Pages(), 2)
}

func TestNavigateErrors(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Policy.DeniedHosts = []string{"localhost", "169.254.*.*"}
	})

	rec := env.post(t, "/browser/navigate", `{"sessionId":"ghost","url":"https://example.com"}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")

	rec = env.post(t, "/browser/navigate", `{}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")

	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)

	rec = env.post(t, "/browser/navigate", `{}`)
	assertError(t, rec, http.StatusBadRequest, "url is required")

	rec = env.post(t, "/browser/navigate", `{"url":"http://169.254.169.254/latest/meta-data"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "169.254.169.254 is not allowed")

	assert.Empty(t, env.engine.Browsers()[0].Pages(), "rejected navigations must not open pages")

	env.engine.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	rec = env.post(t, "/browser/navigate", `{"url":"https://nowhere.invalid"}`)
	assertError(t, rec, http.StatusInternalServerError, "navigation failed: net::ERR_NAME_NOT_RESOLVED")
	assert.Len(t, env.engine.Browsers()[0].Pages(), 1, "a failed navigation keeps its page")
}

func TestGetContent(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)

	rec := env.post(t, "/browser/get-content", `{}`)
	assertError(t, rec, http.StatusNotFound, "Page not found")

	require.Equal(t, http.StatusOK, env.post(t, "/browser/navigate", `{"url":"https://example.com"}`).Code)

	rec = env.post(t, "/browser/get-content", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testSites["https://example.com"].HTML, decode[ContentResponse](t, rec).Content)

	rec = env.post(t, "/browser/get-content", `{"selector":"h1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Example Domain", decode[ContentResponse](t, rec).Content)

	rec = env.post(t, "/browser/get-content", `{"selector":"#missing"}`)
	assertError(t, rec, http.StatusInternalServerError, "no element found matching selector: #missing")

	rec = env.post(t, "/browser/get-content", `{"format":"clean"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cleaned := decode[ContentResponse](t, rec)
	assert.Equal(t, "Example Domain", cleaned.Title)
	assert.Contains(t, cleaned.Content, "<h1>")
	assert.Contains(t, cleaned.Content, "Example Domain")
	assert.NotContains(t, cleaned.Content, "track()")

	rec = env.post(t, "/browser/get-content", `{"format":"pdf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, "/browser/get-content", `{"selector":"h1","format":"clean"}`)
	assertError(t, rec, http.StatusBadRequest, `format "clean" cannot be combined with selector`)

	rec = env.post(t, "/browser/get-content", `{"selector":"h1","format":"html"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.post(t, "/browser/get-content", `{"sessionId":"ghost"}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")
}

func TestClick(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)

	rec := env.post(t, "/browser/click", `{"selector":"button"}`)
	assertError(t, rec, http.StatusNotFound, "Page not found")

	require.Equal(t, http.StatusOK, env.post(t, "/browser/navigate", `{"url":"https://example.com"}`).Code)

	rec = env.post(t, "/browser/click", `{}`)
	assertError(t, rec, http.StatusBadRequest, "selector is required")

	rec = env.post(t, "/browser/click", `{"selector":"button"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MessageResponse{Success: true, Message: "Clicked"}, decode[MessageResponse](t, rec))

	env.engine.SettleErr = errors.New("Timeout 5000ms exceeded")
	rec = env.post(t, "/browser/click", `{"selector":"a"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "settle timeout after click is not an error")

	rec = env.post(t, "/browser/click", `{"selector":".nope"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	page := env.engine.Browsers()[0].Pages()[0]
	assert.Equal(t, []string{"button", "a"}, page.Clicks())
}

func TestScreenshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.Screenshot = []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	rec := env.post(t, "/browser/screenshot", `{}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")

	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/navigate", `{"url":"https://example.com"}`).Code)

	rec = env.post(t, "/browser/screenshot", `{"fullPage":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ScreenshotResponse](t, rec)
	assert.True(t, resp.Success)

	image, err := base64.StdEncoding.DecodeString(resp.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, env.engine.Screenshot, image)
}

func TestClose(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, "/browser/close", `{}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")

	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{"sessionId":"s1"}`).Code)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/navigate", `{"sessionId":"s1","url":"https://example.com"}`).Code)

	rec = env.post(t, "/browser/close", `{"sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MessageResponse{Success: true, Message: "Browser closed"}, decode[MessageResponse](t, rec))
	assert.True(t, env.engine.Browsers()[0].Closed())

	rec = env.post(t, "/browser/close", `{"sessionId":"s1"}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")

	for _, path := range []string{"/browser/navigate", "/browser/get-content", "/browser/click", "/browser/screenshot"} {
		rec = env.post(t, path, `{"sessionId":"s1","url":"https://example.com","selector":"h1"}`)
		assertError(t, rec, http.StatusNotFound, "Session not found")
	}
}

func TestCloseFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/navigate", `{"url":"https://example.com"}`).Code)

	env.engine.CloseErr = errors.New("browser has disconnected")
	rec := env.post(t, "/browser/close", `{}`)
	assertError(t, rec, http.StatusInternalServerError, "failed to close page page1: browser has disconnected")
	assert.Equal(t, 1, env.registry.Count())

	rec = env.post(t, "/browser/get-content", `{"selector":"h1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Example Domain", decode[ContentResponse](t, rec).Content)

	rec = env.post(t, "/browser/launch", `{}`)
	assertError(t, rec, http.StatusBadRequest, "Session exists")

	env.engine.CloseErr = nil
	require.Equal(t, http.StatusOK, env.post(t, "/browser/close", `{}`).Code)
	assert.Equal(t, 0, env.registry.Count())
	assert.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)
}

// TestScenario walks a session through its whole lifecycle.
func TestScenario(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, "/browser/launch", `{"sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", decode[LaunchResponse](t, rec).SessionID)

	rec = env.post(t, "/browser/navigate", `{"sessionId":"s1","url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Example Domain", decode[NavigateResponse](t, rec).Title)

	rec = env.post(t, "/browser/screenshot", `{"sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[ScreenshotResponse](t, rec).Screenshot)

	rec = env.post(t, "/browser/close", `{"sessionId":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.post(t, "/browser/navigate", `{}`)
	assertError(t, rec, http.StatusNotFound, "Session not found")

	rec = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, 0, decode[HealthResponse](t, rec).ActiveBrowsers)
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())

	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{"sessionId":"s1"}`).Code)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/navigate", `{"sessionId":"s1","pageId":"main","url":"https://example.com"}`).Code)

	rec = env.do(t, http.MethodGet, "/sessions", "")
	sessions := decode[SessionsResponse](t, rec).Sessions
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, []string{"main"}, sessions[0].Pages)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.BodyLimit = 64 })

	rec := env.post(t, "/browser/launch", `{"sessionId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "Invalid JSON body")

	big := fmt.Sprintf(`{"sessionId":"%s"}`, strings.Repeat("x", 200))
	rec = env.post(t, "/browser/launch", big)
	assertError(t, rec, http.StatusBadRequest, "Request body too large")
	assert.Equal(t, 0, env.engine.Launches())

	rec = env.do(t, http.MethodGet, "/nowhere", "")
	assertError(t, rec, http.StatusNotFound, "Not found")

	rec = env.do(t, http.MethodGet, "/browser/launch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.post(t, "/browser/launch", `{}`).Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "browser_api_sessions_active 1")
	assert.Contains(t, body, `browser_api_http_requests_total{method="POST",route="/browser/launch",status_code="200"} 1`)
	assert.Contains(t, body, `browser_api_engine_operations_total{operation="launch",status="success"} 1`)

	disabled := newTestEnv(t, func(cfg *config.Config) { cfg.Server.MetricsEnabled = false })
	assert.Equal(t, http.StatusNotFound, disabled.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.AllowedHosts = []string{"[a-"}

	_, err := New(cfg, session.NewRegistry(browsertest.New(nil), session.Options{}))
	assert.Error(t, err)
}

func TestServeAndShutdown(t *testing.T) {
	env := newTestEnv(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.server.Serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
