package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lobisloby/Link-Preview-AI/internal/coordinator"
	"github.com/lobisloby/Link-Preview-AI/internal/handler"
	"github.com/lobisloby/Link-Preview-AI/internal/ratelimit"
	"github.com/lobisloby/Link-Preview-AI/internal/sse"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, msg coordinator.Message) (any, error) {
	return map[string]string{"type": msg.Type}, nil
}

func testRouter(t *testing.T, limiter *ratelimit.Limiter) http.Handler {
	t.Helper()
	hub := sse.NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return NewRouter(handler.New(echoDispatcher{}, limiter), sse.NewHandler(hub), limiter, []string{"chrome-extension://abcdef"})
}

func TestRouter_Health(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter(t, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("health = %d %q", w.Code, w.Body.String())
	}
}

func TestRouter_Messages(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"type":"GET_STATS"}`))
	testRouter(t, nil).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "GET_STATS" {
		t.Errorf("reply = %v", got)
	}
}

func TestRouter_MessagesRejectsGet(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter(t, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	r.Header.Set("Origin", "chrome-extension://abcdef")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	testRouter(t, nil).ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdef" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	r.Header.Set("Origin", "https://evil.example")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	testRouter(t, nil).ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestRouter_RateLimitedPerMessageType(t *testing.T) {
	limiter := ratelimit.NewLimiter(
		ratelimit.Rule{Kind: coordinator.TypeGetPreview, Limit: 1, Window: time.Minute},
		ratelimit.Rule{Kind: ratelimit.AnyKind, Limit: 10, Window: time.Minute},
	)
	router := testRouter(t, limiter)

	send := func(body string) int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
		r.RemoteAddr = "192.0.2.7:1234"
		router.ServeHTTP(w, r)
		return w.Code
	}
	preview := `{"type":"GET_PREVIEW","payload":"https://example.com"}`

	if code := send(preview); code != http.StatusOK {
		t.Fatalf("first preview status = %d", code)
	}
	if code := send(preview); code != http.StatusTooManyRequests {
		t.Errorf("second preview status = %d, want 429", code)
	}
	if code := send(`{"type":"CHECK_LIMIT"}`); code != http.StatusOK {
		t.Errorf("CHECK_LIMIT status = %d, want 200", code)
	}
}

func TestRouter_EventStreamConnectionsLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Rule{Kind: EventStreamKind, Limit: 1, Window: time.Minute})
	srv := httptest.NewServer(testRouter(t, limiter))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	connect := func() *http.Response {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	first := connect()
	defer first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first connection status = %d", first.StatusCode)
	}

	second := connect()
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second connection status = %d, want 429", second.StatusCode)
	}
}

func TestRouter_Events(t *testing.T) {
	srv := httptest.NewServer(testRouter(t, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}
