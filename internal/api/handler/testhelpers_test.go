package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/registry"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withToken attaches a chi route context carrying the token URL param.
func withToken(req *http.Request, token string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("token", token)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture is a registry with one hosted file on disk.
type fixture struct {
	reg     *registry.Registry
	clock   *testClock
	handler *DeliveryHandler
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	reg := registry.New(registry.WithClock(clock.Now), registry.WithLogger(testLogger()))
	return &fixture{
		reg:     reg,
		clock:   clock,
		handler: NewDeliveryHandler(reg, testLogger()),
		dir:     t.TempDir(),
	}
}

// host writes content to disk and registers it.
func (f *fixture) host(t *testing.T, name string, content []byte, ct domain.ContentType, audioToken string) (string, string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	token := f.reg.Register(path, name, int64(len(content)), ct, 30*time.Minute, audioToken)
	return token, path
}

func (f *fixture) serve(h http.HandlerFunc, path, token string) *httptest.ResponseRecorder {
	req := withToken(httptest.NewRequest(http.MethodGet, path+token, nil), token)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// failingWriter accepts limit body bytes and then fails every write, like a
// client that disconnected mid-transfer.
type failingWriter struct {
	header  http.Header
	status  int
	limit   int
	written int
}

var errClientGone = errors.New("write: broken pipe")

func newFailingWriter(limit int) *failingWriter {
	return &failingWriter{header: make(http.Header), limit: limit}
}

func (w *failingWriter) Header() http.Header { return w.header }

func (w *failingWriter) WriteHeader(code int) { w.status = code }

func (w *failingWriter) Write(b []byte) (int, error) {
	room := w.limit - w.written
	if room <= 0 {
		return 0, errClientGone
	}
	if len(b) > room {
		w.written += room
		return room, errClientGone
	}
	w.written += len(b)
	return len(b), nil
}

// content returns deterministic bytes of length n.
func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
