package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/download/0123456789abcdef0123456789abcdef", "/download/{token}"},
		{"/preview/abc", "/preview/{token}"},
		{"/files/abc", "/files/{token}"},
		{"/files/", "other"},
		{"/static/style.css", "/static/*"},
		{"/health", "/health"},
		{"/api/v1/stats", "/api/v1/stats"},
		{"/wp-login.php", "other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/files/0123456789abcdef", "/files/01234567..."},
		{"/download/short", "/download/short"},
		{"/health", "/health"},
	}

	for _, tt := range tests {
		if got := redactPath(tt.path); got != tt.want {
			t.Errorf("redactPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLoggerAndMetricsPassThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte("gone"))
	})
	handler := Logger(Metrics(inner))

	req := httptest.NewRequest(http.MethodGet, "/files/abcdef0123456789", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGone)
	}
	if w.Body.String() != "gone" {
		t.Errorf("body = %q, want %q", w.Body.String(), "gone")
	}
}

func TestResponseWriterUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}

	if err := http.NewResponseController(rw).Flush(); err != nil {
		t.Errorf("Flush through wrapper error = %v", err)
	}
}
