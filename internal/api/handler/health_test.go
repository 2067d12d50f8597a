package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/clipgrab/internal/history"
	"github.com/iconidentify/clipgrab/internal/registry"
)

func TestHealthHandler_Live(t *testing.T) {
	handler := NewHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.Live(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", body, `{"status":"ok"}`)
	}
}

type stubRegistry struct{ stats registry.Stats }

func (s stubRegistry) Stats() registry.Stats { return s.stats }

type stubWorkspace struct{}

func (stubWorkspace) Usage() (int64, int) { return 300, 3 }
func (stubWorkspace) FreeBytes() int64    { return 1 << 30 }

type stubHistory struct {
	records []history.Record
	summary history.Summary
	err     error
	limit   int
}

func (s *stubHistory) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	s.limit = limit
	return s.records, s.err
}

func (s *stubHistory) Summary(ctx context.Context) (history.Summary, error) {
	return s.summary, s.err
}

func TestAdminHandler_Stats(t *testing.T) {
	hist := &stubHistory{summary: history.Summary{Registered: 7, Consumed: 4}}
	handler := NewAdminHandler(stubRegistry{registry.Stats{Active: 2, Consumed: 1, TotalBytes: 500}}, stubWorkspace{}, hist, testLogger())

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.HostedActive != 2 || resp.HostedConsumed != 1 || resp.HostedBytes != 500 {
		t.Errorf("hosted stats = %+v", resp)
	}
	if resp.TempFiles != 3 || resp.TempBytes != 300 {
		t.Errorf("temp stats = %d files, %d bytes", resp.TempFiles, resp.TempBytes)
	}
	if resp.History == nil || resp.History.Registered != 7 {
		t.Errorf("history summary = %+v", resp.History)
	}
}

func TestAdminHandler_StatsWithoutHistory(t *testing.T) {
	handler := NewAdminHandler(stubRegistry{}, stubWorkspace{}, nil, testLogger())

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	var resp StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.History != nil {
		t.Error("history should be omitted when disabled")
	}
}

func TestAdminHandler_History(t *testing.T) {
	tests := []struct {
		name       string
		hist       *stubHistory
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", hist: &stubHistory{}, wantStatus: http.StatusOK, wantLimit: 0},
		{name: "explicit limit", hist: &stubHistory{}, query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{name: "bad limit", hist: &stubHistory{}, query: "?limit=x", wantStatus: http.StatusBadRequest},
		{name: "store error", hist: &stubHistory{err: errors.New("disk I/O error")}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAdminHandler(stubRegistry{}, stubWorkspace{}, tt.hist, testLogger())

			w := httptest.NewRecorder()
			handler.History(w, httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && tt.hist.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", tt.hist.limit, tt.wantLimit)
			}
		})
	}
}

func TestAdminHandler_HistoryDisabled(t *testing.T) {
	handler := NewAdminHandler(stubRegistry{}, stubWorkspace{}, nil, testLogger())

	w := httptest.NewRecorder()
	handler.History(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    string
		want string
	}{
		{"5m", "5m"},
		{"2h30m", "2h 30m"},
		{"50h", "2d 2h 0m"},
	}
	for _, tt := range tests {
		d, _ := time.ParseDuration(tt.d)
		if got := formatUptime(d); got != tt.want {
			t.Errorf("formatUptime(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
