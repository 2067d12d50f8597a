package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/iconidentify/clipgrab/internal/history"
	"github.com/iconidentify/clipgrab/internal/registry"
)

var startTime = time.Now()

// HealthHandler handles GET /health.
type HealthHandler struct{}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// RegistryStats reports the live registry state.
type RegistryStats interface {
	Stats() registry.Stats
}

// WorkspaceStats reports temp directory usage.
type WorkspaceStats interface {
	Usage() (int64, int)
	FreeBytes() int64
}

// HistoryReader reads the hosted-file history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Summary(ctx context.Context) (history.Summary, error)
}

// AdminHandler serves operator endpoints under /api/v1.
type AdminHandler struct {
	registry  RegistryStats
	workspace WorkspaceStats
	history   HistoryReader // nil when history is disabled
	logger    *slog.Logger
}

// NewAdminHandler creates a new admin handler. history may be nil.
func NewAdminHandler(reg RegistryStats, ws WorkspaceStats, hist HistoryReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry:  reg,
		workspace: ws,
		history:   hist,
		logger:    logger,
	}
}

// StatsResponse is the JSON response of GET /api/v1/stats.
type StatsResponse struct {
	UptimeSeconds  int64            `json:"uptime_seconds"`
	UptimeHuman    string           `json:"uptime_human"`
	MemAllocMB     int64            `json:"mem_alloc_mb"`
	NumGoroutines  int              `json:"num_goroutines"`
	HostedActive   int              `json:"hosted_active"`
	HostedConsumed int              `json:"hosted_consumed"`
	HostedBytes    int64            `json:"hosted_bytes"`
	TempBytes      int64            `json:"temp_bytes"`
	TempFiles      int              `json:"temp_files"`
	DiskFreeBytes  int64            `json:"disk_free_bytes"`
	History        *history.Summary `json:"history,omitempty"`
}

// Stats handles GET /api/v1/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)
	rs := h.registry.Stats()
	tempBytes, tempFiles := h.workspace.Usage()

	resp := StatsResponse{
		UptimeSeconds:  int64(uptime.Seconds()),
		UptimeHuman:    formatUptime(uptime),
		MemAllocMB:     int64(m.Alloc / 1024 / 1024),
		NumGoroutines:  runtime.NumGoroutine(),
		HostedActive:   rs.Active,
		HostedConsumed: rs.Consumed,
		HostedBytes:    rs.TotalBytes,
		TempBytes:      tempBytes,
		TempFiles:      tempFiles,
		DiskFreeBytes:  h.workspace.FreeBytes(),
	}

	if h.history != nil {
		sum, err := h.history.Summary(r.Context())
		if err != nil {
			h.logger.Warn("history summary failed", "error", err)
		} else {
			resp.History = &sum
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/v1/history?limit=N.
func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
