// Package metrics defines the Prometheus collectors of the bot and the
// helpers that record into them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/registry"
)

const namespace = "clipgrab"

var (
	botInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bot_info",
		Help:      "Bot build information.",
	}, []string{"version", "environment"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Total number of downloads.",
	}, []string{"platform", "content_type", "status"})

	downloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Download duration in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"platform", "content_type"})

	fileSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "file_size_bytes",
		Help:      "Downloaded file sizes in bytes.",
		Buckets:   []float64{1e6, 5e6, 10e6, 25e6, 50e6, 100e6, 250e6, 500e6},
	}, []string{"platform", "content_type"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Completed downloads by delivery mode.",
	}, []string{"platform", "delivery"})

	activeUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_users",
		Help:      "Number of users seen within the throttle window.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of bot requests.",
	}, []string{"handler", "status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of errors.",
	}, []string{"platform", "error_type"})

	processingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_processing_seconds",
		Help:      "Message processing time in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"handler"})

	hostedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hosted_files",
		Help:      "Files currently registered for web download.",
	})

	hostedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hosted_bytes",
		Help:      "Bytes held by files registered for web download and not yet consumed.",
	})

	hostedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hosted_file_events_total",
		Help:      "Lifecycle transitions of hosted files.",
	}, []string{"event", "content_type"})
)

// SetBotInfo publishes build information.
func SetBotInfo(version, environment string) {
	botInfo.WithLabelValues(version, environment).Set(1)
}

// RecordDownload records the outcome of a download. Duration and size are
// only observed for successful downloads.
func RecordDownload(platform domain.Platform, contentType domain.ContentType, success bool, duration time.Duration, fileSize int64) {
	status := "success"
	if !success {
		status = "failed"
	}
	downloadsTotal.WithLabelValues(platform.String(), string(contentType), status).Inc()

	if success {
		downloadDuration.WithLabelValues(platform.String(), string(contentType)).Observe(duration.Seconds())
		fileSizeBytes.WithLabelValues(platform.String(), string(contentType)).Observe(float64(fileSize))
	}
}

// RecordDelivery counts a completed delivery by mode.
func RecordDelivery(platform domain.Platform, delivery domain.Delivery) {
	deliveriesTotal.WithLabelValues(platform.String(), string(delivery)).Inc()
}

// RecordRequest counts a handled bot update.
func RecordRequest(handler string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	requestsTotal.WithLabelValues(handler, status).Inc()
}

// RecordError counts an error by its class.
func RecordError(platform domain.Platform, errorType string) {
	errorsTotal.WithLabelValues(platform.String(), errorType).Inc()
}

// RecordProcessingTime observes how long a handler took.
func RecordProcessingTime(handler string, d time.Duration) {
	processingTime.WithLabelValues(handler).Observe(d.Seconds())
}

// SetActiveUsers sets the active users gauge.
func SetActiveUsers(n int) {
	activeUsers.Set(float64(n))
}

// ErrorType classifies err into a low-cardinality label.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrMetadataTimeout):
		return "metadata_timeout"
	case errors.Is(err, domain.ErrMetadataFailed):
		return "metadata_failed"
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrTooLarge):
		return "too_large"
	case errors.Is(err, domain.ErrInsufficientStorage):
		return "insufficient_storage"
	case errors.Is(err, domain.ErrNoAudioTrack):
		return "no_audio"
	case errors.Is(err, domain.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	case errors.Is(err, domain.ErrUnsupportedURL):
		return "unsupported_url"
	case errors.Is(err, domain.ErrURLExpired):
		return "url_expired"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoOutput), errors.Is(err, domain.ErrDownloadFailed):
		return "download_failed"
	}
	return "other"
}

// PoolStats is the view of a worker pool exported as gauges.
type PoolStats interface {
	Busy() int
	Queued() int
}

// RegisterWorkerPool exports the busy and queued job counts of pool. It
// must be called once per process.
func RegisterWorkerPool(pool PoolStats) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_busy",
		Help:      "Jobs currently running on the worker pool.",
	}, func() float64 { return float64(pool.Busy()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queued",
		Help:      "Jobs waiting for a worker.",
	}, func() float64 { return float64(pool.Queued()) })
}

// HostedFiles mirrors registry lifecycle events into gauges and counters.
type HostedFiles struct{}

// OnFileEvent implements registry.Observer.
func (HostedFiles) OnFileEvent(event registry.Event, entry domain.FileEntry) {
	hostedEventsTotal.WithLabelValues(string(event), string(entry.ContentType)).Inc()

	switch event {
	case registry.EventRegistered:
		hostedFiles.Inc()
		hostedBytes.Add(float64(entry.FileSize))
	case registry.EventConsumed:
		hostedBytes.Sub(float64(entry.FileSize))
	case registry.EventExpired:
		hostedFiles.Dec()
		if !entry.Consumed {
			hostedBytes.Sub(float64(entry.FileSize))
		}
	}
}

// Server exposes /metrics on its own listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background. Listen errors are logged, not fatal.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server started", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
