// Package progress bridges a blocking download's progress hook to a slow,
// asynchronous reporter such as a chat message editor.
//
// The download calls Hook on every progress event. Hook only stores the
// latest value. A single reporting goroutine polls that value and invokes the
// callback when the Throttle says a report is due.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Default tracker settings.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultThreshold   = 5.0
	DefaultStopTimeout = 2 * time.Second
)

// ErrStopTimeout is returned by Stop when the reporting loop had to be
// cancelled because it did not exit in time.
var ErrStopTimeout = errors.New("progress reporter did not stop in time")

// Status is the state carried by a progress event.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished"
)

// Event is a single progress observation from a download.
type Event struct {
	Status  Status
	Percent float64
}

// Callback reports a progress value. It may block on network I/O and should
// return promptly once ctx is done. A returned error means the value was not
// delivered and it will be offered again on the next tick.
type Callback func(ctx context.Context, percent float64) error

// Config holds tracker configuration.
type Config struct {
	Interval    time.Duration
	Threshold   float64
	StopTimeout time.Duration
}

// Tracker serves exactly one download.
type Tracker struct {
	cfg      Config
	callback Callback
	logger   *slog.Logger

	percent     atomic.Uint64 // float64 bits
	downloading atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTracker creates a tracker. A nil callback yields a tracker whose Hook
// still records progress but which never reports.
func NewTracker(cfg Config, callback Callback, logger *slog.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		cfg:      cfg,
		callback: callback,
		logger:   logger,
	}
	t.downloading.Store(true)
	return t
}

// Hook records a progress event. It never blocks and is safe to call from
// the download goroutine.
func (t *Tracker) Hook(e Event) {
	switch e.Status {
	case StatusFinished:
		t.setPercent(100)
		t.downloading.Store(false)
	default:
		t.setPercent(e.Percent)
	}
}

// Percent returns the most recently recorded value.
func (t *Tracker) Percent() float64 {
	return math.Float64frombits(t.percent.Load())
}

// Downloading reports whether the download is still in progress.
func (t *Tracker) Downloading() bool {
	return t.downloading.Load()
}

func (t *Tracker) setPercent(p float64) {
	t.percent.Store(math.Float64bits(p))
}

// Start launches the reporting loop. The loop ends when the download
// finishes, when Stop is called, or when ctx is cancelled. Cancelling ctx is
// how a user-initiated cancel silences further reports.
func (t *Tracker) Start(ctx context.Context) {
	if t.callback == nil {
		return
	}
	t.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		t.done = make(chan struct{})
		go t.run(loopCtx)
	})
}

// Stop marks the download finished and waits for the reporting loop to exit.
// If the loop is still running after the stop timeout it is cancelled, and
// Stop waits for it to return before reporting ErrStopTimeout.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() {
		t.downloading.Store(false)
		// Start and Stop are called from the same goroutine.
		if t.done == nil {
			return
		}

		timer := time.NewTimer(t.cfg.StopTimeout)
		defer timer.Stop()

		select {
		case <-t.done:
			t.cancel()
		case <-timer.C:
			t.cancel()
			<-t.done
			t.logger.Warn("progress reporter force-cancelled", "timeout", t.cfg.StopTimeout)
			t.stopErr = ErrStopTimeout
		}
	})
	return t.stopErr
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	throttle := NewThrottle(t.cfg.Threshold)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Read the flag before the value so a final value written by Hook
		// is seen on this tick.
		downloading := t.downloading.Load()

		if p, due := throttle.Due(t.Percent()); due {
			if err := t.callback(ctx, p); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Warn("progress report failed", "percent", p, "error", err)
			} else {
				throttle.Mark(p)
			}
		}

		if !downloading {
			return
		}
	}
}
