// Package worker runs blocking jobs such as downloads and transcodes on a
// fixed set of goroutines so chat handling never waits on them directly.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Config holds worker pool configuration.
type Config struct {
	Workers   int
	QueueSize int
}

type task struct {
	name   string
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Pool manages a pool of workers for blocking jobs.
type Pool struct {
	workers int
	queue   chan task
	logger  *slog.Logger

	busy atomic.Int32

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers: cfg.Workers,
		queue:   make(chan task, cfg.QueueSize),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers, "queue_size", cap(p.queue))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop rejects new work, cancels running jobs and waits for the workers.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")

	// Cancel first so a Do blocked on a full queue releases its read lock.
	p.cancel()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// Do runs fn on a worker and waits for it. If ctx ends while the job is
// queued the job is skipped. Once started, fn owns cancellation through its
// ctx and Do waits for it to return so callers can clean up its output.
func (p *Pool) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	t := task{name: name, ctx: ctx, fn: fn, result: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return domain.ErrPoolClosed
	}
	// Holding the read lock while enqueueing keeps Stop from closing the
	// pool between the check and the send.
	select {
	case p.queue <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	case <-p.ctx.Done():
		p.mu.RUnlock()
		return domain.ErrPoolClosed
	}

	select {
	case err := <-t.result:
		return err
	case <-p.ctx.Done():
		// Running jobs see the pool context cancelled; give them a moment.
		select {
		case err := <-t.result:
			return err
		case <-time.After(time.Second):
			return domain.ErrPoolClosed
		}
	}
}

// Busy returns the number of jobs currently running.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping")
			return
		case t := <-p.queue:
			t.result <- p.run(logger, t)
		}
	}
}

func (p *Pool) run(logger *slog.Logger, t task) (err error) {
	if err := t.ctx.Err(); err != nil {
		logger.Debug("skipping job cancelled while queued", "job", t.name)
		return err
	}

	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	p.busy.Add(1)
	defer p.busy.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "job", t.name, "panic", r)
			err = fmt.Errorf("job %s panicked: %v", t.name, r)
		}
	}()

	start := time.Now()
	err = t.fn(ctx)
	logger.Debug("job finished", "job", t.name, "duration", time.Since(start), "error", err)
	return err
}
