// Package registry tracks files hosted for a single web download.
//
// Every entry owns its backing file. The file is deleted exactly once: either
// when the entry is consumed by a completed download, or when the entry
// expires without having been consumed.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// DefaultCleanupInterval is how often Run sweeps expired entries.
const DefaultCleanupInterval = 5 * time.Minute

// Event identifies a lifecycle transition of a hosted file.
type Event string

const (
	EventRegistered Event = "registered"
	EventConsumed   Event = "consumed"
	EventExpired    Event = "expired"
)

// Observer is notified of lifecycle transitions. It is called outside the
// registry lock and must not call back into the registry.
type Observer interface {
	OnFileEvent(event Event, entry domain.FileEntry)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event Event, entry domain.FileEntry)

// OnFileEvent calls f.
func (f ObserverFunc) OnFileEvent(event Event, entry domain.FileEntry) {
	f(event, entry)
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Active     int
	Consumed   int
	TotalBytes int64
}

// Registry is an in-memory token store for hosted files.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*domain.FileEntry

	now       func() time.Time
	remove    func(string) error
	newToken  func() string
	observers []Observer
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*domain.FileEntry),
		now:      time.Now,
		remove:   os.Remove,
		newToken: newToken,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newToken returns 128 bits from a v4 UUID, hex encoded without dashes.
func newToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Register takes ownership of the file at filePath and returns the token
// that grants a single download of it. The file is not checked here.
func (r *Registry) Register(filePath, filename string, fileSize int64, contentType domain.ContentType, ttl time.Duration, audioToken string) string {
	now := r.now()
	entry := &domain.FileEntry{
		FilePath:    filePath,
		Filename:    filename,
		FileSize:    fileSize,
		ContentType: contentType,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		AudioToken:  audioToken,
	}

	r.mu.Lock()
	token := r.newToken()
	for {
		if _, taken := r.entries[token]; !taken {
			break
		}
		token = r.newToken()
	}
	entry.Token = token
	r.entries[token] = entry
	snapshot := *entry
	r.mu.Unlock()

	r.logger.Info("registered file for web hosting",
		"content_type", contentType,
		"filename", filename,
		"size_mb", float64(fileSize)/(1024*1024),
		"ttl", ttl,
		"token_prefix", domain.ShortToken(token),
	)
	r.notify(EventRegistered, snapshot)

	return token
}

// Get returns a copy of the entry for token. The second result is false when
// the token is unknown or expired. Consumed entries are returned; callers
// must inspect Consumed themselves.
func (r *Registry) Get(token string) (domain.FileEntry, bool) {
	now := r.now()

	r.mu.Lock()
	entry, ok := r.entries[token]
	if !ok {
		r.mu.Unlock()
		return domain.FileEntry{}, false
	}
	if entry.ExpiredAt(now) {
		delete(r.entries, token)
		snapshot := *entry
		r.mu.Unlock()
		r.expire(snapshot)
		return domain.FileEntry{}, false
	}
	snapshot := *entry
	r.mu.Unlock()

	return snapshot, true
}

// Consume marks the entry as downloaded and deletes its file. Calls on
// consumed, expired or unknown tokens are no-ops.
func (r *Registry) Consume(token string) {
	r.mu.Lock()
	entry, ok := r.entries[token]
	if !ok || entry.Consumed {
		r.mu.Unlock()
		return
	}
	entry.Consumed = true
	snapshot := *entry
	r.mu.Unlock()

	logger := r.logger.With("token_prefix", domain.ShortToken(token))
	if r.deleteFile(logger, snapshot.FilePath) {
		logger.Info("consumed and deleted hosted file", "filename", snapshot.Filename)
	}
	r.notify(EventConsumed, snapshot)
}

// CleanupExpired removes every expired entry, deleting the files of those
// not yet consumed. It returns the number of entries removed.
func (r *Registry) CleanupExpired() int {
	now := r.now()

	r.mu.Lock()
	var expired []domain.FileEntry
	for token, entry := range r.entries {
		if entry.ExpiredAt(now) {
			delete(r.entries, token)
			expired = append(expired, *entry)
		}
	}
	r.mu.Unlock()

	for _, entry := range expired {
		r.expire(entry)
	}
	if len(expired) > 0 {
		r.logger.Info("web file cleanup", "removed", len(expired))
	}
	return len(expired)
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupExpired()
		}
	}
}

// Stats summarizes the entries currently held.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	for _, entry := range r.entries {
		if entry.Consumed {
			s.Consumed++
			continue
		}
		s.Active++
		s.TotalBytes += entry.FileSize
	}
	return s
}

// expire finishes removal of an entry already taken out of the map.
func (r *Registry) expire(entry domain.FileEntry) {
	if !entry.Consumed {
		logger := r.logger.With("token_prefix", domain.ShortToken(entry.Token))
		if r.deleteFile(logger, entry.FilePath) {
			logger.Info("deleted expired file", "filename", entry.Filename)
		}
	}
	r.notify(EventExpired, entry)
}

// deleteFile removes path and reports whether a file was actually deleted.
// Failures are logged and otherwise ignored.
func (r *Registry) deleteFile(logger *slog.Logger, path string) bool {
	err := r.remove(path)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("hosted file already gone", "path", path)
		return false
	}
	logger.Warn("could not delete hosted file", "path", path, "error", err)
	return false
}

func (r *Registry) notify(event Event, entry domain.FileEntry) {
	for _, o := range r.observers {
		o.OnFileEvent(event, entry)
	}
}
