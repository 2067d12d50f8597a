// Package session keeps the per-chat state of an interaction: the URL the
// user sent, its metadata while a choice is pending, and the cancel handle
// of a running download.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// DefaultTTL is how long an idle session stays usable.
const DefaultTTL = 5 * time.Minute

// Session is a snapshot of a chat's state.
type Session struct {
	ChatID    int64
	URL       string
	Platform  domain.Platform
	Info      *domain.MediaInfo
	UpdatedAt time.Time
	// Running is true while a download started with Begin is in progress.
	Running bool
}

type entry struct {
	Session
	jobID  uint64
	cancel context.CancelFunc
}

// Store holds sessions keyed by chat ID.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	nextJob  uint64
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store whose idle sessions expire after ttl.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		sessions: make(map[int64]*entry),
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put starts a new interaction for chatID, replacing an idle one. A chat
// with a running download keeps it and gets domain.ErrBusy.
func (s *Store) Put(chatID int64, url string, platform domain.Platform, info *domain.MediaInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[chatID]; ok && e.Running {
		return domain.ErrBusy
	}
	s.sessions[chatID] = &entry{Session: Session{
		ChatID:    chatID,
		URL:       url,
		Platform:  platform,
		Info:      info,
		UpdatedAt: s.now(),
	}}
	return nil
}

// Get returns the session of chatID. Missing and stale sessions yield
// domain.ErrSessionExpired. A running session never goes stale.
func (s *Store) Get(chatID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(chatID)
	if !ok {
		return Session{}, domain.ErrSessionExpired
	}
	return e.Session, nil
}

// Begin marks the session of chatID running and returns a context that
// Cancel aborts. The returned done func must be called when the download
// ends; it clears the running flag and refreshes the idle timer.
func (s *Store) Begin(ctx context.Context, chatID int64) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(chatID)
	if !ok {
		return nil, nil, domain.ErrSessionExpired
	}
	if e.Running {
		return nil, nil, domain.ErrBusy
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.nextJob++
	jobID := s.nextJob
	e.Running = true
	e.jobID = jobID
	e.cancel = cancel
	e.UpdatedAt = s.now()

	done := func() {
		cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.sessions[chatID]; ok && cur.jobID == jobID {
			cur.Running = false
			cur.cancel = nil
			cur.UpdatedAt = s.now()
		}
	}
	return jobCtx, done, nil
}

// Cancel aborts the running download of chatID, if any, and forgets the
// session. It reports whether a download was cancelled.
func (s *Store) Cancel(chatID int64) bool {
	s.mu.Lock()
	e, ok := s.sessions[chatID]
	delete(s.sessions, chatID)
	s.mu.Unlock()

	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	s.logger.Info("download cancelled by user", "chat_id", chatID)
	return true
}

// Clear forgets an idle session. Running sessions are kept.
func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[chatID]; ok && !e.Running {
		delete(s.sessions, chatID)
	}
}

// Sweep removes stale idle sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if s.stale(e) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// live returns the entry of chatID, deleting it when stale. Callers hold mu.
func (s *Store) live(chatID int64) (*entry, bool) {
	e, ok := s.sessions[chatID]
	if !ok {
		return nil, false
	}
	if s.stale(e) {
		delete(s.sessions, chatID)
		return nil, false
	}
	return e, true
}

func (s *Store) stale(e *entry) bool {
	return !e.Running && s.now().Sub(e.UpdatedAt) >= s.ttl
}
