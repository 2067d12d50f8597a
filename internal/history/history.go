// Package history keeps a persistent log of hosted-file lifecycle events
// for operators. Only token prefixes are stored.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/registry"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	writeTimeout = 5 * time.Second
)

// Record is one persisted lifecycle event.
type Record struct {
	ID          int64     `json:"id"`
	TokenPrefix string    `json:"token_prefix"`
	Event       string    `json:"event"`
	ContentType string    `json:"content_type"`
	Filename    string    `json:"filename"`
	FileSize    int64     `json:"file_size"`
	Consumed    bool      `json:"consumed"`
	At          time.Time `json:"at"`
}

// Summary aggregates the whole log.
type Summary struct {
	Registered      int64 `json:"registered"`
	Consumed        int64 `json:"consumed"`
	Expired         int64 `json:"expired"`
	ExpiredUnused   int64 `json:"expired_unused"`
	BytesRegistered int64 `json:"bytes_registered"`
	BytesDelivered  int64 `json:"bytes_delivered"`
}

// Store is a SQLite-backed event log.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS file_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_prefix TEXT NOT NULL,
			event TEXT NOT NULL,
			content_type TEXT NOT NULL,
			filename TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			consumed INTEGER NOT NULL DEFAULT 0,
			at_unix_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_file_events_at ON file_events(at_unix_ms);
		CREATE INDEX IF NOT EXISTS idx_file_events_event ON file_events(event);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &Store{db: db, now: time.Now, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores a lifecycle event.
func (s *Store) Append(ctx context.Context, event registry.Event, entry domain.FileEntry) error {
	consumed := 0
	if entry.Consumed {
		consumed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_events (token_prefix, event, content_type, filename, file_size, consumed, at_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, domain.ShortToken(entry.Token), string(event), string(entry.ContentType),
		entry.Filename, entry.FileSize, consumed, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// OnFileEvent implements registry.Observer. Write failures are logged.
func (s *Store) OnFileEvent(event registry.Event, entry domain.FileEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.Append(ctx, event, entry); err != nil {
		s.logger.Warn("failed to persist file event",
			"event", event,
			"token_prefix", domain.ShortToken(entry.Token),
			"error", err,
		)
	}
}

// Recent returns the newest events first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_prefix, event, content_type, filename, file_size, consumed, at_unix_ms
		FROM file_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r        Record
			consumed int
			atMillis int64
		)
		if err := rows.Scan(&r.ID, &r.TokenPrefix, &r.Event, &r.ContentType, &r.Filename, &r.FileSize, &consumed, &atMillis); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Consumed = consumed == 1
		r.At = time.UnixMilli(atMillis).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Summary aggregates all stored events.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event = ? AND consumed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event = ? THEN file_size ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event = ? THEN file_size ELSE 0 END), 0)
		FROM file_events
	`,
		registry.EventRegistered, registry.EventConsumed, registry.EventExpired,
		registry.EventExpired, registry.EventRegistered, registry.EventConsumed,
	).Scan(&sum.Registered, &sum.Consumed, &sum.Expired, &sum.ExpiredUnused, &sum.BytesRegistered, &sum.BytesDelivered)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize events: %w", err)
	}
	return sum, nil
}

// Prune deletes events older than retention and returns how many went.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_events WHERE at_unix_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
