// Package storage manages the temporary directory that downloads are
// written to before they are delivered or handed to the file registry.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// DefaultMaxAge is the age after which leftover temp files are swept.
const DefaultMaxAge = 24 * time.Hour

// cleanupConcurrency bounds parallel deletions in RemoveAll.
const cleanupConcurrency = 8

// Workspace is a temp directory owned by the process.
type Workspace struct {
	dir       string
	minFree   int64
	now       func() time.Time
	freeSpace func(string) int64
	logger    *slog.Logger
}

// NewWorkspace creates dir if needed. minFree is the free space that must
// remain after a download; zero disables the check.
func NewWorkspace(dir string, minFree int64, logger *slog.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	return &Workspace{
		dir:       abs,
		minFree:   minFree,
		now:       time.Now,
		freeSpace: freeDiskSpace,
		logger:    logger,
	}, nil
}

// Dir returns the absolute workspace path.
func (w *Workspace) Dir() string {
	return w.dir
}

// TempPath returns a fresh path of the form prefix_<unix>_<id>.ext. The
// file is not created.
func (w *Workspace) TempPath(prefix, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := prefix + "_" + strconv.FormatInt(w.now().Unix(), 10) + "_" + id
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(w.dir, name)
}

// Remove deletes path and reports whether it was deleted.
func (w *Workspace) Remove(path string) bool {
	if path == "" {
		return false
	}
	err := os.Remove(path)
	if err == nil {
		w.logger.Debug("cleaned up file", "path", path)
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("failed to clean up file", "path", path, "error", err)
	}
	return false
}

// RemoveAll deletes paths concurrently and returns how many were deleted.
func (w *Workspace) RemoveAll(ctx context.Context, paths []string) int {
	if len(paths) == 0 {
		return 0
	}

	var deleted atomic.Int64
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			if w.Remove(p) {
				deleted.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	return int(deleted.Load())
}

// RemovePrefix deletes every workspace file whose name starts with prefix,
// including partial downloads, and returns how many were deleted.
func (w *Workspace) RemovePrefix(ctx context.Context, prefix string) int {
	if prefix == "" || strings.ContainsAny(prefix, `/\`) {
		return 0
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to list temp dir", "error", err)
		return 0
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	return w.RemoveAll(ctx, paths)
}

// SweepOld deletes regular files under the workspace older than maxAge.
func (w *Workspace) SweepOld(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := w.now().Add(-maxAge)

	deleted := 0
	filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if w.Remove(path) {
			deleted++
		}
		return nil
	})

	if deleted > 0 {
		w.logger.Info("cleaned up old temp files", "deleted", deleted, "max_age", maxAge)
	}
	return deleted
}

// RunSweeper sweeps once immediately and then every interval until ctx is
// done.
func (w *Workspace) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	w.SweepOld(maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOld(maxAge)
		}
	}
}

// Usage returns the total size and number of files in the workspace.
func (w *Workspace) Usage() (int64, int) {
	var size int64
	var count int
	filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count
}

// FreeBytes returns the free space available to the process, or zero if it
// cannot be determined.
func (w *Workspace) FreeBytes() int64 {
	return w.freeSpace(w.dir)
}

// Reserve checks that need bytes fit while keeping the configured minimum
// free. An undeterminable free space passes the check.
func (w *Workspace) Reserve(need int64) error {
	if w.minFree <= 0 {
		return nil
	}
	free := w.FreeBytes()
	if free <= 0 {
		return nil
	}
	if free-need < w.minFree {
		return fmt.Errorf("need %d bytes, %d free, %d reserved: %w", need, free, w.minFree, domain.ErrInsufficientStorage)
	}
	return nil
}

// FileSize returns the size of path, or zero when it cannot be read.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
