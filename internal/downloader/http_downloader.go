package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
)

// minImageSize is the smallest body accepted as an image. Smaller bodies
// are error pages served with status 200.
const minImageSize = 100

// imageConcurrency bounds parallel image requests per photo post.
const imageConcurrency = 4

// HTTPDownloader fetches direct media URLs such as photo post images.
type HTTPDownloader struct {
	// streamClient has no overall timeout; stalls are caught per read.
	streamClient *http.Client
	userAgent    string
	retry        RetryConfig
	stallTimeout time.Duration
	dir          string
	logger       *slog.Logger
}

// NewHTTPDownloader creates a downloader that stores files in dir.
func NewHTTPDownloader(cfg config.DownloadConfig, dir string, logger *slog.Logger) *HTTPDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}
	if cfg.MaxRetryDelay > 0 {
		retry.MaxDelay = cfg.MaxRetryDelay
	}

	return &HTTPDownloader{
		streamClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				MaxIdleConnsPerHost:   imageConcurrency,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		userAgent:    cfg.UserAgent,
		retry:        retry,
		stallTimeout: cfg.StallTimeout,
		dir:          dir,
		logger:       logger,
	}
}

type stream struct {
	body io.ReadCloser
	size int64
}

// Download opens url for reading with retry. The caller closes the reader.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	s, err := RetryWithCheck(ctx, d.retry, func() (stream, error) {
		body, size, err := d.downloadOnce(ctx, url)
		return stream{body: body, size: size}, err
	}, IsRetryable)
	if err != nil {
		return nil, 0, fmt.Errorf("download failed after retries: %w", err)
	}
	return s.body, s.size, nil
}

func (d *HTTPDownloader) downloadOnce(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,video/*;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized, http.StatusGone:
		resp.Body.Close()
		return nil, 0, domain.ErrURLExpired
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, 0, domain.ErrRateLimited
	default:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	size := resp.ContentLength
	if size < 0 {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			size, _ = strconv.ParseInt(cl, 10, 64)
		}
	}

	return newStallReader(resp.Body, d.stallTimeout), size, nil
}

// FetchImages downloads urls concurrently. Images that fail or are too small
// are skipped; the result keeps the order of urls. An error is returned only
// when no image could be fetched or ctx was cancelled.
func (d *HTTPDownloader) FetchImages(ctx context.Context, urls []string, stem string, onImage func(done, total int)) (domain.PhotoSetResult, error) {
	paths := make([]string, len(urls))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			path := filepath.Join(d.dir, fmt.Sprintf("%s_photo_%d.jpeg", stem, i+1))
			if err := d.saveImage(gctx, u, path); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.logger.Warn("photo download failed, skipping", "index", i+1, "total", len(urls), "error", err)
			} else {
				paths[i] = path
			}
			if onImage != nil {
				onImage(int(done.Add(1)), len(urls))
			}
			return nil
		})
	}

	err := g.Wait()
	result := domain.PhotoSetResult{}
	for _, p := range paths {
		if p != "" {
			result.Images = append(result.Images, p)
		}
	}
	if err != nil {
		return result, err
	}
	if len(result.Images) == 0 {
		return result, domain.ErrNoOutput
	}
	return result, nil
}

func (d *HTTPDownloader) saveImage(ctx context.Context, url, path string) error {
	body, _, err := d.Download(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n < minImageSize {
		err = fmt.Errorf("image too small: %d bytes", n)
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// stallReader fails a read that waited longer than timeout for data.
type stallReader struct {
	reader  io.ReadCloser
	timeout time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func newStallReader(r io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return r
	}
	s := &stallReader{reader: r, timeout: timeout}
	// Closing the body unblocks a Read stuck on a silent connection.
	s.timer = time.AfterFunc(timeout, func() { s.Close() })
	return s
}

func (s *stallReader) Read(buf []byte) (int, error) {
	n, err := s.reader.Read(buf)
	if n > 0 {
		s.mu.Lock()
		if !s.closed {
			s.timer.Reset(s.timeout)
		}
		s.mu.Unlock()
	}
	if err != nil && err != io.EOF {
		s.mu.Lock()
		stalled := s.closed
		s.mu.Unlock()
		if stalled {
			return n, fmt.Errorf("download stalled: no data received for %v", s.timeout)
		}
	}
	return n, err
}

func (s *stallReader) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.timer.Stop()
	s.mu.Unlock()
	return s.reader.Close()
}
