package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/downloader"
	"github.com/iconidentify/clipgrab/internal/metrics"
	"github.com/iconidentify/clipgrab/internal/progress"
	"github.com/iconidentify/clipgrab/internal/storage"
	"github.com/iconidentify/clipgrab/pkg/ffmpeg"
)

// mediaGroupSize is the largest number of photos sent in one album.
const mediaGroupSize = 10

// Runner executes blocking jobs off the caller's goroutine.
type Runner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// FileHost takes ownership of files that are too large to send inline.
type FileHost interface {
	Register(filePath, filename string, fileSize int64, contentType domain.ContentType, ttl time.Duration, audioToken string) string
}

// Workspace is the temp directory downloads are written to.
type Workspace interface {
	TempPath(prefix, ext string) string
	Reserve(need int64) error
	Remove(path string) bool
	RemoveAll(ctx context.Context, paths []string) int
	RemovePrefix(ctx context.Context, prefix string) int
}

// Transcoder runs ffmpeg operations on downloaded files.
type Transcoder interface {
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
	RemuxMP4(ctx context.Context, inputPath string) (string, error)
}

// MessageRef identifies a chat message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Notifier talks to the user. Text is HTML.
type Notifier interface {
	SendStatus(ctx context.Context, chatID int64, text string, cancellable bool) (MessageRef, error)
	EditStatus(ctx context.Context, ref MessageRef, text string, cancellable bool) error
	Delete(ctx context.Context, ref MessageRef) error
	SendText(ctx context.Context, chatID int64, text string) error
	SendVideo(ctx context.Context, chatID int64, path, caption string, offerAudio bool) error
	SendAudio(ctx context.Context, chatID int64, path, caption string) error
	SendPhotos(ctx context.Context, chatID int64, paths []string, caption string) error
}

// Deps are the collaborators of a DownloadService. Transcoder may be nil
// when ffmpeg is not installed.
type Deps struct {
	Fetcher    downloader.Fetcher
	Images     downloader.ImageFetcher
	Transcoder Transcoder
	Pool       Runner
	Workspace  Workspace
	Files      FileHost
	Notifier   Notifier
}

// Request describes one download.
type Request struct {
	ChatID   int64
	URL      string
	Platform domain.Platform

	// Info is metadata fetched earlier in the conversation. It is fetched
	// again when nil.
	Info *domain.MediaInfo

	// Height selects a video quality; zero means best available.
	Height    int
	AudioOnly bool

	// Status is a message to reuse for progress. A zero MessageID sends a
	// new one.
	Status MessageRef
}

// DownloadService drives a download from metadata to delivery.
type DownloadService struct {
	deps     Deps
	hosting  config.HostingConfig
	download config.DownloadConfig
	logger   *slog.Logger
}

// NewDownloadService creates a new download service.
func NewDownloadService(deps Deps, hosting config.HostingConfig, download config.DownloadConfig, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		deps:     deps,
		hosting:  hosting,
		download: download,
		logger:   logger,
	}
}

// Describe fetches metadata for url, bounded by the metadata timeout.
func (s *DownloadService) Describe(ctx context.Context, url string, platform domain.Platform) (*domain.MediaInfo, error) {
	timeout := s.download.MetadataTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := s.deps.Fetcher.FetchMetadata(ctx, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrMetadataTimeout
		}
		return nil, domain.NewDownloadError(platform, "metadata", err)
	}
	return info, nil
}

// Process downloads req and delivers the result to the chat, inline when it
// fits and as a one-time web link otherwise. Cancelling ctx aborts the job
// at the next stage boundary; partial output is removed and ErrCancelled is
// returned.
func (s *DownloadService) Process(ctx context.Context, req Request) (*domain.Job, error) {
	job := domain.NewJob(domain.JobID(uuid.NewString()), req.ChatID, req.URL, req.Platform)
	logger := s.logger.With("job_id", job.ID, "chat_id", req.ChatID, "platform", req.Platform)
	logger.Info("processing download", "height", req.Height, "audio_only", req.AudioOnly)

	st := &statusMessage{notifier: s.deps.Notifier, chatID: req.ChatID, ref: req.Status, logger: logger}
	contentType := domain.ContentVideo
	if req.AudioOnly {
		contentType = domain.ContentAudio
	}

	start := time.Now()
	size, err := s.run(ctx, job, req, st, logger)

	// Final messages go out even when the job context was cancelled.
	finalCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		metrics.RecordDownload(req.Platform, contentType, true, time.Since(start), size)
		metrics.RecordDelivery(req.Platform, job.Delivery)
		st.remove(finalCtx)
		logger.Info("download delivered", "delivery", job.Delivery, "size", size, "duration", time.Since(start))
		return job, nil

	case errors.Is(err, domain.ErrCancelled):
		job.MarkCancelled()
		metrics.RecordError(req.Platform, metrics.ErrorType(err))
		st.set(finalCtx, UserMessage(err), false)
		logger.Info("download cancelled")
		return job, err

	default:
		job.MarkFailed(err.Error())
		metrics.RecordDownload(req.Platform, contentType, false, 0, 0)
		metrics.RecordError(req.Platform, metrics.ErrorType(err))
		st.set(finalCtx, UserMessage(err), false)
		logger.Error("download failed", "error", err)
		return job, err
	}
}

func (s *DownloadService) run(ctx context.Context, job *domain.Job, req Request, st *statusMessage, logger *slog.Logger) (int64, error) {
	info := req.Info
	if info == nil {
		st.set(ctx, "🔍 Fetching media info...", true)
		var err error
		if info, err = s.Describe(ctx, req.URL, req.Platform); err != nil {
			if ctx.Err() != nil {
				return 0, domain.ErrCancelled
			}
			return 0, err
		}
	}
	if ctx.Err() != nil {
		return 0, domain.ErrCancelled
	}

	if info.IsPhotoPost() && !req.AudioOnly {
		return s.deliverPhotos(ctx, job, req, info, st, logger)
	}

	estimate := info.EstimatedSizeBytes
	switch {
	case req.AudioOnly:
		estimate = info.EstimateFor(0)
	case req.Height > 0:
		estimate = info.EstimateFor(req.Height)
	}
	if s.hosting.MaxHostedSize > 0 && estimate > s.hosting.MaxHostedSize {
		return 0, fmt.Errorf("estimated %s: %w", progress.FormatSize(estimate), domain.ErrTooLarge)
	}
	if err := s.deps.Workspace.Reserve(estimate); err != nil {
		return 0, err
	}

	job.MarkDownloading()
	stem := filepath.Base(s.deps.Workspace.TempPath(req.Platform.String(), ""))
	label := "⬇️ Downloading video..."
	if req.AudioOnly {
		label = "🎵 Downloading audio..."
	}
	st.set(ctx, progress.Message(label, 0), true)

	result, err := s.fetch(ctx, job, req, stem, label, st, logger)
	if err != nil {
		s.deps.Workspace.RemovePrefix(context.WithoutCancel(ctx), stem)
		if ctx.Err() != nil {
			return 0, domain.ErrCancelled
		}
		return 0, domain.NewDownloadError(req.Platform, "download", err)
	}

	path := result.Paths()[0]
	if _, isVideo := result.(domain.VideoResult); isVideo {
		path = s.remux(ctx, path, logger)
	}
	if ctx.Err() != nil {
		s.deps.Workspace.RemovePrefix(context.WithoutCancel(ctx), stem)
		return 0, domain.ErrCancelled
	}

	size := storage.FileSize(path)
	if s.hosting.MaxHostedSize > 0 && size > s.hosting.MaxHostedSize {
		s.deps.Workspace.RemovePrefix(ctx, stem)
		return 0, fmt.Errorf("downloaded %s: %w", progress.FormatSize(size), domain.ErrTooLarge)
	}

	job.MarkDelivering()
	contentType := domain.ContentVideo
	if req.AudioOnly {
		contentType = domain.ContentAudio
	}
	if size <= s.hosting.MaxInlineSize {
		err = s.deliverInline(ctx, req, info, path, contentType)
		s.deps.Workspace.RemovePrefix(context.WithoutCancel(ctx), stem)
		if err != nil {
			return 0, err
		}
		job.MarkCompleted(domain.DeliveryInline, "")
		return size, nil
	}

	token, err := s.host(ctx, req, info, path, size, contentType, logger)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			s.deps.Workspace.RemovePrefix(context.WithoutCancel(ctx), stem)
			return 0, err
		}
		// Registered files belong to the registry and expire on their own.
		return 0, err
	}
	job.MarkCompleted(domain.DeliveryHosted, token)
	return size, nil
}

// fetch runs the download on the worker pool while a tracker reports its
// progress into the status message.
func (s *DownloadService) fetch(ctx context.Context, job *domain.Job, req Request, stem, label string, st *statusMessage, logger *slog.Logger) (domain.DownloadResult, error) {
	tracker := progress.NewTracker(s.trackerConfig(), func(ctx context.Context, p float64) error {
		return st.edit(ctx, progress.Message(label, p), true)
	}, logger)
	tracker.Start(ctx)

	dlCtx := ctx
	if s.download.Timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, s.download.Timeout)
		defer cancel()
	}

	opts := downloader.Options{Height: req.Height, AudioOnly: req.AudioOnly, Stem: stem}
	var result domain.DownloadResult
	err := s.deps.Pool.Do(dlCtx, "download "+job.ID.String(), func(ctx context.Context) error {
		var err error
		result, err = s.deps.Fetcher.Download(ctx, req.URL, opts, tracker.Hook)
		return err
	})
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: no result after %v", domain.ErrDownloadFailed, s.download.Timeout)
	}

	if stopErr := tracker.Stop(); stopErr != nil {
		logger.Debug("progress reporter stopped late", "error", stopErr)
	}
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Paths()) == 0 {
		return nil, domain.ErrNoOutput
	}
	return result, nil
}

func (s *DownloadService) deliverPhotos(ctx context.Context, job *domain.Job, req Request, info *domain.MediaInfo, st *statusMessage, logger *slog.Logger) (int64, error) {
	if s.deps.Images == nil {
		return 0, fmt.Errorf("photo posts: %w", domain.ErrUnsupportedURL)
	}
	job.MarkDownloading()
	total := len(info.ImageURLs)
	const label = "🖼 Downloading photos..."
	st.set(ctx, progress.CountMessage(label, 0, total), true)

	stem := filepath.Base(s.deps.Workspace.TempPath(req.Platform.String(), ""))
	tracker := progress.NewTracker(s.trackerConfig(), func(ctx context.Context, p float64) error {
		done := int(p*float64(total)/100 + 0.5)
		return st.edit(ctx, progress.CountMessage(label, done, total), true)
	}, logger)
	tracker.Start(ctx)

	var photos domain.PhotoSetResult
	err := s.deps.Pool.Do(ctx, "photos "+job.ID.String(), func(ctx context.Context) error {
		var err error
		photos, err = s.deps.Images.FetchImages(ctx, info.ImageURLs, stem, func(done, total int) {
			tracker.Hook(progress.Event{Status: progress.StatusDownloading, Percent: float64(done) * 100 / float64(total)})
		})
		return err
	})
	if stopErr := tracker.Stop(); stopErr != nil {
		logger.Debug("progress reporter stopped late", "error", stopErr)
	}
	defer s.deps.Workspace.RemovePrefix(context.WithoutCancel(ctx), stem)

	if ctx.Err() != nil {
		return 0, domain.ErrCancelled
	}
	if err != nil {
		return 0, domain.NewDownloadError(req.Platform, "photos", err)
	}

	job.MarkDelivering()
	var size int64
	for _, p := range photos.Images {
		size += storage.FileSize(p)
	}
	caption := Caption(info)
	for i := 0; i < len(photos.Images); i += mediaGroupSize {
		group := photos.Images[i:min(i+mediaGroupSize, len(photos.Images))]
		c := ""
		if i == 0 {
			c = caption
		}
		if err := s.deps.Notifier.SendPhotos(ctx, req.ChatID, group, c); err != nil {
			return 0, fmt.Errorf("send photos: %w", err)
		}
	}
	logger.Info("photo set delivered", "photos", len(photos.Images), "requested", total)
	job.MarkCompleted(domain.DeliveryInline, "")
	return size, nil
}

func (s *DownloadService) deliverInline(ctx context.Context, req Request, info *domain.MediaInfo, path string, contentType domain.ContentType) error {
	caption := Caption(info)
	var err error
	if contentType == domain.ContentAudio {
		err = s.deps.Notifier.SendAudio(ctx, req.ChatID, path, caption)
	} else {
		err = s.deps.Notifier.SendVideo(ctx, req.ChatID, path, caption, req.Platform == domain.PlatformTikTok)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", contentType, err)
	}
	return nil
}

// host registers the file for a one-time web download and sends the link.
// Videos get a sibling audio entry when extraction is enabled.
func (s *DownloadService) host(ctx context.Context, req Request, info *domain.MediaInfo, path string, size int64, contentType domain.ContentType, logger *slog.Logger) (string, error) {
	ttl := s.hosting.FileTTL()

	var audioToken string
	if contentType == domain.ContentVideo && s.hosting.ExtractAudio && s.deps.Transcoder != nil {
		audioPath, err := s.extractAudio(ctx, path)
		switch {
		case ctx.Err() != nil:
		case err == nil:
			audioToken = s.deps.Files.Register(audioPath, DisplayName(info.Title, ".mp3"), storage.FileSize(audioPath), domain.ContentAudio, ttl, "")
		case errors.Is(err, ffmpeg.ErrNoAudio):
			logger.Info("video has no audio track, hosting video only")
		default:
			logger.Warn("audio extraction failed, hosting video only", "error", err)
		}
	}
	// Nothing is registered yet; the caller removes the files.
	if ctx.Err() != nil {
		return "", domain.ErrCancelled
	}

	token := s.deps.Files.Register(path, DisplayName(info.Title, filepath.Ext(path)), size, contentType, ttl, audioToken)
	logger.Info("file hosted", "token_prefix", domain.ShortToken(token), "size", size, "with_audio", audioToken != "")

	text := HostedMessage(info, size, s.hosting.DownloadURL(token), ttl, audioToken != "")
	if err := s.deps.Notifier.SendText(ctx, req.ChatID, text); err != nil {
		// The entry stays registered and expires on its own.
		return token, fmt.Errorf("send link: %w", err)
	}
	return token, nil
}

func (s *DownloadService) extractAudio(ctx context.Context, videoPath string) (string, error) {
	var audioPath string
	err := s.deps.Pool.Do(ctx, "extract audio", func(ctx context.Context) error {
		var err error
		audioPath, err = s.deps.Transcoder.ExtractAudio(ctx, videoPath)
		return err
	})
	return audioPath, err
}

// remux rewraps non-mp4 video so chat clients can play it inline. The
// original is kept when ffmpeg is missing or fails.
func (s *DownloadService) remux(ctx context.Context, path string, logger *slog.Logger) string {
	if s.deps.Transcoder == nil || strings.EqualFold(filepath.Ext(path), ".mp4") {
		return path
	}
	var out string
	err := s.deps.Pool.Do(ctx, "remux", func(ctx context.Context) error {
		var err error
		out, err = s.deps.Transcoder.RemuxMP4(ctx, path)
		return err
	})
	if err != nil {
		logger.Warn("remux failed, keeping original container", "path", path, "error", err)
		return path
	}
	if out != path {
		s.deps.Workspace.Remove(path)
	}
	return out
}

func (s *DownloadService) trackerConfig() progress.Config {
	return progress.Config{
		Interval:    s.download.ProgressInterval,
		Threshold:   s.download.ProgressThreshold,
		StopTimeout: s.download.ProgressStopWait,
	}
}

// statusMessage is the single message a job keeps editing. UI failures are
// logged and never fail the job.
type statusMessage struct {
	notifier Notifier
	chatID   int64
	ref      MessageRef
	logger   *slog.Logger
}

func (m *statusMessage) set(ctx context.Context, text string, cancellable bool) {
	if m.ref.MessageID == 0 {
		ref, err := m.notifier.SendStatus(ctx, m.chatID, text, cancellable)
		if err != nil {
			m.logger.Debug("send status failed", "error", err)
			return
		}
		m.ref = ref
		return
	}
	if err := m.edit(ctx, text, cancellable); err != nil {
		m.logger.Debug("edit status failed", "error", err)
	}
}

func (m *statusMessage) edit(ctx context.Context, text string, cancellable bool) error {
	if m.ref.MessageID == 0 {
		return nil
	}
	return m.notifier.EditStatus(ctx, m.ref, text, cancellable)
}

func (m *statusMessage) remove(ctx context.Context) {
	if m.ref.MessageID == 0 {
		return
	}
	if err := m.notifier.Delete(ctx, m.ref); err != nil {
		m.logger.Debug("delete status failed", "error", err)
	}
}
