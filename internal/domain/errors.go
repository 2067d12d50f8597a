package domain

import "errors"

// Domain errors.
var (
	// ErrUnsupportedURL is returned when a URL belongs to no supported platform.
	ErrUnsupportedURL = errors.New("unsupported URL")

	// ErrMetadataTimeout is returned when fetching media metadata takes too long.
	ErrMetadataTimeout = errors.New("metadata fetch timed out")

	// ErrMetadataFailed is returned when the platform refuses to describe the media.
	ErrMetadataFailed = errors.New("metadata fetch failed")

	// ErrDownloadFailed is returned when the media download fails.
	ErrDownloadFailed = errors.New("media download failed")

	// ErrNoOutput is returned when a download finished without producing a file.
	ErrNoOutput = errors.New("download produced no output file")

	// ErrTooLarge is returned when media exceeds the largest size that can be hosted.
	ErrTooLarge = errors.New("media exceeds hosting size limit")

	// ErrInsufficientStorage is returned when the temp directory lacks free space.
	ErrInsufficientStorage = errors.New("insufficient storage space")

	// ErrCancelled is returned when the user cancelled the download.
	ErrCancelled = errors.New("download cancelled")

	// ErrSessionExpired is returned when a chat session is missing or stale.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoAudioTrack is returned when audio extraction finds no audio stream.
	ErrNoAudioTrack = errors.New("media has no audio track")

	// ErrRateLimited is returned when rate limited by external services.
	ErrRateLimited = errors.New("rate limited")

	// ErrURLExpired is returned when a direct media URL is no longer valid.
	ErrURLExpired = errors.New("media URL has expired")

	// ErrBusy is returned when a chat already has a download running.
	ErrBusy = errors.New("a download is already running")

	// ErrPoolClosed is returned when work is submitted after shutdown.
	ErrPoolClosed = errors.New("worker pool closed")
)

// DownloadError wraps an error with download context.
type DownloadError struct {
	Platform Platform
	Op       string
	Err      error
}

func (e *DownloadError) Error() string {
	if e.Platform != "" {
		return e.Op + " [" + e.Platform.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewDownloadError creates a new DownloadError.
func NewDownloadError(platform Platform, op string, err error) *DownloadError {
	return &DownloadError{
		Platform: platform,
		Op:       op,
		Err:      err,
	}
}
