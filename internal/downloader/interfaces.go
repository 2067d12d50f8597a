package downloader

import (
	"context"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/progress"
)

// ProgressHook receives progress events from a running download. It is
// called on the download goroutine and must not block.
type ProgressHook func(progress.Event)

// Options selects what a download produces.
type Options struct {
	// Height caps the video height. Zero means best available.
	Height int
	// AudioOnly downloads the audio track as mp3.
	AudioOnly bool
	// Stem is the output file name without extension.
	Stem string
}

// Fetcher describes and downloads media from a platform URL.
type Fetcher interface {
	// FetchMetadata returns the media description without downloading.
	FetchMetadata(ctx context.Context, url string) (*domain.MediaInfo, error)

	// Download blocks until the media is on disk. Cancelling ctx aborts the
	// download.
	Download(ctx context.Context, url string, opts Options, hook ProgressHook) (domain.DownloadResult, error)
}

// ImageFetcher downloads the images of a photo post.
type ImageFetcher interface {
	// FetchImages stores urls in order under stem and calls onImage after
	// each finished image with the number done so far.
	FetchImages(ctx context.Context, urls []string, stem string, onImage func(done, total int)) (domain.PhotoSetResult, error)
}
