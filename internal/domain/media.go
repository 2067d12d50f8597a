package domain

import (
	"time"
)

// Platform identifies the content platform a URL belongs to.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

// String returns the string representation of the Platform.
func (p Platform) String() string {
	return string(p)
}

// Quality is one downloadable video height with its estimated size.
type Quality struct {
	Height        int   `json:"height"`
	EstimatedSize int64 `json:"estimated_size"`
}

// MediaInfo is the metadata fetched for a URL before downloading.
type MediaInfo struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Author             string    `json:"author"`
	DurationSeconds    int       `json:"duration_seconds"`
	EstimatedSizeBytes int64     `json:"estimated_size_bytes"`
	AudioSizeBytes     int64     `json:"audio_size_bytes,omitempty"`
	Qualities          []Quality `json:"qualities"`
	Thumbnail          string    `json:"thumbnail,omitempty"`
	ImageURLs          []string  `json:"image_urls,omitempty"`
	FetchedAt          time.Time `json:"fetched_at"`
}

// IsPhotoPost reports whether the media is an image slideshow.
func (m *MediaInfo) IsPhotoPost() bool {
	return len(m.ImageURLs) > 0
}

// QualityFor returns the quality entry with the given height.
func (m *MediaInfo) QualityFor(height int) (Quality, bool) {
	for _, q := range m.Qualities {
		if q.Height == height {
			return q, true
		}
	}
	return Quality{}, false
}

// EstimateFor returns the best known size estimate for a download of the
// given height. Height 0 means audio only.
func (m *MediaInfo) EstimateFor(height int) int64 {
	if height == 0 {
		return m.AudioSizeBytes
	}
	if q, ok := m.QualityFor(height); ok && q.EstimatedSize > 0 {
		return q.EstimatedSize
	}
	return m.EstimatedSizeBytes
}

// DownloadResult is the output of a finished media fetch. It is one of
// VideoResult, AudioResult or PhotoSetResult.
type DownloadResult interface {
	// Paths returns every local file the result owns.
	Paths() []string
	isDownloadResult()
}

// VideoResult is a single downloaded video file.
type VideoResult struct {
	Path string
}

// AudioResult is a single downloaded audio-only file.
type AudioResult struct {
	Path string
}

// PhotoSetResult is an ordered set of downloaded images.
type PhotoSetResult struct {
	Images []string
}

func (r VideoResult) Paths() []string    { return []string{r.Path} }
func (r AudioResult) Paths() []string    { return []string{r.Path} }
func (r PhotoSetResult) Paths() []string { return r.Images }

func (VideoResult) isDownloadResult()    {}
func (AudioResult) isDownloadResult()    {}
func (PhotoSetResult) isDownloadResult() {}
