package downloader

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
)

const (
	maxTitleRunes = 100
	mib           = 1024 * 1024
)

// offeredHeights are the qualities listed to users.
var offeredHeights = map[int]bool{
	144: true, 240: true, 360: true, 480: true,
	720: true, 1080: true, 1440: true, 2160: true,
}

// videoMiBPerMinute estimates video-only size when yt-dlp reports none.
var videoMiBPerMinute = map[int]float64{
	144: 1, 240: 2, 360: 5, 480: 8,
	720: 15, 1080: 25, 1440: 40, 2160: 60,
}

type ytFormat struct {
	Height         int     `json:"height"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

func (f ytFormat) size() int64 {
	if f.Filesize > 0 {
		return int64(f.Filesize)
	}
	return int64(f.FilesizeApprox)
}

type ytImage struct {
	URL string `json:"url"`
}

type ytInfo struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Uploader       string     `json:"uploader"`
	Channel        string     `json:"channel"`
	Duration       float64    `json:"duration"`
	Thumbnail      string     `json:"thumbnail"`
	Filesize       float64    `json:"filesize"`
	FilesizeApprox float64    `json:"filesize_approx"`
	Formats        []ytFormat `json:"formats"`
	Images         []ytImage  `json:"images"`
	Entries        []ytInfo   `json:"entries"`
}

// parseInfo converts a yt-dlp JSON dump into MediaInfo. Playlists are
// unwrapped to their first entry.
func parseInfo(data []byte) (*domain.MediaInfo, error) {
	var raw ytInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	if raw.ID == "" && len(raw.Entries) > 0 {
		raw = raw.Entries[0]
	}

	duration := int(raw.Duration)
	info := &domain.MediaInfo{
		ID:              raw.ID,
		Title:           truncateRunes(raw.Title, maxTitleRunes),
		Author:          firstNonEmpty(raw.Uploader, raw.Channel, "Unknown"),
		DurationSeconds: duration,
		Thumbnail:       raw.Thumbnail,
		FetchedAt:       time.Now(),
	}
	for _, img := range raw.Images {
		if img.URL != "" {
			info.ImageURLs = append(info.ImageURLs, img.URL)
		}
	}
	if len(raw.Formats) == 0 {
		info.EstimatedSizeBytes = firstPositive(raw.Filesize, raw.FilesizeApprox)
		return info, nil
	}

	info.AudioSizeBytes = bestAudioSize(raw.Formats, duration)
	info.Qualities = qualities(raw.Formats, duration, info.AudioSizeBytes)
	info.EstimatedSizeBytes = firstPositive(raw.Filesize, raw.FilesizeApprox)
	if info.EstimatedSizeBytes == 0 && len(info.Qualities) > 0 {
		info.EstimatedSizeBytes = info.Qualities[0].EstimatedSize
	}
	return info, nil
}

// bestAudioSize is the largest audio-only stream, or 3 MiB per minute when
// no stream reports a size.
func bestAudioSize(formats []ytFormat, duration int) int64 {
	var best int64
	for _, f := range formats {
		if f.ACodec != "none" && f.VCodec == "none" {
			best = max(best, f.size())
		}
	}
	if best > 0 {
		return best
	}
	minutes := 5.0
	if duration > 0 {
		minutes = float64(duration) / 60
	}
	return int64(minutes * 3 * mib)
}

// qualities lists offered heights, highest first, each with the smallest
// known video size plus the audio size.
func qualities(formats []ytFormat, duration int, audioSize int64) []domain.Quality {
	videoSize := map[int]int64{}
	for _, f := range formats {
		if f.VCodec == "none" || !offeredHeights[f.Height] {
			continue
		}
		size := f.size()
		existing, seen := videoSize[f.Height]
		if !seen || (size > 0 && (existing == 0 || size < existing)) {
			videoSize[f.Height] = size
		}
	}

	out := make([]domain.Quality, 0, len(videoSize))
	for h, size := range videoSize {
		if size == 0 {
			size = estimateVideoSize(h, duration)
		}
		out = append(out, domain.Quality{Height: h, EstimatedSize: size + audioSize})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	return out
}

func estimateVideoSize(height, duration int) int64 {
	if duration <= 0 {
		duration = 300
	}
	rate, ok := videoMiBPerMinute[height]
	if !ok {
		rate = 5
	}
	return int64(rate * float64(duration) / 60 * mib)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...float64) int64 {
	for _, v := range values {
		if v > 0 {
			return int64(v)
		}
	}
	return 0
}
