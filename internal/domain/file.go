package domain

import (
	"time"
)

// ContentType is the kind of media a hosted file holds.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
)

// MIMEType returns the MIME type served for the content type.
func (c ContentType) MIMEType() string {
	if c == ContentAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// Label returns the human readable name of the content type.
func (c ContentType) Label() string {
	if c == ContentAudio {
		return "Audio"
	}
	return "Video"
}

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	return c == ContentVideo || c == ContentAudio
}

// FileEntry is a file on local storage awaiting a single download.
type FileEntry struct {
	Token       string
	FilePath    string
	Filename    string
	FileSize    int64
	ContentType ContentType
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// AudioToken references a sibling audio entry extracted from the same
	// video. The sibling has its own lifecycle.
	AudioToken string

	Consumed bool
}

// ExpiredAt reports whether the entry is no longer reachable at now.
func (e *FileEntry) ExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the lifetime the entry was registered with.
func (e *FileEntry) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}

// ShortToken returns the token prefix used in logs.
func ShortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
