package downloader

import (
	"net/url"
	"strings"

	"github.com/iconidentify/clipgrab/internal/domain"
)

var platformHosts = map[string]domain.Platform{
	"youtube.com":       domain.PlatformYouTube,
	"www.youtube.com":   domain.PlatformYouTube,
	"m.youtube.com":     domain.PlatformYouTube,
	"music.youtube.com": domain.PlatformYouTube,
	"youtu.be":          domain.PlatformYouTube,
	"tiktok.com":        domain.PlatformTikTok,
	"www.tiktok.com":    domain.PlatformTikTok,
	"m.tiktok.com":      domain.PlatformTikTok,
	"vm.tiktok.com":     domain.PlatformTikTok,
	"vt.tiktok.com":     domain.PlatformTikTok,
}

// DetectPlatform classifies raw as a supported platform URL and returns it
// normalized with an https scheme when none was given.
func DetectPlatform(raw string) (string, domain.Platform, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return "", "", domain.ErrUnsupportedURL
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", domain.ErrUnsupportedURL
	}
	platform, ok := platformHosts[strings.ToLower(u.Hostname())]
	if !ok {
		return "", "", domain.ErrUnsupportedURL
	}
	return raw, platform, nil
}

// IsPhotoURL reports whether a TikTok URL points at a photo post.
func IsPhotoURL(raw string) bool {
	return strings.Contains(raw, "/photo/")
}
