package service

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/progress"
)

// maxNameRunes bounds the display filename before the extension.
const maxNameRunes = 80

// UserMessage maps an error to the text shown in chat.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrCancelled):
		return "❌ Download cancelled."
	case errors.Is(err, domain.ErrMetadataTimeout):
		return "⏱ Timed out while fetching video info. Please try again later."
	case errors.Is(err, domain.ErrTooLarge):
		return "📦 This file is too large to download. Try a lower quality."
	case errors.Is(err, domain.ErrInsufficientStorage):
		return "💾 The server is low on storage. Please try again later."
	case errors.Is(err, domain.ErrSessionExpired):
		return "⌛ This request has expired. Please send the link again."
	case errors.Is(err, domain.ErrBusy):
		return "⏳ A download is already running. Wait for it to finish or cancel it."
	case errors.Is(err, domain.ErrUnsupportedURL):
		return "🚫 Unsupported link. Send a YouTube or TikTok URL."
	case errors.Is(err, domain.ErrRateLimited):
		return "🐢 The platform is rate limiting us. Please try again in a few minutes."
	}
	return "⚠️ Download failed. Please check the URL and try again."
}

// Caption is the HTML caption attached to delivered media.
func Caption(info *domain.MediaInfo) string {
	if info == nil || info.Title == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 <b>%s</b>", html.EscapeString(info.Title))
	if info.Author != "" {
		fmt.Fprintf(&b, "\n👤 %s", html.EscapeString(info.Author))
	}
	return b.String()
}

// HostedMessage is the chat message carrying a one-time download link.
func HostedMessage(info *domain.MediaInfo, size int64, link string, ttl time.Duration, withAudio bool) string {
	var b strings.Builder
	b.WriteString("📁 <b>File is too large for Telegram</b>\n\n")
	if c := Caption(info); c != "" {
		b.WriteString(c)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "📦 Size: %s\n\n", progress.FormatSize(size))
	fmt.Fprintf(&b, "🔗 <a href=\"%s\">Download from the web</a>\n", html.EscapeString(link))
	if withAudio {
		b.WriteString("🎵 An audio-only version is available on the same page.\n")
	}
	fmt.Fprintf(&b, "\n⏳ The link works once and expires in %d minutes.", int(ttl.Minutes()))
	return b.String()
}

// DisplayName turns a media title into a filename safe for
// Content-Disposition and common file systems.
func DisplayName(title, ext string) string {
	var b strings.Builder
	n := 0
	lastSpace := false
	for _, r := range strings.TrimSpace(title) {
		if n >= maxNameRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			if lastSpace {
				continue
			}
			r = ' '
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			r = '_'
		}
		lastSpace = r == ' '
		b.WriteRune(r)
		n++
	}

	name := strings.Trim(b.String(), " .")
	if name == "" {
		name = "download"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}
