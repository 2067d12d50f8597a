package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/progress"
)

const (
	invalidURLText = "❌ Please send a valid YouTube or TikTok URL.\n\n" +
		"💡 <b>Examples:</b>\n" +
		"• https://www.youtube.com/watch?v=...\n" +
		"• https://youtu.be/...\n" +
		"• https://www.tiktok.com/@.../video/..."

	throttledText = "Please wait before sending another request."
	cancelledText = "❌ Operation cancelled."
)

func startText(limits Limits) string {
	return "🎬 <b>Video Downloader Bot</b>\n\n" +
		"Send me a YouTube or TikTok URL to download!\n\n" +
		"💡 <b>Features:</b>\n" +
		"• Choose video quality\n" +
		"• Download audio only (MP3)\n" +
		"• Real-time download progress\n" +
		"• Large files as a one-time web link\n\n" +
		fmt.Sprintf("⚙️ <b>Limits:</b> %s in chat, %s via web link",
			progress.FormatSize(limits.Inline), progress.FormatSize(limits.Hosted))
}

func helpText(limits Limits) string {
	return "📋 <b>How to use:</b>\n" +
		"1. Send YouTube or TikTok URL\n" +
		"2. Choose video quality or audio format\n" +
		"3. Wait for download (you'll see progress)\n" +
		"4. Receive your file!\n\n" +
		"💡 <b>Tips:</b>\n" +
		fmt.Sprintf("• Files over %s are sent as a download link (marked 🌐)\n", progress.FormatSize(limits.Inline)) +
		"• Download links work once and expire\n" +
		"• Audio files are usually smaller\n" +
		"• Press Cancel to stop a running download\n\n" +
		"<i>Supported: YouTube, TikTok</i>"
}

// optionsText describes a video above its quality keyboard.
func optionsText(info *domain.MediaInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 <b>%s</b>\n", html.EscapeString(info.Title))
	fmt.Fprintf(&b, "👤 %s\n", html.EscapeString(info.Author))
	fmt.Fprintf(&b, "⏱ Duration: %s\n\n", progress.FormatDuration(info.DurationSeconds))
	b.WriteString("💾 Select quality to download:")
	return b.String()
}

func unavailableText(info *domain.MediaInfo, limits Limits) string {
	return fmt.Sprintf("❌ <b>Unable to download</b>\n\n🎬 %s\n⏱ Duration: %s\n\nAll formats exceed the %s limit.",
		html.EscapeString(info.Title),
		progress.FormatDuration(info.DurationSeconds),
		progress.FormatSize(limits.Hosted),
	)
}
