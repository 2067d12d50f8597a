package progress

import (
	"fmt"
	"strings"
)

const barCells = 10

// Bar renders percent as a ten-cell bar followed by the rounded value.
func Bar(percent float64) string {
	p := clamp(percent)
	filled := int(p / 10)
	return fmt.Sprintf("%s%s %.0f%%",
		strings.Repeat("⬜", filled),
		strings.Repeat("⬛", barCells-filled),
		p,
	)
}

// Message is the text of a progress message: status line and bar.
func Message(status string, percent float64) string {
	return fmt.Sprintf("%s %d%%\n%s", status, int(clamp(percent)), Bar(percent))
}

// CountMessage is the text of a progress message for counted items such as
// the images of a photo post.
func CountMessage(status string, current, total int) string {
	var percent float64
	if total > 0 {
		percent = float64(current) / float64(total) * 100
	}
	return fmt.Sprintf("%s (%d/%d)\n%s", status, current, total, Bar(percent))
}

// FormatSize renders a byte count with one decimal and a binary unit.
func FormatSize(bytes int64) string {
	size := float64(bytes)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}

// FormatDuration renders seconds as m:ss or h:mm:ss. Zero is "Unknown".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "Unknown"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
