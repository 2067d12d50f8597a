package bot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/progress"
)

// Callback data values.
const (
	callbackCancel        = "cancel"
	callbackAudio         = "format_audio"
	callbackTikTokAudio   = "tiktok_extract_audio"
	callbackQualityPrefix = "quality_"
)

// webMark flags buttons whose result is delivered as a web link.
const webMark = " 🌐"

// Limits decide which options a keyboard offers.
type Limits struct {
	// Inline is the largest file sent through chat.
	Inline int64
	// Hosted is the largest file offered at all.
	Hosted int64
}

func (l Limits) allows(size int64) bool {
	return l.Hosted <= 0 || size <= l.Hosted
}

func (l Limits) label(text string, size int64) string {
	s := "?"
	if size > 0 {
		s = progress.FormatSize(size)
	}
	text += " - " + s
	if size > l.Inline {
		text += webMark
	}
	return text
}

// QualityKeyboard lists the downloadable qualities of info, lowest first and
// two per row, followed by the MP3 option. It returns false when nothing can
// be offered.
func QualityKeyboard(info *domain.MediaInfo, limits Limits) (tgbotapi.InlineKeyboardMarkup, bool) {
	qualities := slices.Clone(info.Qualities)
	slices.SortFunc(qualities, func(a, b domain.Quality) int { return a.Height - b.Height })

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, q := range qualities {
		size := q.EstimatedSize
		if size <= 0 {
			size = info.EstimatedSizeBytes
		}
		if !limits.allows(size) {
			continue
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			limits.label(fmt.Sprintf("%dp", q.Height), size),
			callbackQualityPrefix+strconv.Itoa(q.Height),
		))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	if limits.allows(info.AudioSizeBytes) {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(limits.label("🎵 MP3", info.AudioSizeBytes), callbackAudio),
		))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", callbackCancel),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// CancelKeyboard is attached to progress messages.
func CancelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", callbackCancel),
	))
}

// AudioKeyboard is attached to delivered TikTok videos.
func AudioKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🎵 Extract Audio", callbackTikTokAudio),
	))
}

// parseQuality returns the height of a quality callback.
func parseQuality(data string) (int, bool) {
	rest, ok := strings.CutPrefix(data, callbackQualityPrefix)
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(rest)
	if err != nil || h <= 0 {
		return 0, false
	}
	return h, true
}
