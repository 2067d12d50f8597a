// Package bot is the Telegram front end: it routes messages and button
// presses to the download service and keeps per-chat sessions.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/downloader"
	"github.com/iconidentify/clipgrab/internal/metrics"
	"github.com/iconidentify/clipgrab/internal/service"
	"github.com/iconidentify/clipgrab/internal/session"
)

// Handler names used in metrics.
const (
	handlerCommand  = "command"
	handlerYouTube  = "youtube_url"
	handlerTikTok   = "tiktok_url"
	handlerCallback = "callback"
)

// Downloader is the download flow the bot drives.
type Downloader interface {
	Describe(ctx context.Context, url string, platform domain.Platform) (*domain.MediaInfo, error)
	Process(ctx context.Context, req service.Request) (*domain.Job, error)
}

// Bot handles Telegram updates.
type Bot struct {
	api         API
	notifier    *Notifier
	downloads   Downloader
	sessions    *session.Store
	throttle    *Throttle
	limits      Limits
	pollTimeout int
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New creates a bot.
func New(api API, downloads Downloader, sessions *session.Store, cfg config.BotConfig, hosting config.HostingConfig, logger *slog.Logger) *Bot {
	return &Bot{
		api:         api,
		notifier:    NewNotifier(api),
		downloads:   downloads,
		sessions:    sessions,
		throttle:    NewThrottle(cfg.RateLimit, cfg.RatePeriod, cfg.MaxUsers),
		limits:      Limits{Inline: hosting.MaxInlineSize, Hosted: hosting.MaxHostedSize},
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}
}

// Run polls for updates until ctx is cancelled, handling each on its own
// goroutine. It returns after in-flight handlers have finished.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("bot polling started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			b.logger.Info("bot polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return errors.New("update channel closed")
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, upd)
			}()
		}
	}
}

// HandleUpdate dispatches a single update.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "update_id", upd.UpdateID, "panic", r)
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if !b.allow(msg.From.ID) {
		b.reply(ctx, chatID, throttledText)
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.reply(ctx, chatID, startText(b.limits))
		case "help":
			b.reply(ctx, chatID, helpText(b.limits))
		case "cancel":
			b.cancel(ctx, chatID, nil)
		default:
			return
		}
		metrics.RecordRequest(handlerCommand, true)
		return
	}

	url, platform, err := downloader.DetectPlatform(msg.Text)
	if err != nil {
		b.reply(ctx, chatID, invalidURLText)
		return
	}
	b.logger.Info("url received", "chat_id", chatID, "user_id", msg.From.ID, "platform", platform)

	switch platform {
	case domain.PlatformYouTube:
		b.handleYouTube(ctx, chatID, url)
	case domain.PlatformTikTok:
		b.handleTikTok(ctx, chatID, url)
	}
}

// handleYouTube fetches metadata and offers the quality keyboard.
func (b *Bot) handleYouTube(ctx context.Context, chatID int64, url string) {
	start := time.Now()
	ok := false
	defer func() {
		metrics.RecordRequest(handlerYouTube, ok)
		metrics.RecordProcessingTime(handlerYouTube, time.Since(start))
	}()

	ref, err := b.notifier.SendStatus(ctx, chatID, "⏳ Processing YouTube link...", false)
	if err != nil {
		b.logger.Warn("send status failed", "chat_id", chatID, "error", err)
		return
	}

	info, err := b.downloads.Describe(ctx, url, domain.PlatformYouTube)
	if err != nil {
		b.logger.Warn("youtube metadata failed", "chat_id", chatID, "error", err)
		metrics.RecordError(domain.PlatformYouTube, metrics.ErrorType(err))
		b.edit(ctx, ref, service.UserMessage(err))
		return
	}

	kb, offered := QualityKeyboard(info, b.limits)
	if !offered {
		b.edit(ctx, ref, unavailableText(info, b.limits))
		return
	}
	if err := b.sessions.Put(chatID, url, domain.PlatformYouTube, info); err != nil {
		b.edit(ctx, ref, service.UserMessage(err))
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, optionsText(info), kb)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Warn("send quality options failed", "chat_id", chatID, "error", err)
		return
	}
	ok = true
}

// handleTikTok downloads right away.
func (b *Bot) handleTikTok(ctx context.Context, chatID int64, url string) {
	if err := b.sessions.Put(chatID, url, domain.PlatformTikTok, nil); err != nil {
		b.reply(ctx, chatID, service.UserMessage(err))
		return
	}
	b.startDownload(ctx, handlerTikTok, service.Request{
		ChatID:   chatID,
		URL:      url,
		Platform: domain.PlatformTikTok,
	})
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		b.answer(cq.ID, "")
		return
	}
	if !b.allow(cq.From.ID) {
		b.answer(cq.ID, "Please wait...")
		return
	}

	chatID := cq.Message.Chat.ID
	ref := service.MessageRef{ChatID: chatID, MessageID: cq.Message.MessageID}

	if cq.Data == callbackCancel {
		b.answer(cq.ID, "❌ Cancelled")
		b.cancel(ctx, chatID, &ref)
		return
	}
	b.answer(cq.ID, "")

	req := service.Request{ChatID: chatID}
	switch {
	case cq.Data == callbackAudio:
		req.AudioOnly = true
		req.Status = ref
	case cq.Data == callbackTikTokAudio:
		// The pressed button belongs to a video; progress goes to a new message.
		req.AudioOnly = true
	default:
		h, ok := parseQuality(cq.Data)
		if !ok {
			b.logger.Debug("unknown callback", "data", cq.Data)
			return
		}
		req.Height = h
		req.Status = ref
	}

	sess, err := b.sessions.Get(chatID)
	if err != nil {
		b.fail(ctx, req, err)
		return
	}
	req.URL = sess.URL
	req.Platform = sess.Platform
	req.Info = sess.Info
	b.startDownload(ctx, handlerCallback, req)
}

// startDownload runs req under the chat's session so Cancel can stop it.
func (b *Bot) startDownload(ctx context.Context, handler string, req service.Request) {
	jobCtx, done, err := b.sessions.Begin(ctx, req.ChatID)
	if err != nil {
		b.fail(ctx, req, err)
		return
	}
	defer done()

	start := time.Now()
	_, err = b.downloads.Process(jobCtx, req)
	metrics.RecordRequest(handler, err == nil || errors.Is(err, domain.ErrCancelled))
	metrics.RecordProcessingTime(handler, time.Since(start))

	done()
	switch {
	case errors.Is(err, domain.ErrCancelled):
		// Cancel already dropped the session.
	case err == nil && req.Platform == domain.PlatformTikTok && !req.AudioOnly:
		// Kept for the extract-audio button under the video.
	default:
		b.sessions.Clear(req.ChatID)
	}
}

// cancel stops the chat's running download. The download reports its own
// cancellation; an idle session is just cleared.
func (b *Bot) cancel(ctx context.Context, chatID int64, ref *service.MessageRef) {
	if b.sessions.Cancel(chatID) {
		return
	}
	if ref != nil {
		b.edit(ctx, *ref, cancelledText)
		return
	}
	b.reply(ctx, chatID, cancelledText)
}

// fail reports err on the request's status message, or in a new message.
func (b *Bot) fail(ctx context.Context, req service.Request, err error) {
	if req.Status.MessageID != 0 {
		b.edit(ctx, req.Status, service.UserMessage(err))
		return
	}
	b.reply(ctx, req.ChatID, service.UserMessage(err))
}

func (b *Bot) allow(userID int64) bool {
	ok := b.throttle.Allow(userID)
	metrics.SetActiveUsers(b.throttle.Len())
	return ok
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.notifier.SendText(ctx, chatID, text); err != nil {
		b.logger.Warn("send message failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) edit(ctx context.Context, ref service.MessageRef, text string) {
	if err := b.notifier.EditStatus(ctx, ref, text, false); err != nil {
		b.logger.Debug("edit message failed", "chat_id", ref.ChatID, "error", err)
	}
}

func (b *Bot) answer(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Debug("answer callback failed", "error", err)
	}
}
