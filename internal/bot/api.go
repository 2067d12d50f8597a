package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/service"
)

// API is the part of the Telegram client the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewAPI connects to Telegram with a client whose timeout leaves room for
// large uploads.
func NewAPI(cfg config.BotConfig) (*tgbotapi.BotAPI, error) {
	client := &http.Client{
		Timeout: 10 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = cfg.Debug
	return api, nil
}

// Notifier sends job updates to Telegram chats.
type Notifier struct {
	api API
}

// NewNotifier creates a notifier on api.
func NewNotifier(api API) *Notifier {
	return &Notifier{api: api}
}

// SendStatus implements service.Notifier.
func (n *Notifier) SendStatus(ctx context.Context, chatID int64, text string, cancellable bool) (service.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return service.MessageRef{}, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if cancellable {
		msg.ReplyMarkup = CancelKeyboard()
	}
	sent, err := n.api.Send(msg)
	if err != nil {
		return service.MessageRef{}, err
	}
	return service.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// EditStatus implements service.Notifier.
func (n *Notifier) EditStatus(ctx context.Context, ref service.MessageRef, text string, cancellable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if cancellable {
		kb := CancelKeyboard()
		edit.ReplyMarkup = &kb
	}
	_, err := n.api.Request(edit)
	return err
}

// Delete implements service.Notifier.
func (n *Notifier) Delete(ctx context.Context, ref service.MessageRef) error {
	_, err := n.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID))
	return err
}

// SendText implements service.Notifier.
func (n *Notifier) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := n.api.Send(msg)
	return err
}

// SendVideo implements service.Notifier.
func (n *Notifier) SendVideo(ctx context.Context, chatID int64, path, caption string, offerAudio bool) error {
	v := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	v.Caption = caption
	v.ParseMode = tgbotapi.ModeHTML
	v.SupportsStreaming = true
	if offerAudio {
		v.ReplyMarkup = AudioKeyboard()
	}
	_, err := n.api.Send(v)
	return err
}

// SendAudio implements service.Notifier.
func (n *Notifier) SendAudio(ctx context.Context, chatID int64, path, caption string) error {
	a := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(path))
	a.Caption = caption
	a.ParseMode = tgbotapi.ModeHTML
	_, err := n.api.Send(a)
	return err
}

// SendPhotos implements service.Notifier. Albums need two to ten items; a
// single image goes out as a plain photo.
func (n *Notifier) SendPhotos(ctx context.Context, chatID int64, paths []string, caption string) error {
	switch len(paths) {
	case 0:
		return nil
	case 1:
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(paths[0]))
		p.Caption = caption
		p.ParseMode = tgbotapi.ModeHTML
		_, err := n.api.Send(p)
		return err
	}

	media := make([]interface{}, 0, len(paths))
	for i, path := range paths {
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FilePath(path))
		if i == 0 {
			photo.Caption = caption
			photo.ParseMode = tgbotapi.ModeHTML
		}
		media = append(media, photo)
	}
	_, err := n.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media))
	return err
}
