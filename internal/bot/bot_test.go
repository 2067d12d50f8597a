package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/service"
	"github.com/iconidentify/clipgrab/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI records every outgoing call in order.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []tgbotapi.Chattable
	groups  []tgbotapi.MediaGroupConfig
	nextID  int
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) SendMediaGroup(cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, cfg)
	return nil, nil
}

func (f *fakeAPI) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// texts returns the text of every sent or edited message.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastText() string {
	t := f.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type fakeDownloads struct {
	info        *domain.MediaInfo
	describeErr error
	block       bool
	started     chan struct{}
	processErr  error

	mu       sync.Mutex
	requests []service.Request
	ctxErrs  []error
}

func (f *fakeDownloads) Describe(ctx context.Context, url string, platform domain.Platform) (*domain.MediaInfo, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.info, nil
}

func (f *fakeDownloads) Process(ctx context.Context, req service.Request) (*domain.Job, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	job := domain.NewJob("job", req.ChatID, req.URL, req.Platform)
	if f.block {
		close(f.started)
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErrs = append(f.ctxErrs, ctx.Err())
		f.mu.Unlock()
		return job, domain.ErrCancelled
	}
	return job, f.processErr
}

func (f *fakeDownloads) processed() []service.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.Request(nil), f.requests...)
}

const mb = 1024 * 1024

type botFixture struct {
	bot       *Bot
	api       *fakeAPI
	downloads *fakeDownloads
	sessions  *session.Store
}

func newBotFixture(rateLimit int) *botFixture {
	api := newFakeAPI()
	downloads := &fakeDownloads{
		info: &domain.MediaInfo{
			Title:              "Cats <3",
			Author:             "Kitty",
			DurationSeconds:    95,
			EstimatedSizeBytes: 30 * mb,
			AudioSizeBytes:     2 * mb,
			Qualities:          []domain.Quality{{Height: 720, EstimatedSize: 30 * mb}, {Height: 1080, EstimatedSize: 80 * mb}},
		},
		started: make(chan struct{}),
	}
	sessions := session.NewStore(time.Minute)
	cfg := config.BotConfig{RateLimit: rateLimit, RatePeriod: time.Hour, MaxUsers: 10, PollTimeout: 1}
	hosting := config.HostingConfig{MaxInlineSize: 50 * mb, MaxHostedSize: 2048 * mb}

	return &botFixture{
		bot:       New(api, downloads, sessions, cfg, hosting, testLogger()),
		api:       api,
		downloads: downloads,
		sessions:  sessions,
	}
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: chatID},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}}
	}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func TestHandleUpdate_Commands(t *testing.T) {
	f := newBotFixture(100)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, textUpdate(1, "/start"))
	if got := f.api.lastText(); !strings.Contains(got, "Video Downloader Bot") || !strings.Contains(got, "50.0 MB") {
		t.Errorf("start text = %q", got)
	}

	f.bot.HandleUpdate(ctx, textUpdate(1, "/help"))
	if got := f.api.lastText(); !strings.Contains(got, "How to use") {
		t.Errorf("help text = %q", got)
	}
}

func TestHandleUpdate_InvalidURL(t *testing.T) {
	f := newBotFixture(100)
	f.bot.HandleUpdate(context.Background(), textUpdate(1, "https://vimeo.com/123"))

	if got := f.api.lastText(); got != invalidURLText {
		t.Errorf("reply = %q, want invalid URL text", got)
	}
	if len(f.downloads.processed()) != 0 {
		t.Error("invalid URL must not start a download")
	}
}

func TestHandleUpdate_YouTubeOffersQualities(t *testing.T) {
	f := newBotFixture(100)
	f.bot.HandleUpdate(context.Background(), textUpdate(1, "https://youtu.be/abc"))

	var options *tgbotapi.EditMessageTextConfig
	f.api.mu.Lock()
	for _, c := range f.api.calls {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok && e.ReplyMarkup != nil {
			options = &e
		}
	}
	f.api.mu.Unlock()

	if options == nil {
		t.Fatal("quality keyboard not sent")
	}
	if !strings.Contains(options.Text, "Cats &lt;3") || !strings.Contains(options.Text, "1:35") {
		t.Errorf("options text = %q", options.Text)
	}
	if n := len(buttons(*options.ReplyMarkup)); n != 4 {
		t.Errorf("buttons = %d, want 4", n)
	}

	sess, err := f.sessions.Get(1)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.URL != "https://youtu.be/abc" || sess.Info != f.downloads.info {
		t.Errorf("session = %+v", sess)
	}
}

func TestHandleUpdate_YouTubeMetadataError(t *testing.T) {
	f := newBotFixture(100)
	f.downloads.describeErr = domain.NewDownloadError(domain.PlatformYouTube, "metadata", domain.ErrMetadataTimeout)

	f.bot.HandleUpdate(context.Background(), textUpdate(1, "https://www.youtube.com/watch?v=abc"))

	if got := f.api.lastText(); got != service.UserMessage(domain.ErrMetadataTimeout) {
		t.Errorf("last text = %q", got)
	}
	if _, err := f.sessions.Get(1); err == nil {
		t.Error("failed lookup must not create a session")
	}
}

func TestHandleUpdate_QualityCallback(t *testing.T) {
	f := newBotFixture(100)
	ctx := context.Background()
	f.bot.HandleUpdate(ctx, textUpdate(1, "https://youtu.be/abc"))
	f.bot.HandleUpdate(ctx, callbackUpdate(1, 55, "quality_720"))

	reqs := f.downloads.processed()
	if len(reqs) != 1 {
		t.Fatalf("downloads = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Height != 720 || req.AudioOnly || req.Platform != domain.PlatformYouTube {
		t.Errorf("request = %+v", req)
	}
	if req.Info != f.downloads.info {
		t.Error("request should carry the session metadata")
	}
	if req.Status != (service.MessageRef{ChatID: 1, MessageID: 55}) {
		t.Errorf("Status = %+v, want the pressed message", req.Status)
	}

	f.api.mu.Lock()
	answered := false
	for _, c := range f.api.calls {
		if _, ok := c.(tgbotapi.CallbackConfig); ok {
			answered = true
		}
	}
	f.api.mu.Unlock()
	if !answered {
		t.Error("callback query not answered")
	}
}

func TestHandleUpdate_AudioCallback(t *testing.T) {
	f := newBotFixture(100)
	ctx := context.Background()
	f.bot.HandleUpdate(ctx, textUpdate(1, "https://youtu.be/abc"))
	f.bot.HandleUpdate(ctx, callbackUpdate(1, 55, "format_audio"))

	reqs := f.downloads.processed()
	if len(reqs) != 1 || !reqs[0].AudioOnly {
		t.Fatalf("requests = %+v, want one audio download", reqs)
	}
}

func TestHandleUpdate_SessionClearedAfterDownload(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		callback string
		err      error
		wantKept bool
	}{
		{name: "youtube failure", url: "https://youtu.be/abc", callback: "quality_720",
			err: domain.NewDownloadError(domain.PlatformYouTube, "download", domain.ErrDownloadFailed)},
		{name: "youtube success", url: "https://youtu.be/abc", callback: "quality_720"},
		{name: "tiktok failure", url: "https://vm.tiktok.com/ZMabc/",
			err: domain.NewDownloadError(domain.PlatformTikTok, "download", domain.ErrDownloadFailed)},
		{name: "tiktok video success", url: "https://vm.tiktok.com/ZMabc/", wantKept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBotFixture(100)
			f.downloads.processErr = tt.err
			ctx := context.Background()
			f.bot.HandleUpdate(ctx, textUpdate(1, tt.url))
			if tt.callback != "" {
				f.bot.HandleUpdate(ctx, callbackUpdate(1, 55, tt.callback))
			}

			if len(f.downloads.processed()) != 1 {
				t.Fatalf("downloads = %d, want 1", len(f.downloads.processed()))
			}
			_, err := f.sessions.Get(1)
			if kept := err == nil; kept != tt.wantKept {
				t.Errorf("session kept = %v, want %v", kept, tt.wantKept)
			}
		})
	}

	// A fresh attempt after a failure starts from the link again.
	f := newBotFixture(100)
	f.downloads.processErr = domain.ErrDownloadFailed
	ctx := context.Background()
	f.bot.HandleUpdate(ctx, textUpdate(1, "https://youtu.be/abc"))
	f.bot.HandleUpdate(ctx, callbackUpdate(1, 55, "quality_720"))
	f.bot.HandleUpdate(ctx, callbackUpdate(1, 55, "quality_1080"))
	if len(f.downloads.processed()) != 1 {
		t.Errorf("downloads = %d, want the retry to need a new link", len(f.downloads.processed()))
	}
	if got := f.api.lastText(); got != service.UserMessage(domain.ErrSessionExpired) {
		t.Errorf("last text = %q", got)
	}
}

func TestHandleUpdate_CallbackWithoutSession(t *testing.T) {
	f := newBotFixture(100)
	f.bot.HandleUpdate(context.Background(), callbackUpdate(1, 55, "quality_720"))

	if len(f.downloads.processed()) != 0 {
		t.Error("expired session must not start a download")
	}
	if got := f.api.lastText(); got != service.UserMessage(domain.ErrSessionExpired) {
		t.Errorf("last text = %q", got)
	}
}

func TestHandleUpdate_TikTokDownloadsImmediately(t *testing.T) {
	f := newBotFixture(100)
	ctx := context.Background()
	f.bot.HandleUpdate(ctx, textUpdate(1, "https://vm.tiktok.com/ZMabc/"))

	reqs := f.downloads.processed()
	if len(reqs) != 1 {
		t.Fatalf("downloads = %d, want 1", len(reqs))
	}
	if reqs[0].Platform != domain.PlatformTikTok || reqs[0].Status.MessageID != 0 {
		t.Errorf("request = %+v", reqs[0])
	}

	// The audio button under the delivered video re-downloads as audio.
	f.bot.HandleUpdate(ctx, callbackUpdate(1, 77, "tiktok_extract_audio"))
	reqs = f.downloads.processed()
	if len(reqs) != 2 || !reqs[1].AudioOnly || reqs[1].Status.MessageID != 0 {
		t.Errorf("audio request = %+v", reqs)
	}
}

func TestHandleUpdate_CancelRunningDownload(t *testing.T) {
	f := newBotFixture(100)
	f.downloads.block = true
	ctx := context.Background()

	finished := make(chan struct{})
	go func() {
		f.bot.HandleUpdate(ctx, textUpdate(1, "https://www.tiktok.com/@u/video/1"))
		close(finished)
	}()

	select {
	case <-f.downloads.started:
	case <-time.After(time.Second):
		t.Fatal("download did not start")
	}

	// A second link while the first runs is refused.
	f.bot.HandleUpdate(ctx, textUpdate(1, "https://www.tiktok.com/@u/video/2"))
	if got := f.api.lastText(); got != service.UserMessage(domain.ErrBusy) {
		t.Errorf("busy reply = %q", got)
	}

	f.bot.HandleUpdate(ctx, callbackUpdate(1, 9, "cancel"))

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("download was not cancelled")
	}

	f.downloads.mu.Lock()
	defer f.downloads.mu.Unlock()
	if len(f.downloads.ctxErrs) != 1 || f.downloads.ctxErrs[0] != context.Canceled {
		t.Errorf("job context errors = %v, want [context canceled]", f.downloads.ctxErrs)
	}
}

func TestHandleUpdate_CancelIdle(t *testing.T) {
	f := newBotFixture(100)
	ctx := context.Background()
	f.bot.HandleUpdate(ctx, textUpdate(1, "https://youtu.be/abc"))
	f.bot.HandleUpdate(ctx, callbackUpdate(1, 55, "cancel"))

	if got := f.api.lastText(); got != cancelledText {
		t.Errorf("last text = %q, want %q", got, cancelledText)
	}
	if _, err := f.sessions.Get(1); err == nil {
		t.Error("cancel should clear the session")
	}
}

func TestHandleUpdate_Throttled(t *testing.T) {
	f := newBotFixture(1)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, textUpdate(1, "/start"))
	f.bot.HandleUpdate(ctx, textUpdate(1, "/start"))

	texts := f.api.texts()
	if len(texts) != 2 || texts[1] != throttledText {
		t.Errorf("texts = %q", texts)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newBotFixture(100)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.bot.Run(ctx) }()

	f.api.updates <- textUpdate(1, "/help")
	deadline := time.Now().Add(time.Second)
	for len(f.api.texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(f.api.texts()) == 0 {
		t.Fatal("update not handled")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	if !f.api.stopped {
		t.Error("StopReceivingUpdates not called")
	}
}

func TestNotifier_SendPhotos(t *testing.T) {
	api := newFakeAPI()
	n := NewNotifier(api)
	ctx := context.Background()

	if err := n.SendPhotos(ctx, 1, []string{"/tmp/a.jpeg"}, "cap"); err != nil {
		t.Fatalf("SendPhotos() error = %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.calls))
	}
	if p, ok := api.calls[0].(tgbotapi.PhotoConfig); !ok || p.Caption != "cap" {
		t.Errorf("single photo sent as %T", api.calls[0])
	}

	if err := n.SendPhotos(ctx, 1, []string{"/tmp/a.jpeg", "/tmp/b.jpeg", "/tmp/c.jpeg"}, "cap"); err != nil {
		t.Fatalf("SendPhotos() error = %v", err)
	}
	if len(api.groups) != 1 || len(api.groups[0].Media) != 3 {
		t.Fatalf("groups = %+v", api.groups)
	}
	first := api.groups[0].Media[0].(tgbotapi.InputMediaPhoto)
	second := api.groups[0].Media[1].(tgbotapi.InputMediaPhoto)
	if first.Caption != "cap" || second.Caption != "" {
		t.Errorf("captions = %q, %q", first.Caption, second.Caption)
	}
}

func TestNotifier_StatusKeyboard(t *testing.T) {
	api := newFakeAPI()
	n := NewNotifier(api)
	ctx := context.Background()

	ref, err := n.SendStatus(ctx, 1, "working", true)
	if err != nil {
		t.Fatalf("SendStatus() error = %v", err)
	}
	if ref.ChatID != 1 || ref.MessageID == 0 {
		t.Errorf("ref = %+v", ref)
	}

	if err := n.EditStatus(ctx, ref, "50%", true); err != nil {
		t.Fatalf("EditStatus() error = %v", err)
	}
	if err := n.EditStatus(ctx, ref, "done", false); err != nil {
		t.Fatalf("EditStatus() error = %v", err)
	}
	withKb := api.calls[1].(tgbotapi.EditMessageTextConfig)
	withoutKb := api.calls[2].(tgbotapi.EditMessageTextConfig)
	if withKb.ReplyMarkup == nil || withoutKb.ReplyMarkup != nil {
		t.Errorf("keyboards = %v, %v", withKb.ReplyMarkup, withoutKb.ReplyMarkup)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := n.EditStatus(cancelled, ref, "late", true); err == nil {
		t.Error("EditStatus with a cancelled context should fail")
	}
}
