package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/iconidentify/clipgrab/internal/api"
	"github.com/iconidentify/clipgrab/internal/api/handler"
	"github.com/iconidentify/clipgrab/internal/bot"
	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/downloader"
	"github.com/iconidentify/clipgrab/internal/history"
	"github.com/iconidentify/clipgrab/internal/metrics"
	"github.com/iconidentify/clipgrab/internal/registry"
	"github.com/iconidentify/clipgrab/internal/service"
	"github.com/iconidentify/clipgrab/internal/session"
	"github.com/iconidentify/clipgrab/internal/storage"
	"github.com/iconidentify/clipgrab/internal/worker"
	"github.com/iconidentify/clipgrab/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clipgrab %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting clipgrab", "version", Version, "build_time", BuildTime)

	if err := run(cfg, logger); err != nil {
		logger.Error("clipgrab stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	ws, err := storage.NewWorkspace(cfg.Storage.TempDir, cfg.Storage.MinFreeBytes, logger.With("component", "storage"))
	if err != nil {
		return err
	}
	go ws.RunSweeper(ctx, cfg.Storage.SweepInterval, cfg.Storage.MaxAge)

	// Hosted files
	regOpts := []registry.Option{
		registry.WithLogger(logger.With("component", "registry")),
		registry.WithObserver(metrics.HostedFiles{}),
	}
	var histReader handler.HistoryReader
	if cfg.History.Path != "" {
		hist, err := history.Open(cfg.History.Path, logger.With("component", "history"))
		if err != nil {
			return err
		}
		defer hist.Close()
		regOpts = append(regOpts, registry.WithObserver(hist))
		histReader = hist
		go pruneHistory(ctx, hist, cfg.History.Retention, logger)
	}
	files := registry.New(regOpts...)
	go files.Run(ctx, cfg.Hosting.CleanupInterval)

	// Metrics
	metrics.SetBotInfo(Version, cfg.Metrics.Environment)
	var metricsSrv *metrics.Server
	if cfg.Metrics.Port > 0 {
		metricsSrv = metrics.NewServer(":"+strconv.Itoa(cfg.Metrics.Port), logger.With("component", "metrics"))
		metricsSrv.Start()
	}

	// Workers
	pool := worker.NewPool(worker.Config{
		Workers:   cfg.Worker.Count,
		QueueSize: cfg.Worker.QueueSize,
	}, logger.With("component", "worker"))
	pool.Start()
	metrics.RegisterWorkerPool(pool)

	// Media tools
	ytdlp := downloader.NewYtDlp(cfg.Download, ws.Dir(), logger.With("component", "yt-dlp"))
	if !ytdlp.Available() {
		logger.Warn("yt-dlp not found, downloads will fail", "binary", cfg.Download.YtDlpPath)
	}
	var transcoder service.Transcoder
	if proc, err := ffmpeg.NewProcessor(cfg.Download.FFmpegPath); err != nil {
		logger.Warn("ffmpeg not available, audio extraction disabled", "error", err)
	} else {
		transcoder = proc
		if v, err := proc.Version(ctx); err == nil {
			logger.Info("ffmpeg found", "version", v)
		}
	}

	// Chat
	tg, err := bot.NewAPI(cfg.Bot)
	if err != nil {
		return err
	}
	logger.Info("authorized on telegram", "username", tg.Self.UserName)

	downloads := service.NewDownloadService(service.Deps{
		Fetcher:    downloader.NewCachedFetcher(ytdlp, cfg.Download.CacheSize, cfg.Download.CacheTTL),
		Images:     downloader.NewHTTPDownloader(cfg.Download, ws.Dir(), logger.With("component", "http-downloader")),
		Transcoder: transcoder,
		Pool:       pool,
		Workspace:  ws,
		Files:      files,
		Notifier:   bot.NewNotifier(tg),
	}, cfg.Hosting, cfg.Download, logger.With("component", "download"))

	sessions := session.NewStore(cfg.Bot.SessionExpiry, session.WithLogger(logger.With("component", "session")))
	go sessions.Run(ctx, time.Minute)

	chat := bot.New(tg, downloads, sessions, cfg.Bot, cfg.Hosting, logger.With("component", "bot"))

	// HTTP
	router := api.NewRouter(
		handler.NewDeliveryHandler(files, logger.With("component", "delivery")),
		handler.NewHealthHandler(),
		handler.NewAdminHandler(files, ws, histReader, logger.With("component", "admin")),
		cfg.Server.AdminKey,
	)
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr, "base_url", cfg.Hosting.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := chat.Run(ctx); err != nil {
			errCh <- fmt.Errorf("bot: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "error", runErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Running downloads see the cancelled context and clean up.
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		logger.Warn("bot handlers did not finish in time")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := pool.Stop(10 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	return runErr
}

// pruneHistory drops old history rows once a day.
func pruneHistory(ctx context.Context, hist *history.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if n, err := hist.Prune(ctx, retention); err != nil {
			logger.Warn("history prune failed", "error", err)
		} else if n > 0 {
			logger.Info("history pruned", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
