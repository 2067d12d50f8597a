package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Hosting  HostingConfig  `yaml:"hosting"`
	Storage  StorageConfig  `yaml:"storage"`
	Download DownloadConfig `yaml:"download"`
	Worker   WorkerConfig   `yaml:"worker"`
	Bot      BotConfig      `yaml:"bot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the file server configuration. There is no write
// timeout because hosted files stream for as long as the client reads.
type ServerConfig struct {
	Host              string        `yaml:"host" envconfig:"WEB_HOST" default:"0.0.0.0"`
	Port              int           `yaml:"port" envconfig:"WEB_PORT" default:"8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"WEB_READ_HEADER_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" envconfig:"WEB_IDLE_TIMEOUT" default:"2m"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"WEB_SHUTDOWN_TIMEOUT" default:"30s"`
	// AdminKey enables /api/v1 when set.
	AdminKey string `yaml:"admin_key" envconfig:"ADMIN_API_KEY"`
}

// HostingConfig controls inline delivery versus web hosting.
type HostingConfig struct {
	// MaxInlineSize is the largest file sent through the chat API.
	MaxInlineSize     int64         `yaml:"max_inline_size" envconfig:"MAX_FILE_SIZE" default:"52428800"` // 50MB
	FileExpirySeconds int           `yaml:"file_expiry_seconds" envconfig:"FILE_EXPIRY_SECONDS" default:"1800"`
	BaseURL           string        `yaml:"base_url" envconfig:"WEB_BASE_URL" default:"http://localhost:8080"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" envconfig:"HOSTING_CLEANUP_INTERVAL" default:"5m"`
	MaxHostedSize     int64         `yaml:"max_hosted_size" envconfig:"MAX_HOSTED_FILE_SIZE" default:"2147483648"` // 2GB
	ExtractAudio      bool          `yaml:"extract_audio" envconfig:"EXTRACT_AUDIO" default:"true"`
}

// StorageConfig holds temp directory configuration.
type StorageConfig struct {
	TempDir       string        `yaml:"temp_dir" envconfig:"TEMP_DIR" default:"temp"`
	MinFreeBytes  int64         `yaml:"min_free_bytes" envconfig:"MIN_FREE_BYTES" default:"536870912"` // 512MB
	MaxAge        time.Duration `yaml:"max_age" envconfig:"TEMP_MAX_AGE" default:"24h"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"TEMP_SWEEP_INTERVAL" default:"1h"`
}

// DownloadConfig holds media download configuration.
type DownloadConfig struct {
	MetadataTimeout     time.Duration `yaml:"metadata_timeout" envconfig:"METADATA_TIMEOUT" default:"30s"`
	Timeout             time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"30m"`
	MaxRetries          int           `yaml:"max_retries" envconfig:"MAX_DOWNLOAD_RETRIES" default:"3"`
	RetryDelay          time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY" default:"2s"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY" default:"30s"`
	StallTimeout        time.Duration `yaml:"stall_timeout" envconfig:"DOWNLOAD_STALL_TIMEOUT" default:"60s"`
	ConcurrentFragments int           `yaml:"concurrent_fragments" envconfig:"CONCURRENT_FRAGMENT_DOWNLOADS" default:"4"`
	ProgressInterval    time.Duration `yaml:"progress_interval" envconfig:"PROGRESS_INTERVAL" default:"500ms"`
	ProgressThreshold   float64       `yaml:"progress_threshold" envconfig:"PROGRESS_THRESHOLD" default:"5"`
	ProgressStopWait    time.Duration `yaml:"progress_stop_wait" envconfig:"PROGRESS_STOP_WAIT" default:"2s"`
	YtDlpPath           string        `yaml:"ytdlp_path" envconfig:"YTDLP_PATH" default:"yt-dlp"`
	FFmpegPath          string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	UserAgent           string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
	CacheTTL            time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"1h"`
	CacheSize           int           `yaml:"cache_size" envconfig:"CACHE_SIZE" default:"256"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count     int `yaml:"count" envconfig:"WORKER_COUNT" default:"4"`
	QueueSize int `yaml:"queue_size" envconfig:"WORKER_QUEUE_SIZE" default:"64"`
}

// BotConfig holds chat bot configuration.
type BotConfig struct {
	Token         string        `yaml:"token" envconfig:"BOT_TOKEN"`
	RateLimit     int           `yaml:"rate_limit" envconfig:"BOT_RATE_LIMIT" default:"1"`
	RatePeriod    time.Duration `yaml:"rate_period" envconfig:"BOT_RATE_PERIOD" default:"1s"`
	MaxUsers      int           `yaml:"max_users" envconfig:"BOT_MAX_USERS" default:"10000"`
	SessionExpiry time.Duration `yaml:"session_expiry" envconfig:"SESSION_EXPIRY" default:"5m"`
	PollTimeout   int           `yaml:"poll_timeout" envconfig:"BOT_POLL_TIMEOUT" default:"60"`
	Debug         bool          `yaml:"debug" envconfig:"BOT_DEBUG" default:"false"`
}

// MetricsConfig holds Prometheus exporter configuration.
type MetricsConfig struct {
	// Port 0 disables the exporter.
	Port        int    `yaml:"port" envconfig:"METRICS_PORT" default:"8000"`
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT" default:"production"`
}

// HistoryConfig holds the hosted-file history configuration.
type HistoryConfig struct {
	// Path empty disables the history store.
	Path      string        `yaml:"path" envconfig:"HISTORY_DB_PATH"`
	Retention time.Duration `yaml:"retention" envconfig:"HISTORY_RETENTION" default:"720h"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and sane.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("WEB_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Hosting.MaxInlineSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.Hosting.MaxHostedSize < c.Hosting.MaxInlineSize {
		return fmt.Errorf("MAX_HOSTED_FILE_SIZE must not be below MAX_FILE_SIZE")
	}
	if c.Hosting.FileExpirySeconds <= 0 {
		return fmt.Errorf("FILE_EXPIRY_SECONDS must be positive")
	}
	u, err := url.Parse(c.Hosting.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("WEB_BASE_URL must be an absolute http(s) URL, got %q", c.Hosting.BaseURL)
	}
	if c.Storage.TempDir == "" {
		return fmt.Errorf("TEMP_DIR is required")
	}
	if c.Download.ProgressThreshold <= 0 || c.Download.ProgressThreshold > 100 {
		return fmt.Errorf("PROGRESS_THRESHOLD must be in (0, 100]")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 0 and 65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Port != 0 && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("METRICS_PORT must differ from WEB_PORT")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FileTTL returns the lifetime of hosted files.
func (c *HostingConfig) FileTTL() time.Duration {
	return time.Duration(c.FileExpirySeconds) * time.Second
}

// DownloadURL returns the public landing page URL for token.
func (c *HostingConfig) DownloadURL(token string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/download/" + token
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
}
