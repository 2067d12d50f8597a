package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns a config that passes Validate.
func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Hosting:  HostingConfig{MaxInlineSize: 50 << 20, MaxHostedSize: 2 << 30, FileExpirySeconds: 1800, BaseURL: "https://dl.example.com"},
		Storage:  StorageConfig{TempDir: "temp"},
		Download: DownloadConfig{ProgressThreshold: 5},
		Bot:      BotConfig{Token: "123:abc"},
		Metrics:  MetricsConfig{Port: 8000},
		Log:      LogConfig{Level: "info"},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() should pass, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing bot token", func(c *Config) { c.Bot.Token = "" }},
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"inline size zero", func(c *Config) { c.Hosting.MaxInlineSize = 0 }},
		{"hosted below inline", func(c *Config) { c.Hosting.MaxHostedSize = 1 }},
		{"expiry zero", func(c *Config) { c.Hosting.FileExpirySeconds = 0 }},
		{"relative base url", func(c *Config) { c.Hosting.BaseURL = "/download" }},
		{"ftp base url", func(c *Config) { c.Hosting.BaseURL = "ftp://example.com" }},
		{"empty temp dir", func(c *Config) { c.Storage.TempDir = "" }},
		{"threshold zero", func(c *Config) { c.Download.ProgressThreshold = 0 }},
		{"threshold above 100", func(c *Config) { c.Download.ProgressThreshold = 101 }},
		{"metrics port clash", func(c *Config) { c.Metrics.Port = 8080 }},
		{"metrics port negative", func(c *Config) { c.Metrics.Port = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestConfig_Validate_MetricsDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("METRICS_PORT=0 should be valid, got %v", err)
	}
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{name: "default", cfg: ServerConfig{Host: "0.0.0.0", Port: 8080}, want: "0.0.0.0:8080"},
		{name: "localhost", cfg: ServerConfig{Host: "localhost", Port: 9000}, want: "localhost:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHostingConfig(t *testing.T) {
	h := HostingConfig{FileExpirySeconds: 1800, BaseURL: "https://dl.example.com/"}

	if got := h.FileTTL(); got != 30*time.Minute {
		t.Errorf("FileTTL() = %v, want 30m", got)
	}
	if got := h.DownloadURL("abc"); got != "https://dl.example.com/download/abc" {
		t.Errorf("DownloadURL() = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Hosting.MaxInlineSize != 50*1024*1024 {
		t.Errorf("MaxInlineSize = %d, want 50MiB", cfg.Hosting.MaxInlineSize)
	}
	if cfg.Hosting.FileExpirySeconds != 1800 {
		t.Errorf("FileExpirySeconds = %d, want 1800", cfg.Hosting.FileExpirySeconds)
	}
	if cfg.Hosting.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.Hosting.BaseURL)
	}
	if !cfg.Hosting.ExtractAudio {
		t.Error("ExtractAudio should default to true")
	}
	if cfg.Download.MetadataTimeout != 30*time.Second {
		t.Errorf("MetadataTimeout = %v, want 30s", cfg.Download.MetadataTimeout)
	}
	if cfg.Download.ProgressInterval != 500*time.Millisecond {
		t.Errorf("ProgressInterval = %v, want 500ms", cfg.Download.ProgressInterval)
	}
	if cfg.Download.ConcurrentFragments != 4 {
		t.Errorf("ConcurrentFragments = %d, want 4", cfg.Download.ConcurrentFragments)
	}
	if cfg.Bot.SessionExpiry != 5*time.Minute {
		t.Errorf("SessionExpiry = %v, want 5m", cfg.Bot.SessionExpiry)
	}
	if cfg.Metrics.Port != 8000 {
		t.Errorf("Metrics.Port = %d, want 8000", cfg.Metrics.Port)
	}
	if cfg.History.Path != "" {
		t.Errorf("History.Path = %q, want empty", cfg.History.Path)
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	// envconfig applies defaults over YAML values, so only fields without
	// a default can come from the file alone.
	yamlContent := `
bot:
  token: "yaml-token"
server:
  admin_key: "yaml-admin"
history:
  path: "/var/lib/clipgrab/history.db"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bot.Token != "yaml-token" {
		t.Errorf("Token = %q, want %q", cfg.Bot.Token, "yaml-token")
	}
	if cfg.Server.AdminKey != "yaml-admin" {
		t.Errorf("AdminKey = %q, want %q", cfg.Server.AdminKey, "yaml-admin")
	}
	if cfg.History.Path != "/var/lib/clipgrab/history.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
bot:
  token: "yaml-token"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("FILE_EXPIRY_SECONDS", "60")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bot.Token != "env-token" {
		t.Errorf("Token should be from env, got %q", cfg.Bot.Token)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Hosting.FileTTL() != time.Minute {
		t.Errorf("FileTTL() = %v, want 1m", cfg.Hosting.FileTTL())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	invalidYAML := `
bot:
  token: "unterminated
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load should fail for invalid YAML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load should fail for nonexistent file")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")

	if _, err := Load(""); err == nil {
		t.Error("Load should fail validation without BOT_TOKEN")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "CLIPGRAB_TEST_FROM_FILE=file\nCLIPGRAB_TEST_PRESET=file\n"
	if err := os.WriteFile(envPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	t.Setenv("CLIPGRAB_TEST_PRESET", "env")
	// Registers cleanup for a variable LoadDotEnv is about to set.
	t.Setenv("CLIPGRAB_TEST_FROM_FILE", "")
	os.Unsetenv("CLIPGRAB_TEST_FROM_FILE")

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	if got := os.Getenv("CLIPGRAB_TEST_FROM_FILE"); got != "file" {
		t.Errorf("CLIPGRAB_TEST_FROM_FILE = %q, want %q", got, "file")
	}
	if got := os.Getenv("CLIPGRAB_TEST_PRESET"); got != "env" {
		t.Errorf("existing variable overridden: %q", got)
	}
}
