package downloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/progress"
)

// outputMarker prefixes the line yt-dlp prints with the final file path.
const outputMarker = "CLIPGRAB_FILE:"

// stderrTail bounds how much yt-dlp stderr is kept for error messages.
const stderrTail = 4096

var progressLine = regexp.MustCompile(`^\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)

// commandFunc builds the subprocess for a tool invocation.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// YtDlp runs the yt-dlp binary to describe and download media.
type YtDlp struct {
	binary     string
	ffmpegPath string
	userAgent  string
	fragments  int
	retries    int
	dir        string
	logger     *slog.Logger
	command    commandFunc
}

// NewYtDlp creates an adapter that writes downloads to dir.
func NewYtDlp(cfg config.DownloadConfig, dir string, logger *slog.Logger) *YtDlp {
	if logger == nil {
		logger = slog.Default()
	}
	binary := cfg.YtDlpPath
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{
		binary:     binary,
		ffmpegPath: cfg.FFmpegPath,
		userAgent:  cfg.UserAgent,
		fragments:  max(cfg.ConcurrentFragments, 1),
		retries:    max(cfg.MaxRetries, 0),
		dir:        dir,
		logger:     logger,
		command:    exec.CommandContext,
	}
}

// Available reports whether the yt-dlp binary can be found.
func (y *YtDlp) Available() bool {
	_, err := exec.LookPath(y.binary)
	return err == nil
}

func (y *YtDlp) commonArgs() []string {
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--socket-timeout", "30",
	}
	if y.userAgent != "" {
		args = append(args, "--user-agent", y.userAgent)
	}
	return args
}

// FetchMetadata runs yt-dlp in JSON dump mode. A deadline on ctx maps to
// domain.ErrMetadataTimeout.
func (y *YtDlp) FetchMetadata(ctx context.Context, url string) (*domain.MediaInfo, error) {
	args := append(y.commonArgs(), "--dump-single-json", "--skip-download", "--", url)

	cmd := y.command(ctx, y.binary, args...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, domain.ErrMetadataTimeout
		}
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMetadataFailed, stderr.lastLine(err))
	}

	info, err := parseInfo(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataFailed, err)
	}
	return info, nil
}

// Download runs yt-dlp and forwards its progress lines to hook. The process
// is killed when ctx is cancelled.
func (y *YtDlp) Download(ctx context.Context, url string, opts Options, hook ProgressHook) (domain.DownloadResult, error) {
	if hook == nil {
		hook = func(progress.Event) {}
	}
	if opts.Stem == "" {
		opts.Stem = "media_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	logger := y.logger.With("stem", opts.Stem, "audio_only", opts.AudioOnly, "height", opts.Height)
	logger.Info("starting download")

	cmd := y.command(ctx, y.binary, y.downloadArgs(url, opts)...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.NewDownloadError("", "start yt-dlp", err)
	}

	reported := scanOutput(stdout, hook)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		logger.Info("download aborted", "reason", ctx.Err())
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDownloadFailed, stderr.lastLine(waitErr))
	}
	hook(progress.Event{Status: progress.StatusFinished, Percent: 100})

	path, err := y.locateOutput(reported, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("download finished", "path", path)

	if opts.AudioOnly {
		return domain.AudioResult{Path: path}, nil
	}
	return domain.VideoResult{Path: path}, nil
}

func (y *YtDlp) downloadArgs(url string, opts Options) []string {
	args := y.commonArgs()
	args = append(args,
		"--newline",
		"--progress",
		"--print", "after_move:"+outputMarker+"%(filepath)s",
		"--concurrent-fragments", strconv.Itoa(y.fragments),
		"--retries", strconv.Itoa(y.retries),
		"--fragment-retries", strconv.Itoa(y.retries),
		"--extractor-retries", strconv.Itoa(y.retries),
	)
	if y.ffmpegPath != "" {
		args = append(args, "--ffmpeg-location", y.ffmpegPath)
	}

	switch {
	case opts.AudioOnly:
		args = append(args,
			"-f", "bestaudio/best",
			"-x", "--audio-format", "mp3", "--audio-quality", "192K",
			"-o", filepath.Join(y.dir, opts.Stem+"_audio.%(ext)s"),
		)
	case opts.Height > 0:
		h := strconv.Itoa(opts.Height)
		args = append(args,
			"-f", "bestvideo[height<="+h+"]+bestaudio[ext=m4a]/bestvideo[height<="+h+"]+bestaudio/best[height<="+h+"]",
			"--merge-output-format", "mp4",
			"-o", filepath.Join(y.dir, opts.Stem+"_"+h+"p.%(ext)s"),
		)
	default:
		args = append(args,
			"-f", "best",
			"--merge-output-format", "mp4",
			"-o", filepath.Join(y.dir, opts.Stem+".%(ext)s"),
		)
	}
	return append(args, "--", url)
}

// locateOutput returns the reported output path, or the newest file in the
// download directory carrying the stem.
func (y *YtDlp) locateOutput(reported string, opts Options) (string, error) {
	if reported != "" {
		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}
	}

	matches, _ := filepath.Glob(filepath.Join(y.dir, opts.Stem+"*"))
	var newest string
	var newestMod time.Time
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if opts.AudioOnly && filepath.Ext(m) != ".mp3" {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = m, info.ModTime()
		}
	}
	if newest == "" {
		return "", domain.ErrNoOutput
	}
	return newest, nil
}

// scanOutput forwards progress lines to hook and returns the last reported
// output path.
func scanOutput(r io.Reader, hook ProgressHook) string {
	var path string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if p, ok := parseProgressLine(line); ok {
			hook(progress.Event{Status: progress.StatusDownloading, Percent: p})
			continue
		}
		if rest, ok := strings.CutPrefix(line, outputMarker); ok {
			path = rest
		}
	}
	// Drain so the process never blocks on a full pipe.
	io.Copy(io.Discard, r)
	return path
}

// parseProgressLine extracts the percentage of a "[download]  42.0% ..." line.
func parseProgressLine(line string) (float64, bool) {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTail {
		t.buf = t.buf[len(t.buf)-stderrTail:]
	}
	return len(p), nil
}

// lastLine returns the last non-empty stderr line, falling back to err.
func (t *tailBuffer) lastLine(err error) string {
	lines := bytes.Split(bytes.TrimSpace(t.buf), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(string(lines[i])); l != "" {
			return l
		}
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}
