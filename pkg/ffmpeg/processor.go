// Package ffmpeg wraps the ffmpeg and ffprobe binaries.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoAudio is returned when the input has no audio stream.
var ErrNoAudio = errors.New("input has no audio stream")

// Processor runs ffmpeg commands.
type Processor struct {
	ffmpegPath  string
	ffprobePath string

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewProcessor locates ffmpeg (and ffprobe next to it or in PATH). ffprobe
// is optional; without it audio presence is not checked up front.
func NewProcessor(ffmpegPath string) (*Processor, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	p := &Processor{ffmpegPath: resolved, command: exec.CommandContext}
	sibling := filepath.Join(filepath.Dir(resolved), "ffprobe")
	if path, err := exec.LookPath(sibling); err == nil {
		p.ffprobePath = path
	} else if path, err := exec.LookPath("ffprobe"); err == nil {
		p.ffprobePath = path
	}
	return p, nil
}

// StreamInfo describes the streams of a media file.
type StreamInfo struct {
	Duration   float64 // seconds
	HasAudio   bool
	HasVideo   bool
	AudioCodec string
	VideoCodec string
}

// Probe reads stream information with ffprobe.
func (p *Processor) Probe(ctx context.Context, path string) (*StreamInfo, error) {
	if p.ffprobePath == "" {
		return nil, errors.New("ffprobe not available")
	}

	cmd := p.command(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := &StreamInfo{}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			info.HasVideo = true
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
			}
		}
	}
	return info, nil
}

// AudioPath returns the mp3 path extracted from videoPath: the same
// directory and stem with an "_audio.mp3" suffix.
func AudioPath(videoPath string) string {
	stem := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	return stem + "_audio.mp3"
}

// ExtractAudio writes the audio track of videoPath as VBR mp3 to
// AudioPath(videoPath) and returns that path. A partial output is removed
// on failure.
func (p *Processor) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	if p.ffprobePath != "" {
		info, err := p.Probe(ctx, videoPath)
		if err == nil && !info.HasAudio {
			return "", ErrNoAudio
		}
	}

	out := AudioPath(videoPath)
	if err := p.run(ctx, "-i", videoPath, "-q:a", "0", "-map", "a", out, "-y"); err != nil {
		os.Remove(out)
		if strings.Contains(err.Error(), "matches no streams") {
			return "", ErrNoAudio
		}
		return "", fmt.Errorf("extract audio: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("extract audio: output missing: %w", err)
	}
	return out, nil
}

// RemuxMP4 copies the streams of inputPath into an mp4 container next to
// it and returns the new path. The input is kept.
func (p *Processor) RemuxMP4(ctx context.Context, inputPath string) (string, error) {
	out := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".mp4"
	if out == inputPath {
		return inputPath, nil
	}
	if err := p.run(ctx, "-i", inputPath, "-c", "copy", "-y", out); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("remux to mp4: %w", err)
	}
	return out, nil
}

func (p *Processor) run(ctx context.Context, args ...string) error {
	cmd := p.command(ctx, p.ffmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return err
	}
	return nil
}

// Version returns the first line of ffmpeg -version.
func (p *Processor) Version(ctx context.Context) (string, error) {
	output, err := p.command(ctx, p.ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
