// Package ffmpeg runs ffprobe and ffmpeg and turns ffmpeg's -progress stream
// into percent updates.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// CommandFunc builds the command for an external tool.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

type Option func(*Transcoder)

// WithCommand replaces exec.CommandContext, mostly for tests.
func WithCommand(fn CommandFunc) Option {
	return func(t *Transcoder) { t.command = fn }
}

// Transcoder invokes ffprobe and ffmpeg from the configured paths.
type Transcoder struct {
	FFmpegPath  string
	FFprobePath string
	command     CommandFunc
}

func New(ffmpegPath, ffprobePath string, opts ...Option) *Transcoder {
	t := &Transcoder{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		command:     exec.CommandContext,
	}
	if t.FFmpegPath == "" {
		t.FFmpegPath = "ffmpeg"
	}
	if t.FFprobePath == "" {
		t.FFprobePath = "ffprobe"
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Command exposes the configured command builder so helpers that shell out
// to ffmpeg (audio extraction) share the same binary and test seam.
func (t *Transcoder) Command(ctx context.Context, args ...string) *exec.Cmd {
	return t.command(ctx, t.FFmpegPath, args...)
}

// Probe returns the container duration of input in seconds.
func (t *Transcoder) Probe(ctx context.Context, input string) (float64, error) {
	cmd := t.command(ctx, t.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1",
		input,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, strings.TrimSpace(stderr.String()))
	}

	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key != "duration" {
			continue
		}
		d, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("ffprobe duration %q: %w", value, err)
		}
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return 0, fmt.Errorf("ffprobe duration %q is not a finite length", value)
		}
		return d, nil
	}
	return 0, fmt.Errorf("ffprobe reported no duration for %s", input)
}

// Params describes one transcode.
type Params struct {
	Input      string
	Output     string
	VideoCodec string
	AudioCodec string
	// AudioOnly drops the video codec flag for audio sources.
	AudioOnly bool
	// Duration of the source in seconds, from Probe.
	Duration float64
}

func (p Params) Args() []string {
	args := []string{"-y", "-i", p.Input}
	if !p.AudioOnly {
		args = append(args, "-c:v", p.VideoCodec)
	}
	args = append(args,
		"-c:a", p.AudioCodec,
		"-progress", "pipe:1",
		"-nostats",
		"-loglevel", "error",
		p.Output,
	)
	return args
}

// Start launches ffmpeg. The caller must call Wait on the returned Run.
func (t *Transcoder) Start(ctx context.Context, p Params) (*Run, error) {
	cmd := t.command(ctx, t.FFmpegPath, p.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := newTail(stderrTail)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	r := &Run{
		cmd:     cmd,
		updates: make(chan Update),
		stderr:  stderr,
	}
	go r.read(stdout, NewParser(p.Duration))
	return r, nil
}
