package whisper

import (
	"bufio"
	"context"
	"encoding/json"
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

	"github.com/tendant/simple-transcoder/internal/ffmpeg"
	"github.com/tendant/simple-transcoder/internal/transcript"
)

// Loader prepares a model for one job.
type Loader interface {
	Load(ctx context.Context, model string) (Model, error)
}

// Model transcribes audio. progress is called from the goroutine running
// Transcribe with percentages in [0,100].
type Model interface {
	Transcribe(ctx context.Context, audioPath, language string, progress func(percent float64)) (*transcript.Transcript, error)
	Close() error
}

type Option func(*CLI)

// WithCommand replaces exec.CommandContext for whisper-cli.
func WithCommand(fn ffmpeg.CommandFunc) Option {
	return func(c *CLI) { c.command = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *CLI) { c.logger = l }
}

// CLI runs the whisper.cpp command line tool. Audio is first extracted to
// 16kHz mono PCM with ffmpeg.
type CLI struct {
	Path     string
	ModelDir string
	Threads  int

	ffmpeg  *ffmpeg.Transcoder
	command ffmpeg.CommandFunc
	logger  *slog.Logger
}

func NewCLI(path, modelDir string, threads int, ff *ffmpeg.Transcoder, opts ...Option) *CLI {
	c := &CLI{
		Path:     path,
		ModelDir: modelDir,
		Threads:  threads,
		ffmpeg:   ff,
		logger:   slog.Default(),
	}
	if c.Path == "" {
		c.Path = "whisper-cli"
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.command == nil {
		c.command = exec.CommandContext
	}
	return c
}

// Load resolves the model file. Each job gets its own handle.
func (c *CLI) Load(ctx context.Context, model string) (Model, error) {
	info, ok := Lookup(model)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", model)
	}
	path := filepath.Join(c.ModelDir, info.FileName())
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model %s: %w", info.Name, err)
	}
	return &cliModel{cli: c, info: info, path: path}, nil
}

type cliModel struct {
	cli  *CLI
	info ModelInfo
	path string
}

func (m *cliModel) Close() error { return nil }

var progressLine = regexp.MustCompile(`progress\s*=\s*(\d+(?:\.\d+)?)%`)

func (m *cliModel) Transcribe(ctx context.Context, audioPath, language string, progress func(float64)) (*transcript.Transcript, error) {
	logger := m.cli.logger.With("model", m.info.Name, "language", language)

	tmp, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(tmp)

	wav := filepath.Join(tmp, "audio-16k-mono.wav")
	extract := m.cli.ffmpeg.Command(ctx,
		"-hide_banner", "-nostdin", "-y",
		"-i", audioPath,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		wav,
	)
	if out, err := extract.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("extract audio: %w\nOutput: %s", err, strings.TrimSpace(string(out)))
	}

	base := filepath.Join(tmp, "transcript")
	args := []string{"-m", m.path, "-f", wav, "-l", language, "-pp", "-oj", "-of", base}
	if m.cli.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.cli.Threads))
	}
	cmd := m.cli.command(ctx, m.cli.Path, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("whisper stderr: %w", err)
	}
	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper: %w", err)
	}

	last, tail := relayProgress(stderr, progress)
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("whisper failed: %w\nOutput: %s", err, strings.Join(tail, "\n"))
	}
	logger.Debug("whisper finished", "elapsed", time.Since(started))

	t, err := readJSON(base + ".json")
	if err != nil {
		return nil, err
	}
	if t.Language == "" {
		t.Language = language
	}
	if last < 100 {
		progress(100)
	}
	return t, nil
}

const keepLines = 20

// relayProgress reads whisper's stderr to EOF, reporting progress lines and
// returning the last reported percent and the last lines of output.
func relayProgress(r io.Reader, progress func(float64)) (float64, []string) {
	last := -1.0
	var tail []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if m := progressLine.FindStringSubmatch(line); m != nil {
			if p, err := strconv.ParseFloat(m[1], 64); err == nil {
				p = min(100, max(0, p))
				progress(p)
				last = p
				continue
			}
		}
		tail = append(tail, line)
		if len(tail) > keepLines {
			tail = tail[1:]
		}
	}
	_, _ = io.Copy(io.Discard, r)
	return last, tail
}

type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func readJSON(path string) (*transcript.Transcript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	var out cliOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}
	t := &transcript.Transcript{Language: out.Result.Language}
	for _, s := range out.Transcription {
		t.Segments = append(t.Segments, transcript.Segment{
			Start: time.Duration(s.Offsets.From) * time.Millisecond,
			End:   time.Duration(s.Offsets.To) * time.Millisecond,
			Text:  s.Text,
		})
	}
	return t, nil
}
