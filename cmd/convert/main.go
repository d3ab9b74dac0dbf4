// cmd/convert runs one transcode or transcription job on a local file and
// prints the job's events as JSON lines, without the WebSocket server.
//
// Usage:
//
//	./convert -input clip.mp4 -format mkv
//	./convert -input talk.wav -transcribe -model tiny -language fr -format vtt
//	./convert -list
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-transcoder/internal/ffmpeg"
	"github.com/tendant/simple-transcoder/internal/img"
	"github.com/tendant/simple-transcoder/internal/job"
	"github.com/tendant/simple-transcoder/internal/logging"
	"github.com/tendant/simple-transcoder/internal/media"
	"github.com/tendant/simple-transcoder/internal/transcript"
	"github.com/tendant/simple-transcoder/internal/whisper"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

// localFiles serves a single file from disk and writes outputs next to it.
type localFiles struct {
	path string
}

func (f localFiles) Path(fileID, filename string) (string, error) { return f.path, nil }
func (f localFiles) Dir(fileID string) (string, error)            { return filepath.Dir(f.path), nil }

func main() {
	_ = godotenv.Load()

	input := flag.String("input", "", "input file path (required)")
	format := flag.String("format", "", "output format, e.g. mkv, mp3, png, srt")
	transcribe := flag.Bool("transcribe", false, "transcribe instead of transcoding")
	vcodec := flag.String("vcodec", "", "video codec (default copy)")
	acodec := flag.String("acodec", "", "audio codec (default copy)")
	model := flag.String("model", "", "whisper model (default base)")
	language := flag.String("language", "", "spoken language (default en)")
	modelDir := flag.String("model-dir", getenv("WHISPER_MODEL_DIR", "./models"), "whisper model directory")
	timeout := flag.Duration("timeout", 0, "transcription stall timeout (default per language)")
	verbose := flag.Bool("v", false, "verbose logging on stderr")
	list := flag.Bool("list", false, "print supported formats and models, then exit")
	flag.Parse()

	if *list {
		if err := printCatalog(os.Stdout); err != nil {
			os.Exit(1)
		}
		return
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(getenv("LOG_FORMAT", "tint"), level, os.Stderr)
	if err != nil {
		fatal(slog.Default(), "configure logging", err)
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input flag is required")
		flag.Usage()
		os.Exit(2)
	}
	abs, err := filepath.Abs(*input)
	if err != nil {
		fatal(logger, "resolve input", err)
	}

	ff := ffmpeg.New(getenv("FFMPEG_PATH", "ffmpeg"), getenv("FFPROBE_PATH", "ffprobe"))
	sup := job.New(job.Config{
		Files:               localFiles{path: abs},
		FFmpeg:              ff,
		Whisper:             whisper.NewCLI(getenv("WHISPER_PATH", "whisper-cli"), *modelDir, 4, ff, whisper.WithLogger(logger)),
		EnglishTimeout:      *timeout,
		MultilingualTimeout: *timeout,
		Logger:              logger,
	})

	kind := job.KindTranscode
	if *transcribe {
		kind = job.KindTranscribe
	}
	req := job.NewRequest(kind, schema.JobRequest{
		Filename:     filepath.Base(abs),
		FileID:       uuid.NewString(),
		OutputFormat: *format,
		VideoCodec:   *vcodec,
		AudioCodec:   *acodec,
		Model:        *model,
		Language:     *language,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	enc := json.NewEncoder(os.Stdout)
	var last schema.Event
	for ev := range sup.Run(ctx, req) {
		if err := enc.Encode(ev); err != nil {
			fatal(logger, "write event", err)
		}
		last = ev
	}

	if last.Status != schema.StatusSuccess {
		os.Exit(1)
	}
	out := filepath.Join(filepath.Dir(abs), last.OutputFilename)
	if info, err := os.Stat(out); err == nil {
		fmt.Fprintf(os.Stderr, "%s (%s) in %v\n", out, formatBytes(info.Size()), time.Since(start).Round(time.Millisecond))
	}
}

// printCatalog writes the known media extensions, image output formats,
// transcript formats and whisper models.
func printCatalog(w io.Writer) error {
	var outputs []string
	for _, ext := range media.Extensions(media.Image) {
		if img.SupportsOutput(ext) {
			outputs = append(outputs, ext)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "image inputs\t%s\n", strings.Join(media.Extensions(media.Image), " "))
	fmt.Fprintf(tw, "image outputs\t%s\n", strings.Join(outputs, " "))
	fmt.Fprintf(tw, "video\t%s\n", strings.Join(media.Extensions(media.Video), " "))
	fmt.Fprintf(tw, "audio\t%s\n", strings.Join(media.Extensions(media.Audio), " "))
	fmt.Fprintf(tw, "transcripts\t%s\n", strings.Join(transcript.Formats(), " "))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "model\tsize\tlanguages")
	for _, m := range whisper.Models() {
		langs := "en"
		if !m.EnglishOnly && m.Name == whisper.MultilingualModel {
			langs = "any"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, formatBytes(int64(m.SizeMB)<<20), langs)
	}
	return tw.Flush()
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
