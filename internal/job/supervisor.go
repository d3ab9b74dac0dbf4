// Package job runs transcode and transcription jobs and turns their progress
// into a single ordered event sequence per job.
package job

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/tendant/simple-transcoder/internal/ffmpeg"
	"github.com/tendant/simple-transcoder/internal/media"
	"github.com/tendant/simple-transcoder/internal/metrics"
	"github.com/tendant/simple-transcoder/internal/process"
	"github.com/tendant/simple-transcoder/internal/whisper"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

const (
	DefaultEnglishTimeout      = 60 * time.Second
	DefaultMultilingualTimeout = 120 * time.Second
)

// Files resolves job sources and output directories.
type Files interface {
	Path(fileID, filename string) (string, error)
	Dir(fileID string) (string, error)
}

// Publisher receives one audit record per finished job.
type Publisher interface {
	Publish(ctx context.Context, rec schema.JobCompleted) error
}

type Config struct {
	Files   Files
	FFmpeg  *ffmpeg.Transcoder
	Whisper whisper.Loader

	// Liveness bounds between transcription progress updates.
	EnglishTimeout      time.Duration
	MultilingualTimeout time.Duration

	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Supervisor {
	if cfg.EnglishTimeout <= 0 {
		cfg.EnglishTimeout = DefaultEnglishTimeout
	}
	if cfg.MultilingualTimeout <= 0 {
		cfg.MultilingualTimeout = DefaultMultilingualTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: cfg.Logger}
}

// Run returns the job's event sequence. Work starts when the sequence is
// first iterated; later iterations yield nothing. Stopping the iteration
// early cancels the job.
func (s *Supervisor) Run(ctx context.Context, req Request) iter.Seq[schema.Event] {
	var started atomic.Bool
	return func(yield func(schema.Event) bool) {
		if !started.CompareAndSwap(false, true) {
			return
		}
		s.run(ctx, req, &emitter{yield: yield})
	}
}

// emitter enforces the sequence shape: nothing after the terminal event and
// nothing after the consumer stopped.
type emitter struct {
	yield    func(schema.Event) bool
	terminal bool
	gone     bool
	progress int
}

func (e *emitter) send(ev schema.Event) bool {
	if e.terminal || e.gone {
		return false
	}
	if ev.Terminal() {
		e.terminal = true
	} else {
		e.progress++
	}
	if !e.yield(ev) {
		e.gone = true
		return false
	}
	return true
}

// execution is the per-job state shared by the kind-specific steps.
type execution struct {
	req    Request
	job    *process.Job
	em     *emitter
	logger *slog.Logger
	cancel context.CancelFunc
}

// relay forwards a progress event, canceling the job if the consumer left.
func (x *execution) relay(s *Supervisor, ev schema.Event) bool {
	if !x.em.send(ev) {
		x.cancel()
		return false
	}
	s.cfg.Metrics.ProgressRelayed(string(x.req.Kind))
	return true
}

func (s *Supervisor) run(ctx context.Context, req Request, em *emitter) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j := process.NewJob(string(req.Kind), req.FileID)
	x := &execution{
		req:    req,
		job:    j,
		em:     em,
		cancel: cancel,
		logger: s.logger.With("job_id", j.ID, "kind", req.Kind, "file_id", req.FileID, "filename", req.Filename),
	}
	_ = process.MarkRunning(j, time.Now())
	s.cfg.Metrics.JobStarted(string(req.Kind))
	x.logger.Info("job started", "output_format", req.OutputFormat)

	result, err := s.execute(ctx, x)

	rec := schema.JobCompleted{
		JobID:        j.ID,
		Kind:         req.Kind,
		FileID:       req.FileID,
		Filename:     req.Filename,
		OutputFormat: req.OutputFormat,
	}
	if err != nil {
		f := asFailure(err)
		_ = process.MarkFailed(j, time.Now(), f)
		em.send(schema.Failure(f.Message))
		rec.Error, rec.FailureType = f.Message, f.Type
		if f.Type == schema.FailureTypeValidation || f.Type == schema.FailureTypeCanceled {
			x.logger.Warn("job rejected", "failure_type", f.Type, "err", f)
		} else {
			x.logger.Error("job failed", "failure_type", f.Type, "err", f)
		}
	} else {
		_ = process.MarkSucceeded(j, time.Now())
		if !em.send(result) {
			x.logger.Warn("client left before the result was delivered")
		}
		rec.OutputFilename = result.OutputFilename
	}

	rec.Status = string(j.Status)
	rec.ProgressEvents = em.progress
	rec.ProcessingTimeMs = j.Elapsed().Milliseconds()
	rec.HappenedAt = j.FinishedAt.Unix()
	s.cfg.Metrics.JobFinished(string(req.Kind), string(j.Status), j.Elapsed())
	x.logger.Info("job finished", "status", j.Status, "progress_events", em.progress, "processing_time_ms", rec.ProcessingTimeMs)

	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.Publish(context.WithoutCancel(ctx), rec); err != nil {
			x.logger.Warn("publish job record failed", "err", err)
		}
	}
}

// execute performs the job and returns its success event.
func (s *Supervisor) execute(ctx context.Context, x *execution) (schema.Event, error) {
	req := x.req
	if err := req.Validate(); err != nil {
		return schema.Event{}, err
	}

	kind := media.Classify(req.Filename)
	if kind == media.Unknown || (req.Kind == KindTranscribe && kind == media.Image) {
		return schema.Event{}, fail(schema.FailureTypeUnsupported, "Unsupported file type", nil)
	}

	src, err := s.cfg.Files.Path(req.FileID, req.Filename)
	if err != nil {
		return schema.Event{}, invalid("Invalid file location", err)
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.Event{}, fail(schema.FailureTypeIO, "File not found", err)
		}
		return schema.Event{}, fail(schema.FailureTypeIO, "Could not read file", err)
	}
	dir, err := s.cfg.Files.Dir(req.FileID)
	if err != nil {
		return schema.Event{}, invalid("Invalid file location", err)
	}

	switch req.Kind {
	case KindTranscribe:
		return s.transcribe(ctx, x, src, dir)
	default:
		if kind == media.Image {
			return s.convertImage(x, src, dir)
		}
		return s.transcode(ctx, x, kind, src, dir)
	}
}

// timeoutFor picks the liveness bound for a transcription language.
func (s *Supervisor) timeoutFor(language string) time.Duration {
	if whisper.IsEnglish(language) {
		return s.cfg.EnglishTimeout
	}
	return s.cfg.MultilingualTimeout
}

// formatTimeout prints whole seconds as "60s" and anything else in Go
// duration notation.
func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
