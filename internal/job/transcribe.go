package job

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tendant/simple-transcoder/internal/transcript"
	"github.com/tendant/simple-transcoder/internal/worker"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

// transcribe runs the model on a dedicated worker and relays its callback
// progress until 100%, the call returns, or the liveness bound passes.
func (s *Supervisor) transcribe(ctx context.Context, x *execution, src, dir string) (schema.Event, error) {
	req := x.req
	model, err := s.cfg.Whisper.Load(ctx, req.Model)
	if err != nil {
		return schema.Event{}, fail(schema.FailureTypeIO, fmt.Sprintf("Could not load model %s", req.Model), err)
	}
	if !x.relay(s, schema.ProgressMessage(0, "Transcription started")) {
		_ = model.Close()
		return schema.Event{}, errConsumerGone
	}

	h := worker.Start(ctx, func(ctx context.Context, report func(float64)) (*transcript.Transcript, error) {
		defer model.Close()
		return model.Transcribe(ctx, src, req.Language, report)
	})

	timeout := s.timeoutFor(req.Language)
relay:
	for {
		p, err := h.Next(ctx, timeout)
		switch {
		case errors.Is(err, worker.ErrFinished):
			break relay
		case errors.Is(err, worker.ErrStalled):
			h.Abandon()
			x.logger.Warn("abandoned stalled transcription worker", "timeout", timeout)
			return schema.Event{}, fail(schema.FailureTypeTimeout,
				fmt.Sprintf("Transcription timeout (%s without updates)", formatTimeout(timeout)), err)
		case err != nil:
			h.Abandon()
			x.logger.Warn("abandoned transcription worker", "err", err)
			return schema.Event{}, fail(schema.FailureTypeCanceled, "Transcription canceled", err)
		}

		if math.IsNaN(p) {
			x.logger.Warn("ignoring non-numeric transcription progress")
			continue
		}
		p = min(100, max(0, p))
		if !x.relay(s, schema.Progress(p, nil)) {
			h.Abandon()
			x.logger.Warn("client left, transcription worker abandoned")
			return schema.Event{}, errConsumerGone
		}
		if p >= 100 {
			break relay
		}
	}

	result, err := h.Wait(ctx)
	if err != nil {
		h.Abandon()
		return schema.Event{}, fail(schema.FailureTypeTool, "Transcription failed", err)
	}

	name, err := transcript.WriteFile(dir, req.Filename, req.OutputFormat, result)
	if err != nil {
		return schema.Event{}, fail(schema.FailureTypeIO, "Could not write transcript", err)
	}
	return schema.Success("Transcription completed: "+name, name, req.OutputFormat, req.FileID), nil
}
