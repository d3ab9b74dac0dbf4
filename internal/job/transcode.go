package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-transcoder/internal/ffmpeg"
	"github.com/tendant/simple-transcoder/internal/img"
	"github.com/tendant/simple-transcoder/internal/media"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

var kindLabels = map[media.Kind]string{
	media.Image: "Image",
	media.Video: "Video",
	media.Audio: "Audio",
}

func converted(kind media.Kind, req Request) schema.Event {
	return schema.Success(
		fmt.Sprintf("%s converted to %s", kindLabels[kind], req.OutputFormat),
		req.OutputName(), req.OutputFormat, req.FileID,
	)
}

// convertImage re-encodes synchronously; no progress is emitted.
func (s *Supervisor) convertImage(x *execution, src, dir string) (schema.Event, error) {
	if !img.SupportsOutput(x.req.OutputFormat) {
		return schema.Event{}, invalid(fmt.Sprintf("Unsupported image output format: %s", x.req.OutputFormat), nil)
	}
	if err := img.Convert(src, filepath.Join(dir, x.req.OutputName())); err != nil {
		return schema.Event{}, fail(schema.FailureTypeIO, "Image conversion failed", err)
	}
	return converted(media.Image, x.req), nil
}

// transcode runs ffmpeg and relays its progress blocks. The terminal outcome
// is decided by the exit status once the stream has closed.
func (s *Supervisor) transcode(ctx context.Context, x *execution, kind media.Kind, src, dir string) (schema.Event, error) {
	duration, err := s.cfg.FFmpeg.Probe(ctx, src)
	if err != nil {
		return schema.Event{}, fail(schema.FailureTypeTool, "Could not read media duration", err)
	}
	x.logger.Debug("probed source", "duration_seconds", duration)

	run, err := s.cfg.FFmpeg.Start(ctx, ffmpeg.Params{
		Input:      src,
		Output:     filepath.Join(dir, x.req.OutputName()),
		VideoCodec: x.req.VideoCodec,
		AudioCodec: x.req.AudioCodec,
		AudioOnly:  kind == media.Audio,
		Duration:   duration,
	})
	if err != nil {
		return schema.Event{}, fail(schema.FailureTypeTool, "Could not start ffmpeg", err)
	}

	gone := false
	for u := range run.Updates() {
		if u.Err != nil {
			x.logger.Warn("skipping progress line", "err", u.Err)
			continue
		}
		if !x.relay(s, schema.Progress(u.Percent, u.Raw)) {
			gone = true
			break
		}
	}

	exit := run.Wait()
	if stderr := strings.TrimSpace(exit.Stderr); stderr != "" {
		x.logger.Info("ffmpeg stderr", "exit_code", exit.Code, "stderr", stderr)
	}
	if gone {
		x.logger.Warn("client left, ffmpeg stopped", "exit_code", exit.Code)
		return schema.Event{}, errConsumerGone
	}
	if exit.Err != nil {
		return schema.Event{}, fail(schema.FailureTypeTool, "ffmpeg was interrupted", exit.Err)
	}
	if exit.Code != 0 {
		return schema.Event{}, fail(schema.FailureTypeTool,
			fmt.Sprintf("ffmpeg failed with exit code %d. Check if the output format is valid.", exit.Code), nil)
	}
	if !exit.StreamEnded {
		x.logger.Warn("ffmpeg exited without an end-of-progress marker")
	}
	return converted(kind, x.req), nil
}
