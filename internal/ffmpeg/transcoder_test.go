package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/tendant/simple-transcoder/internal/ffmpeg/ffmpegtest"
)

func TestHelperProcess(t *testing.T) { ffmpegtest.Main() }

func newTestTranscoder(scenario string) *Transcoder {
	return New("ffmpeg", "ffprobe", WithCommand(ffmpegtest.Command(scenario)))
}

func TestParamsArgs(t *testing.T) {
	p := Params{Input: "in.mp4", Output: "out.mkv", VideoCodec: "copy", AudioCodec: "aac"}
	got := p.Args()
	want := []string{"-y", "-i", "in.mp4", "-c:v", "copy", "-c:a", "aac", "-progress", "pipe:1", "-nostats", "-loglevel", "error", "out.mkv"}
	if !slices.Equal(got, want) {
		t.Fatalf("Args() = %v\nwant %v", got, want)
	}

	p.AudioOnly = true
	if slices.Contains(p.Args(), "-c:v") {
		t.Fatalf("audio-only args must not carry a video codec: %v", p.Args())
	}
}

func TestProbe(t *testing.T) {
	d, err := newTestTranscoder(ffmpegtest.OK).Probe(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if d != ffmpegtest.Duration {
		t.Fatalf("duration = %v, want %v", d, ffmpegtest.Duration)
	}
}

func TestProbeFailure(t *testing.T) {
	_, err := newTestTranscoder(ffmpegtest.ProbeFail).Probe(context.Background(), "clip.mp4")
	if err == nil {
		t.Fatal("expected probe error")
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("stderr not included in error: %v", err)
	}
}

func TestNonFiniteDurationRejected(t *testing.T) {
	_, err := newTestTranscoder(ffmpegtest.NaNDuration).Probe(context.Background(), "clip.mp4")
	if err == nil || !strings.Contains(err.Error(), "not a finite length") {
		t.Fatalf("expected non-finite duration error, got %v", err)
	}
}

func runScenario(t *testing.T, scenario string) ([]Update, Exit, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.mkv")
	run, err := newTestTranscoder(scenario).Start(context.Background(), Params{
		Input: "clip.mp4", Output: out, VideoCodec: "copy", AudioCodec: "copy", Duration: ffmpegtest.Duration,
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	var updates []Update
	for u := range run.Updates() {
		updates = append(updates, u)
	}
	return updates, run.Wait(), out
}

func TestRunSuccess(t *testing.T) {
	updates, exit, out := runScenario(t, ffmpegtest.OK)

	if !exit.Success() || !exit.StreamEnded {
		t.Fatalf("unexpected exit: %+v", exit)
	}
	if len(updates) != 4 {
		t.Fatalf("got %d updates, want 4", len(updates))
	}
	last := -1.0
	for _, u := range updates {
		if u.Err != nil {
			t.Fatalf("unexpected parse error: %v", u.Err)
		}
		if u.Percent < last {
			t.Fatalf("percent went backwards: %v after %v", u.Percent, last)
		}
		last = u.Percent
	}
	if !updates[3].End || updates[3].Percent != 100 {
		t.Fatalf("final update = %+v", updates[3])
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output not written: %v", err)
	}
}

func TestRunFailureCapturesStderr(t *testing.T) {
	updates, exit, _ := runScenario(t, ffmpegtest.Fail)
	if len(updates) != 0 {
		t.Fatalf("unexpected updates: %v", updates)
	}
	if exit.Code != 1 || exit.Err != nil || exit.Success() {
		t.Fatalf("unexpected exit: %+v", exit)
	}
	if !strings.Contains(exit.Stderr, "Unrecognized option") {
		t.Fatalf("stderr not captured: %q", exit.Stderr)
	}
}

func TestRunNoisyStreamKeepsGoing(t *testing.T) {
	updates, exit, _ := runScenario(t, ffmpegtest.Noisy)
	if !exit.Success() {
		t.Fatalf("unexpected exit: %+v", exit)
	}
	var errs, progress int
	for _, u := range updates {
		if u.Err != nil {
			errs++
			continue
		}
		progress++
	}
	if errs != 2 {
		t.Fatalf("got %d parse errors, want 2", errs)
	}
	if progress != 5 {
		t.Fatalf("got %d progress updates, want 5", progress)
	}
}

func TestRunEOFWithoutEndMarker(t *testing.T) {
	updates, exit, _ := runScenario(t, ffmpegtest.NoEnd)
	if exit.StreamEnded {
		t.Fatal("stream reported an end marker it never sent")
	}
	if !exit.Success() || len(updates) != 4 {
		t.Fatalf("unexpected result: %d updates, exit %+v", len(updates), exit)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	run, err := newTestTranscoder(ffmpegtest.Hang).Start(ctx, Params{
		Input: "clip.mp4", Output: filepath.Join(t.TempDir(), "out.mkv"), VideoCodec: "copy", AudioCodec: "copy", Duration: ffmpegtest.Duration,
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-run.Updates()
	cancel()

	done := make(chan Exit, 1)
	go func() { done <- run.Wait() }()
	select {
	case exit := <-done:
		if exit.Success() {
			t.Fatalf("killed process reported success: %+v", exit)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestTail(t *testing.T) {
	tl := newTail(4)
	tl.Write([]byte("abc"))
	tl.Write([]byte("defg"))
	if got := tl.String(); got != "defg" {
		t.Fatalf("tail = %q", got)
	}
}
