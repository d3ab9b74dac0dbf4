// Package ffmpegtest fakes ffmpeg, ffprobe and whisper-cli by re-executing
// the running test binary.
//
// A test package opts in with
//
//	func TestHelperProcess(t *testing.T) { ffmpegtest.Main() }
//
// and builds commands with Command(scenario).
package ffmpegtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	helperEnv   = "GO_WANT_HELPER_PROCESS"
	scenarioEnv = "FFMPEGTEST_SCENARIO"
)

// Scenarios understood by the fake tools.
const (
	// OK: probe reports Duration, ffmpeg streams four blocks ending in
	// progress=end, whisper reports 25..100% and writes a transcript.
	OK = "ok"
	// Fail: ffmpeg and whisper exit 1 after writing to stderr.
	Fail = "fail"
	// Noisy: ffmpeg interleaves unparsable lines with valid blocks.
	Noisy = "noisy"
	// NoEnd: ffmpeg exits 0 without ever sending progress=end.
	NoEnd = "noend"
	// ProbeFail: ffprobe exits 1.
	ProbeFail = "probe-fail"
	// NaNDuration: ffprobe exits 0 but reports duration=nan.
	NaNDuration = "nan-duration"
	// Hang: ffmpeg sends one block and sleeps until killed.
	Hang = "hang"
	// Stall: whisper never reports progress and sleeps until killed.
	Stall = "stall"
)

// Duration is the source length ffprobe reports, in seconds.
const Duration = 10.0

// Command returns a command builder that starts the fake tool for scenario.
func Command(scenario string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), helperEnv+"=1", scenarioEnv+"="+scenario)
		return cmd
	}
}

// Main runs the fake tool and exits when the binary was started by Command.
// It returns immediately otherwise.
func Main() {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "ffmpegtest: no tool name")
		os.Exit(2)
	}
	os.Exit(run(filepath.Base(args[0]), os.Getenv(scenarioEnv), args[1:]))
}

func run(tool, scenario string, args []string) int {
	switch {
	case strings.Contains(tool, "ffprobe"):
		return probe(scenario)
	case strings.Contains(tool, "whisper"):
		return whisper(scenario, args)
	default:
		return ffmpeg(scenario, args)
	}
}

func probe(scenario string) int {
	switch scenario {
	case ProbeFail:
		fmt.Fprintln(os.Stderr, "input.mp4: Invalid data found when processing input")
		return 1
	case NaNDuration:
		fmt.Println("duration=nan")
		return 0
	}
	fmt.Printf("duration=%f\n", Duration)
	return 0
}

func ffmpeg(scenario string, args []string) int {
	if len(args) == 0 {
		return 2
	}
	out := args[len(args)-1]

	// audio extraction for transcription, no progress stream
	if !slices.Contains(args, "-progress") {
		if scenario == Fail {
			fmt.Fprintln(os.Stderr, "Conversion failed!")
			return 1
		}
		return touch(out)
	}

	switch scenario {
	case Fail:
		fmt.Fprintln(os.Stderr, "Unrecognized option 'c:v bogus'.")
		fmt.Fprintln(os.Stderr, "Error splitting the argument list: Option not found")
		return 1
	case Hang:
		block(os.Stdout, 2.5, "continue")
		time.Sleep(time.Minute)
		return 0
	case Noisy:
		fmt.Println("garbage without separator")
		fmt.Println("out_time=N/A")
		fmt.Println("progress=continue")
	}

	steps := []float64{2.5, 5, 7.5, Duration}
	for i, secs := range steps {
		state := "continue"
		if i == len(steps)-1 && scenario != NoEnd {
			state = "end"
		}
		block(os.Stdout, secs, state)
	}
	return touch(out)
}

func whisper(scenario string, args []string) int {
	switch scenario {
	case Fail:
		fmt.Fprintln(os.Stderr, "error: failed to initialize whisper context")
		return 1
	case Stall:
		time.Sleep(time.Minute)
		return 0
	}

	base := flagValue(args, "-of")
	lang := flagValue(args, "-l")
	if base == "" {
		fmt.Fprintln(os.Stderr, "missing -of")
		return 2
	}
	for _, p := range []int{25, 50, 75, 100} {
		fmt.Fprintf(os.Stderr, "whisper_print_progress_callback: progress = %3d%%\n", p)
	}
	doc := fmt.Sprintf(`{"result":{"language":%q},"transcription":[`+
		`{"offsets":{"from":0,"to":1500},"text":" Hello there."},`+
		`{"offsets":{"from":1500,"to":3200},"text":" General Kenobi."}]}`, lang)
	if err := os.WriteFile(base+".json", []byte(doc), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func block(w io.Writer, secs float64, state string) {
	fmt.Fprintf(w, "frame=%d\nfps=25.00\nout_time=%s\nspeed=2.00x\nprogress=%s\n", int(secs*25), stamp(secs), state)
}

func stamp(secs float64) string {
	h := int(secs) / 3600
	m := int(secs) % 3600 / 60
	s := secs - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%09.6f", h, m, s)
}

func touch(path string) int {
	if err := os.WriteFile(path, []byte("fake media"), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func flagValue(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}
