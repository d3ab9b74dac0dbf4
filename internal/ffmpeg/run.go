package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

const stderrTail = 8 << 10

// Run is a started ffmpeg process. Stream completion and process exit are
// tracked separately; Wait reports both.
type Run struct {
	cmd     *exec.Cmd
	updates chan Update
	stderr  *tail

	// written by the reader before updates is closed
	ended bool
}

// Exit describes how ffmpeg finished.
type Exit struct {
	Code int
	// StreamEnded is true when the progress stream delivered its end block.
	StreamEnded bool
	Stderr      string
	// Err is set when the process did not exit on its own (killed, wait failure).
	Err error
}

func (e Exit) Success() bool { return e.Err == nil && e.Code == 0 }

// Updates delivers progress in stream order. It is closed after the end block
// or when stdout reaches EOF.
func (r *Run) Updates() <-chan Update { return r.updates }

func (r *Run) read(stdout io.Reader, parser *Parser) {
	defer close(r.updates)

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		u, ok, err := parser.Feed(sc.Text())
		if err != nil {
			r.updates <- Update{Err: err}
			continue
		}
		if !ok {
			continue
		}
		r.updates <- u
		if u.End {
			r.ended = true
			break
		}
	}
	if err := sc.Err(); err != nil {
		r.updates <- Update{Err: fmt.Errorf("read progress: %w", err)}
	}
	// keep the pipe empty so ffmpeg never blocks on a full stdout
	_, _ = io.Copy(io.Discard, stdout)
}

// Wait discards any updates not yet consumed, then waits for the process.
func (r *Run) Wait() Exit {
	for range r.updates {
	}
	err := r.cmd.Wait()

	exit := Exit{StreamEnded: r.ended, Stderr: r.stderr.String()}
	if err == nil {
		return exit
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		exit.Code = ee.ExitCode()
		if exit.Code == -1 {
			exit.Err = err
		}
		return exit
	}
	exit.Code = -1
	exit.Err = err
	return exit
}

// tail keeps the last max bytes written to it.
type tail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTail(max int) *tail { return &tail{max: max} }

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
