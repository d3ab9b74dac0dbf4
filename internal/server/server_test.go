package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-transcoder/internal/job"
	"github.com/tendant/simple-transcoder/internal/store"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

type fakeRunner struct {
	events []schema.Event

	mu   sync.Mutex
	reqs []job.Request
}

func (f *fakeRunner) Run(ctx context.Context, req job.Request) iter.Seq[schema.Event] {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return slices.Values(f.events)
}

func (f *fakeRunner) requests() []job.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reqs)
}

func newTestServer(t *testing.T, runner Runner, configure ...func(*Config)) *httptest.Server {
	t.Helper()
	_, ts := newServer(t, runner, configure...)
	return ts
}

func newServer(t *testing.T, runner Runner, configure ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Runner: runner,
		Media:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func uploadFile(t *testing.T, url, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	resp, err := http.Post(url+"/uploadmedia", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{})
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	if got := decode(t, resp); got["status"] != "200 OK" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestMediaLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{})
	payload := []byte("not really a video")

	resp := uploadFile(t, srv.URL, "clip.mp4", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	up := decode(t, resp)
	fileID, _ := up["fileID"].(string)
	if fileID == "" || up["filename"] != "clip.mp4" || up["size"] != float64(len(payload)) {
		t.Fatalf("unexpected upload response: %v", up)
	}

	resp, err := http.Get(srv.URL + "/downloadmedia?fileID=" + fileID + "&filename=clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, payload) {
		t.Fatalf("download: status %d body %q", resp.StatusCode, got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("content type = %q", ct)
	}

	resp, err = http.Post(srv.URL+"/deletemedia?fileID="+fileID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if body := decode(t, resp); resp.StatusCode != http.StatusOK || body["message"] != "File deleted successfully" {
		t.Fatalf("delete: status %d body %v", resp.StatusCode, body)
	}

	resp, err = http.Post(srv.URL+"/deletemedia?fileID="+fileID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/downloadmedia?fileID=" + fileID + "&filename=clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("download after delete status %d, want 404", resp.StatusCode)
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{})
	resp, err := http.Get(srv.URL + "/downloadmedia?fileID=../../etc&filename=passwd")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestUploadLimits(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, func(c *Config) { c.MaxUploadBytes = 1024 })

	resp := uploadFile(t, srv.URL, "big.mp4", bytes.Repeat([]byte("x"), 64<<10))
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("oversized upload accepted")
	}

	resp, err := http.Post(srv.URL+"/uploadmedia", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart upload status %d, want 400", resp.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestChangeFormatStreamsEvents(t *testing.T) {
	runner := &fakeRunner{events: []schema.Event{
		schema.Progress(50, map[string]string{"out_time": "00:00:05.000000"}),
		schema.Success("Video converted to mkv", "clip.mkv", "mkv", "id"),
	}}
	srv := newTestServer(t, runner)
	conn := dial(t, srv, "/changeformat")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev["status"] != "error" || ev["message"] != "Invalid JSON message" {
		t.Fatalf("unexpected event for bad JSON: %v", ev)
	}

	msg := schema.JobRequest{Filename: "clip.mp4", FileID: "id", OutputFormat: "mkv"}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	first := readEvent(t, conn)
	if first["status"] != "progress" || first["progress"] != float64(50) || first["out_time"] != "00:00:05.000000" {
		t.Fatalf("unexpected progress event: %v", first)
	}
	last := readEvent(t, conn)
	if last["status"] != "success" || last["filename"] != "clip.mkv" {
		t.Fatalf("unexpected terminal event: %v", last)
	}

	reqs := runner.requests()
	if len(reqs) != 1 || reqs[0].Kind != job.KindTranscode || reqs[0].VideoCodec != job.DefaultCodec {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
}

func TestTranscribeRoute(t *testing.T) {
	runner := &fakeRunner{events: []schema.Event{schema.Failure("Unsupported model: huge")}}
	srv := newTestServer(t, runner)
	conn := dial(t, srv, "/transcribe")

	for range 2 {
		if err := conn.WriteJSON(schema.JobRequest{Filename: "talk.wav", FileID: "id", Model: "huge"}); err != nil {
			t.Fatal(err)
		}
		if ev := readEvent(t, conn); ev["status"] != "error" {
			t.Fatalf("unexpected event: %v", ev)
		}
	}

	reqs := runner.requests()
	if len(reqs) != 2 || reqs[1].Kind != job.KindTranscribe || reqs[1].Language != job.DefaultLanguage {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
}

func TestOriginCheck(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, func(c *Config) { c.CORSOrigins = []string{"https://app.example.com"} })
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/changeformat"

	h := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, h); err == nil {
		t.Fatal("foreign origin accepted")
	}
	h.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newTestServer(t, &fakeRunner{}, func(c *Config) {
		c.Registry = reg
		c.Gatherer = reg
	})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "http_request_duration_seconds") {
		t.Fatalf("metrics: status %d body %s", resp.StatusCode, body)
	}
}

// blockingRunner reports one progress event and then waits for cancellation,
// like a long ffmpeg run.
type blockingRunner struct {
	started  chan struct{}
	canceled chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, req job.Request) iter.Seq[schema.Event] {
	return func(yield func(schema.Event) bool) {
		if !yield(schema.Progress(10, nil)) {
			return
		}
		close(b.started)
		<-ctx.Done()
		close(b.canceled)
		yield(schema.Failure("ffmpeg was interrupted"))
	}
}

func TestShutdownDrainsRunningJobs(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), canceled: make(chan struct{})}
	s, ts := newServer(t, runner)
	conn := dial(t, ts, "/changeformat")

	if err := conn.WriteJSON(schema.JobRequest{Filename: "clip.mp4", FileID: "id", OutputFormat: "mkv"}); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev["status"] != "progress" {
		t.Fatalf("unexpected first event: %v", ev)
	}
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-runner.canceled:
	default:
		t.Fatal("job context not canceled by Shutdown")
	}
	if ev := readEvent(t, conn); ev["status"] != "error" || ev["message"] != "ffmpeg was interrupted" {
		t.Fatalf("unexpected terminal event: %v", ev)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/changeformat"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial accepted after Shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("dial after Shutdown: resp %v err %v", resp, err)
	}
}

func TestShutdownIdleConnection(t *testing.T) {
	s, ts := newServer(t, &fakeRunner{})
	conn := dial(t, ts, "/transcribe")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}
