// Package server exposes the job supervisor over WebSocket and the media
// store over plain HTTP.
package server

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promrecorder "github.com/slok/go-http-metrics/metrics/prometheus"
	httpmetrics "github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/tendant/simple-transcoder/internal/job"
	"github.com/tendant/simple-transcoder/internal/metrics"
	"github.com/tendant/simple-transcoder/internal/store"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

const (
	defaultMaxUpload    = 512 << 20
	defaultWriteTimeout = 10 * time.Second
)

// Runner runs one job and yields its events.
type Runner interface {
	Run(ctx context.Context, req job.Request) iter.Seq[schema.Event]
}

// Media is the slice of the store the HTTP endpoints use.
type Media interface {
	Save(filename string, r io.Reader) (store.Upload, error)
	Open(fileID, filename string) (*os.File, string, error)
	Delete(fileID string) error
}

type Config struct {
	Runner Runner
	Media  Media

	MaxUploadBytes int64
	WriteTimeout   time.Duration
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string

	// Registry receives the HTTP metrics; Gatherer backs /metrics. Both
	// are optional.
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
	// RequestLogger logs HTTP requests. WebSocket routes are not wrapped.
	RequestLogger *httplog.Logger
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// root is canceled by Shutdown and bounds every job context.
	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.root, s.cancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/changeformat", s.serveJobs(job.KindTranscode))
	r.Get("/transcribe", s.serveJobs(job.KindTranscribe))

	r.Group(func(r chi.Router) {
		if s.cfg.RequestLogger != nil {
			r.Use(httplog.RequestLogger(s.cfg.RequestLogger))
		}
		if s.cfg.Registry != nil {
			mdlw := httpmetrics.New(httpmetrics.Config{
				Recorder: promrecorder.NewRecorder(promrecorder.Config{
					Registry: s.cfg.Registry,
					Prefix:   "transcoder",
				}),
				GroupedStatus: true,
			})
			r.Use(std.HandlerProvider("", mdlw))
		}

		r.Get("/", s.handleRoot)
		r.Get("/healthz", s.handleHealth)
		r.Post("/uploadmedia", s.handleUpload)
		r.Get("/downloadmedia", s.handleDownload)
		r.Post("/deletemedia", s.handleDelete)
		if s.cfg.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", metrics.Handler(s.cfg.Gatherer))
		}
	})
	return r
}

// Shutdown cancels running jobs and waits for every WebSocket connection to
// deliver its terminal event and close. http.Server.Shutdown does not track
// hijacked connections, so callers run both.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("websocket connections closed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("abandoned websocket connections still running jobs", "err", ctx.Err())
		return ctx.Err()
	}
}

// track registers a connection unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.CORSOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, code int, v any) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	respond(w, r, code, response{Status: "error", Message: msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, response{Status: "200 OK"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, response{Status: "ok"})
}
