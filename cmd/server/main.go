// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-transcoder/internal/bus"
	"github.com/tendant/simple-transcoder/internal/ffmpeg"
	"github.com/tendant/simple-transcoder/internal/job"
	"github.com/tendant/simple-transcoder/internal/logging"
	"github.com/tendant/simple-transcoder/internal/metrics"
	"github.com/tendant/simple-transcoder/internal/server"
	"github.com/tendant/simple-transcoder/internal/store"
	"github.com/tendant/simple-transcoder/internal/whisper"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger, err = logging.New(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	if err != nil {
		fatal(slog.Default(), "configure logging", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fatal(logger, "server stopped", err)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	logger.Info("server starting",
		"listen_addr", cfg.ListenAddr,
		"media_dir", cfg.MediaDir,
		"ffmpeg", cfg.FFmpegPath,
		"whisper", cfg.WhisperPath,
		"whisper_model_dir", cfg.WhisperModelDir,
		"timeout_en", cfg.EnglishTimeout,
		"timeout_multilingual", cfg.MultilingualTimeout,
	)

	media, err := store.New(cfg.MediaDir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ff := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	jobCfg := job.Config{
		Files:               media,
		FFmpeg:              ff,
		Whisper:             whisper.NewCLI(cfg.WhisperPath, cfg.WhisperModelDir, cfg.WhisperThreads, ff, whisper.WithLogger(logger)),
		EnglishTimeout:      cfg.EnglishTimeout,
		MultilingualTimeout: cfg.MultilingualTimeout,
		Metrics:             metrics.New(reg),
		Logger:              logger,
	}

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to NATS %s: %w", cfg.NATSURL, err)
		}
		defer nc.Close()
		jobCfg.Publisher = bus.NewJobPublisher(nc, cfg.JobEventsSubject)
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "subject", cfg.JobEventsSubject)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	srv := server.New(server.Config{
		Runner:         job.New(jobCfg),
		Media:          media,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		Registry:       reg,
		Gatherer:       reg,
		Logger:         logger,
		RequestLogger: httplog.NewLogger("simple-transcoder", httplog.Options{
			JSON:     cfg.LogFormat == "json",
			LogLevel: level,
			Concise:  true,
		}),
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		// Hijacked WebSocket connections are not tracked by http.Server.
		return errors.Join(httpServer.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
	})
	g.Go(func() error {
		sweepLoop(ctx, media, cfg.MediaMaxAge, cfg.SweepInterval, logger)
		return nil
	})
	return g.Wait()
}

// sweepLoop removes stale media every interval until ctx is done.
func sweepLoop(ctx context.Context, media *store.Store, maxAge, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			res, err := media.Sweep(now.Add(-maxAge))
			if err != nil {
				logger.Error("media sweep failed", "err", err)
				continue
			}
			for _, e := range res.Errors {
				logger.Warn("media sweep entry failed", "err", e)
			}
			if res.FilesRemoved > 0 || res.DirsRemoved > 0 {
				logger.Info("media sweep", "files_removed", res.FilesRemoved, "dirs_removed", res.DirsRemoved)
			}
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
