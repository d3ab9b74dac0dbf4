// cmd/jobwatch logs every job record the server publishes on NATS.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-transcoder/internal/bus"
	"github.com/tendant/simple-transcoder/internal/logging"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	natsURL := flag.String("nats-url", getenv("NATS_URL", "nats://127.0.0.1:4222"), "NATS server URL")
	subject := flag.String("subject", getenv("JOB_EVENTS_SUBJECT", "media.jobs.completed"), "subject carrying job records")
	failedOnly := flag.Bool("failed", false, "only log failed jobs")
	flag.Parse()

	logger, err := logging.New(getenv("LOG_FORMAT", "text"), getenv("LOG_LEVEL", "info"), os.Stdout)
	if err != nil {
		fatal(slog.Default(), "configure logging", err)
	}
	slog.SetDefault(logger)

	nc, err := bus.Connect(*natsURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", *natsURL)
	}
	defer nc.Close()
	logger.Info("connected to NATS", "nats_url", *natsURL)

	_, err = bus.SubscribeJSON(nc, *subject, func(ctx context.Context, rec schema.JobCompleted, err error) {
		if err != nil {
			logger.Warn("undecodable job record", "subject", *subject, "err", err)
			return
		}
		if *failedOnly && rec.Status != "failed" {
			return
		}
		logRecord(logger, rec)
	})
	if err != nil {
		fatal(logger, "subscribe", err, "subject", *subject)
	}
	logger.Info("watching job records", "subject", *subject)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func logRecord(logger *slog.Logger, rec schema.JobCompleted) {
	attrs := []any{
		"job_id", rec.JobID,
		"kind", rec.Kind,
		"file_id", rec.FileID,
		"filename", rec.Filename,
		"progress_events", rec.ProgressEvents,
		"processing_time_ms", rec.ProcessingTimeMs,
	}
	if rec.Error != "" {
		logger.Warn("job failed", append(attrs, "failure_type", rec.FailureType, "error", rec.Error)...)
		return
	}
	logger.Info("job succeeded", append(attrs, "output", rec.OutputFilename)...)
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
