// cmd/cleanup removes media older than a cutoff from the media directory.
//
// Usage:
//
//	./cleanup -media-dir ./data/media -max-age 12h
package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-transcoder/internal/logging"
	"github.com/tendant/simple-transcoder/internal/store"
)

func main() {
	_ = godotenv.Load()

	mediaDir := flag.String("media-dir", getenv("MEDIA_DIR", "./data/media"), "media directory to sweep")
	maxAge := flag.Duration("max-age", 12*time.Hour, "remove files last modified longer ago than this")
	logFormat := flag.String("log-format", getenv("LOG_FORMAT", "text"), "text, json or tint")
	flag.Parse()

	logger, err := logging.New(*logFormat, getenv("LOG_LEVEL", "info"), os.Stdout)
	if err != nil {
		fatal(slog.Default(), "configure logging", err)
	}
	slog.SetDefault(logger)

	if *maxAge <= 0 {
		fatal(logger, "invalid flags", errInvalidMaxAge, "max_age", *maxAge)
	}
	if _, err := os.Stat(*mediaDir); err != nil {
		fatal(logger, "media directory unavailable", err, "media_dir", *mediaDir)
	}

	media, err := store.New(*mediaDir)
	if err != nil {
		fatal(logger, "open media store", err, "media_dir", *mediaDir)
	}

	cutoff := time.Now().Add(-*maxAge)
	logger.Info("cleanup starting", "media_dir", *mediaDir, "cutoff", cutoff.Format(time.RFC3339))

	res, err := media.Sweep(cutoff)
	if err != nil {
		fatal(logger, "sweep media", err)
	}
	for _, e := range res.Errors {
		logger.Warn("could not remove entry", "err", e)
	}
	logger.Info("cleanup complete", "files_removed", res.FilesRemoved, "dirs_removed", res.DirsRemoved, "errors", len(res.Errors))
	if len(res.Errors) > 0 {
		os.Exit(1)
	}
}

var errInvalidMaxAge = errors.New("max-age must be greater than zero")

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
