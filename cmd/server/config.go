package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	ListenAddr string
	MediaDir   string

	FFmpegPath      string
	FFprobePath     string
	WhisperPath     string
	WhisperModelDir string
	WhisperThreads  int

	EnglishTimeout      time.Duration
	MultilingualTimeout time.Duration

	MediaMaxAge    time.Duration
	SweepInterval  time.Duration
	MaxUploadBytes int64

	NATSURL          string
	JobEventsSubject string

	CORSOrigins []string
	LogFormat   string
	LogLevel    string
}

func LoadConfig() (config, error) {
	cfg := config{
		ListenAddr:       getenv("LISTEN_ADDR", ":8000"),
		MediaDir:         getenv("MEDIA_DIR", "./data/media"),
		FFmpegPath:       getenv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      getenv("FFPROBE_PATH", "ffprobe"),
		WhisperPath:      getenv("WHISPER_PATH", "whisper-cli"),
		WhisperModelDir:  getenv("WHISPER_MODEL_DIR", "./models"),
		NATSURL:          getenv("NATS_URL", ""),
		JobEventsSubject: getenv("JOB_EVENTS_SUBJECT", "media.jobs.completed"),
		CORSOrigins:      splitList(getenv("CORS_ORIGINS", "*")),
		LogFormat:        getenv("LOG_FORMAT", "text"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
	}

	threads, err := parsePositiveInt(getenv("WHISPER_THREADS", "4"), "WHISPER_THREADS")
	if err != nil {
		return config{}, err
	}
	cfg.WhisperThreads = threads

	uploadMB, err := parsePositiveInt(getenv("MAX_UPLOAD_MB", "512"), "MAX_UPLOAD_MB")
	if err != nil {
		return config{}, err
	}
	cfg.MaxUploadBytes = int64(uploadMB) << 20

	durations := []struct {
		dst  *time.Duration
		name string
		def  string
	}{
		{&cfg.EnglishTimeout, "TRANSCRIBE_TIMEOUT_EN", "60s"},
		{&cfg.MultilingualTimeout, "TRANSCRIBE_TIMEOUT_MULTILINGUAL", "120s"},
		{&cfg.MediaMaxAge, "MEDIA_MAX_AGE", "12h"},
		{&cfg.SweepInterval, "MEDIA_SWEEP_INTERVAL", "1h"},
	}
	for _, d := range durations {
		v, err := parsePositiveDuration(getenv(d.name, d.def), d.name)
		if err != nil {
			return config{}, err
		}
		*d.dst = v
	}

	return cfg, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parsePositiveDuration(value string, name string) (time.Duration, error) {
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, v)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
