package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call relay coordinator.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Connection liveness.
	ConnInactivityThreshold time.Duration
	ConnEvictInterval       time.Duration
	OutboundQueueSize       int

	// Call session retention. Audio is dropped AudioRetention after a call
	// ends; session metadata survives until CallRetention.
	AudioRetention  time.Duration
	CallRetention   time.Duration
	CleanupInterval time.Duration

	// Audio batching: transcription is attempted once every
	// TranscribeEvery ingested fragments.
	TranscribeEvery int

	// External capability timeouts.
	TranscribeTimeout time.Duration
	RespondTimeout    time.Duration
	SummarizeTimeout  time.Duration
	NotifyTimeout     time.Duration

	// Triage backend: "mock" for local/dev, "http" for a configured endpoint.
	TriageProvider string
	TriageHTTPURL  string

	ChatWebhookURL string
	NotifyKeywords []string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "switchboard"),
		AllowAnyOrigin:          false,
		ShutdownTimeout:         15 * time.Second,
		ConnInactivityThreshold: 30 * time.Minute,
		ConnEvictInterval:       time.Minute,
		OutboundQueueSize:       256,
		AudioRetention:          60 * time.Second,
		CallRetention:           5 * time.Minute,
		CleanupInterval:         15 * time.Second,
		TranscribeEvery:         20,
		TranscribeTimeout:       10 * time.Second,
		RespondTimeout:          10 * time.Second,
		SummarizeTimeout:        20 * time.Second,
		NotifyTimeout:           5 * time.Second,
		TriageProvider:          envOrDefault("TRIAGE_PROVIDER", "auto"),
		TriageHTTPURL:           stringsTrimSpace("TRIAGE_HTTP_URL"),
		ChatWebhookURL:          stringsTrimSpace("CHAT_WEBHOOK_URL"),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnInactivityThreshold, err = durationFromEnv("APP_CONN_INACTIVITY_THRESHOLD", cfg.ConnInactivityThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnEvictInterval, err = durationFromEnv("APP_CONN_EVICT_INTERVAL", cfg.ConnEvictInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundQueueSize, err = intFromEnv("APP_OUTBOUND_QUEUE_SIZE", cfg.OutboundQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioRetention, err = durationFromEnv("APP_AUDIO_RETENTION", cfg.AudioRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.CallRetention, err = durationFromEnv("APP_CALL_RETENTION", cfg.CallRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.CleanupInterval, err = durationFromEnv("APP_CLEANUP_INTERVAL", cfg.CleanupInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeEvery, err = intFromEnv("APP_TRANSCRIBE_EVERY", cfg.TranscribeEvery)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeTimeout, err = durationFromEnv("APP_TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RespondTimeout, err = durationFromEnv("APP_RESPOND_TIMEOUT", cfg.RespondTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizeTimeout, err = durationFromEnv("APP_SUMMARIZE_TIMEOUT", cfg.SummarizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyTimeout, err = durationFromEnv("APP_NOTIFY_TIMEOUT", cfg.NotifyTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if raw := stringsTrimSpace("APP_NOTIFY_KEYWORDS"); raw != "" {
		for _, kw := range strings.Split(raw, ",") {
			kw = strings.TrimSpace(kw)
			if kw != "" {
				cfg.NotifyKeywords = append(cfg.NotifyKeywords, kw)
			}
		}
	}

	if cfg.TranscribeEvery <= 0 {
		return Config{}, fmt.Errorf("APP_TRANSCRIBE_EVERY must be positive, got %d", cfg.TranscribeEvery)
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("APP_OUTBOUND_QUEUE_SIZE must be positive, got %d", cfg.OutboundQueueSize)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
