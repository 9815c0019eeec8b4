package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice relay service.
type Config struct {
	BindAddr         string
	PublicHost       string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	ModelBackendMode string
	ModelBackendURL  string
	ModelAPIKey      string
	ModelID          string
	ModelTimeout     time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAPIBaseURL string

	CRMBaseURL string
	CRMTimeout time.Duration

	SilenceSoftThreshold time.Duration
	SilenceRetryLimit    int

	SessionInactivityTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:       envTrimmed("APP_PUBLIC_HOST"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "crelay"),
		AllowAnyOrigin:   false,
		ModelBackendMode: envOrDefault("MODEL_BACKEND_MODE", "auto"),
		ModelBackendURL:  envOrDefault("MODEL_BACKEND_URL", "https://api.openai.com/v1/chat/completions"),
		ModelAPIKey:      envTrimmed("MODEL_API_KEY"),
		ModelID:          envOrDefault("MODEL_ID", "gpt-4o"),
		TwilioAccountSID: envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  envTrimmed("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: envTrimmed("TWILIO_FROM_NUMBER"),
		TwilioAPIBaseURL: envOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		CRMBaseURL:       envTrimmed("CRM_BASE_URL"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		ModelTimeout:             60 * time.Second,
		CRMTimeout:               5 * time.Second,
		SilenceSoftThreshold:     8 * time.Second,
		SilenceRetryLimit:        2,
		SessionInactivityTimeout: 5 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("MODEL_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CRMTimeout, err = durationFromEnv("CRM_TIMEOUT", cfg.CRMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	silenceSecs, err := intFromEnv("SILENCE_SECONDS_THRESHOLD", int(cfg.SilenceSoftThreshold/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceSoftThreshold = time.Duration(silenceSecs) * time.Second
	cfg.SilenceRetryLimit, err = intFromEnv("SILENCE_RETRY_THRESHOLD", cfg.SilenceRetryLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.SilenceSoftThreshold < time.Second {
		return Config{}, fmt.Errorf("SILENCE_SECONDS_THRESHOLD must be at least 1")
	}
	if cfg.SilenceRetryLimit < 0 {
		return Config{}, fmt.Errorf("SILENCE_RETRY_THRESHOLD must be >= 0")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
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
	v := envTrimmed(key)
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
	v := strings.ToLower(envTrimmed(key))
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
