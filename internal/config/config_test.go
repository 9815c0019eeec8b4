package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SilenceSoftThreshold != 8*time.Second {
		t.Fatalf("SilenceSoftThreshold = %v, want 8s", cfg.SilenceSoftThreshold)
	}
	if cfg.SilenceRetryLimit != 2 {
		t.Fatalf("SilenceRetryLimit = %d, want 2", cfg.SilenceRetryLimit)
	}
	if cfg.ModelBackendMode != "auto" {
		t.Fatalf("ModelBackendMode = %q, want auto", cfg.ModelBackendMode)
	}
}

func TestLoadSilenceOverrides(t *testing.T) {
	t.Setenv("SILENCE_SECONDS_THRESHOLD", "15")
	t.Setenv("SILENCE_RETRY_THRESHOLD", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SilenceSoftThreshold != 15*time.Second {
		t.Fatalf("SilenceSoftThreshold = %v, want 15s", cfg.SilenceSoftThreshold)
	}
	if cfg.SilenceRetryLimit != 4 {
		t.Fatalf("SilenceRetryLimit = %d, want 4", cfg.SilenceRetryLimit)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("SILENCE_SECONDS_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject zero silence threshold")
	}

	t.Setenv("SILENCE_SECONDS_THRESHOLD", "8")
	t.Setenv("SILENCE_RETRY_THRESHOLD", "notanumber")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject non-numeric retry threshold")
	}
}
