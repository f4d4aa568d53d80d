package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 2*time.Second {
		t.Fatalf("expected default retry delay 2s, got %s", cfg.RetryDelay)
	}
	if cfg.ScoreThreshold != 0.7 {
		t.Fatalf("expected default score threshold 0.7, got %f", cfg.ScoreThreshold)
	}
	if !cfg.DemoMode {
		t.Fatal("expected demo mode enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COORD_PORT", "9090")
	t.Setenv("COORD_RETRY_DELAY", "500ms")
	t.Setenv("COORD_RETRY_BACKOFF", "exponential")
	t.Setenv("COORD_DEMO_MODE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Fatalf("expected retry delay 500ms, got %s", cfg.RetryDelay)
	}
	if cfg.RetryBackoff != "exponential" {
		t.Fatalf("expected exponential backoff, got %s", cfg.RetryBackoff)
	}
	if cfg.DemoMode {
		t.Fatal("expected demo mode disabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"COORD_PORT": "70000"}},
		{"bad threshold", map[string]string{"COORD_SCORE_THRESHOLD": "1.5"}},
		{"bad backoff", map[string]string{"COORD_RETRY_BACKOFF": "fibonacci"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
