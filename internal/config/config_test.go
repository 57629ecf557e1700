package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANALYSIS_BASE_URL", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Analysis.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected base URL: %s", cfg.Analysis.BaseURL)
	}
	if cfg.Workflow.ScanPhase != 1500*time.Millisecond {
		t.Fatalf("unexpected scan phase: %s", cfg.Workflow.ScanPhase)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "analysis:\n  baseURL: http://10.0.2.2:8000\n  timeout: 15s\nserver:\n  addr: :9090\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANALYSIS_BASE_URL", "")
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("SCAN_PHASE", "0s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Analysis.BaseURL != "http://10.0.2.2:8000" {
		t.Fatalf("expected base URL from file, got %s", cfg.Analysis.BaseURL)
	}
	if cfg.Analysis.Timeout != 15*time.Second {
		t.Fatalf("expected timeout from file, got %s", cfg.Analysis.Timeout)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("expected env to override file, got %s", cfg.Server.Addr)
	}
	if cfg.Workflow.ScanPhase != 0 {
		t.Fatalf("expected zero scan phase, got %s", cfg.Workflow.ScanPhase)
	}
}

func TestLoadRejectsBadBaseURL(t *testing.T) {
	t.Setenv("ANALYSIS_BASE_URL", "localhost")
	if _, err := Load(""); err == nil {
		t.Fatal("expected invalid base URL to be rejected")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ANALYSIS_TIMEOUT", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected invalid duration to be rejected")
	}
}

func TestServerRequiresJWTSecret(t *testing.T) {
	t.Setenv("ANALYSIS_BASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Fatalf("expected no default secret, got %q", cfg.Auth.JWTSecret)
	}
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("expected serving without a secret to be rejected")
	}

	cfg.Auth.JWTSecret = "   "
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("expected a blank secret to be rejected")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("expected secret from env to satisfy the server, got %v", err)
	}
}
