package infra

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "BGREMOVE_ENDPOINT", "BGREMOVE_BACKEND", "IMAGE_SOURCE_HOST_ALLOWLIST",
		"PROCESS_TIMEOUT_SECONDS", "MAX_UPLOAD_BYTES", "REMOVAL_WORKERS", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Endpoint != "http://localhost:8080" {
		t.Fatalf("Endpoint mismatch: got %q", cfg.Endpoint)
	}
	if cfg.ProcessTimeout != 30*time.Second {
		t.Fatalf("ProcessTimeout = %v, want 30s", cfg.ProcessTimeout)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.Backend != "embedded" {
		t.Fatalf("Backend = %q", cfg.Backend)
	}
	if len(cfg.ImageSourceAllowlist) != 1 || cfg.ImageSourceAllowlist[0] != "localhost" {
		t.Fatalf("ImageSourceAllowlist mismatch: %#v", cfg.ImageSourceAllowlist)
	}
}

func TestLoadConfigInheritsPortInEndpoint(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "1919")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Endpoint != "http://localhost:1919" {
		t.Fatalf("Endpoint mismatch: got %q", cfg.Endpoint)
	}
}

func TestLoadConfigMergesExplicitAllowlist(t *testing.T) {
	clearEnv(t)
	t.Setenv("BGREMOVE_ENDPOINT", "https://cdn.example.com")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "Media.example.com, localhost ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := []string{"cdn.example.com", "localhost", "media.example.com"}
	if len(cfg.ImageSourceAllowlist) != len(expected) {
		t.Fatalf("ImageSourceAllowlist mismatch: got %#v want %#v", cfg.ImageSourceAllowlist, expected)
	}
	for i, host := range expected {
		if cfg.ImageSourceAllowlist[i] != host {
			t.Fatalf("ImageSourceAllowlist[%d] = %q, want %q", i, cfg.ImageSourceAllowlist[i], host)
		}
	}
	if !cfg.HostAllowed("MEDIA.example.com") || cfg.HostAllowed("evil.example.com") {
		t.Fatalf("HostAllowed mismatch")
	}
}

func TestLoadConfigRejectsNonPositiveTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROCESS_TIMEOUT_SECONDS", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}
