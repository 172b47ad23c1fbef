package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DUAL_CONTROL_THRESHOLD_MINOR", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Policy.DualControlThresholdMinor != 5_000_000 {
		t.Errorf("expected default threshold, got %d", cfg.Policy.DualControlThresholdMinor)
	}
	if cfg.Policy.AutoReleaseDays != 7 {
		t.Errorf("expected default auto release of 7 days, got %d", cfg.Policy.AutoReleaseDays)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DUAL_CONTROL_THRESHOLD_MINOR", "1000000")
	t.Setenv("AUTO_RELEASE_DAYS", "3")
	t.Setenv("CORS_ORIGINS", "https://admin.mnbara.com, https://staging.mnbara.com")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.Policy.DualControlThresholdMinor != 1_000_000 {
		t.Errorf("expected overridden threshold, got %d", cfg.Policy.DualControlThresholdMinor)
	}
	if cfg.Policy.AutoReleaseDays != 3 {
		t.Errorf("expected 3 day auto release, got %d", cfg.Policy.AutoReleaseDays)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://staging.mnbara.com" {
		t.Errorf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadPolicyProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte("dual_control_threshold_minor: 250000\nauto_release_days: 14\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if policy.DualControlThresholdMinor != 250000 {
		t.Errorf("expected 250000, got %d", policy.DualControlThresholdMinor)
	}
	if policy.AutoReleaseDays != 14 {
		t.Errorf("expected 14, got %d", policy.AutoReleaseDays)
	}
	// Absent fields keep defaults.
	if policy.RateLimitRPM != 300 {
		t.Errorf("expected default rpm, got %d", policy.RateLimitRPM)
	}
}

func TestLoadPolicyRejectsDisabledSafety(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte("dual_control_threshold_minor: -1\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(path)
	if err == nil {
		t.Fatal("expected error for negative threshold")
	}
	// The returned policy falls back to safe defaults.
	if policy.DualControlThresholdMinor != 5_000_000 {
		t.Errorf("expected fallback to default threshold, got %d", policy.DualControlThresholdMinor)
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	policy, err := LoadPolicy("/nonexistent/policy.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if policy.DualControlThresholdMinor != 5_000_000 {
		t.Errorf("expected defaults on missing file, got %d", policy.DualControlThresholdMinor)
	}
}
