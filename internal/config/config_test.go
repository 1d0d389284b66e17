package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("expected max_attempts=5, got %d", cfg.Connection.MaxAttempts)
	}
	if cfg.Session.FallbackDelay != 2*time.Second {
		t.Errorf("expected fallback_delay=2s, got %s", cfg.Session.FallbackDelay)
	}
	if cfg.Heartbeat.Interval != 60*time.Second || cfg.Heartbeat.Threshold != 120*time.Second {
		t.Errorf("unexpected heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if cfg.Reconnect.ReconnectSettle != 2*time.Second || cfg.Reconnect.InitialSettle != time.Second {
		t.Errorf("unexpected settle defaults: %+v", cfg.Reconnect)
	}
}

func TestLoad_WithoutEnvUsesDefault(t *testing.T) {
	t.Setenv(EnvConfig, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != Default().Server.URL {
		t.Errorf("expected default server url, got %s", cfg.Server.URL)
	}
}

func TestLoad_WithEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "orbitlink.yaml")
	configContent := `
server:
  url: wss://example.test/api/realtime
connection:
  max_attempts: 3
  initial_delay: 250ms
session:
  fallback_delay: 1500ms
paths:
  state: ${ORBITLINK_TEST_ROOT}/state
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvConfig, configPath)
	t.Setenv("ORBITLINK_TEST_ROOT", "/var/lib/orbitlink")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "wss://example.test/api/realtime" {
		t.Errorf("server.url = %s", cfg.Server.URL)
	}
	if cfg.Connection.MaxAttempts != 3 || cfg.Connection.InitialDelay != 250*time.Millisecond {
		t.Errorf("connection = %+v", cfg.Connection)
	}
	if cfg.Connection.MaxDelay != 5*time.Second {
		t.Errorf("omitted max_delay should keep the default, got %s", cfg.Connection.MaxDelay)
	}
	if cfg.Session.FallbackDelay != 1500*time.Millisecond {
		t.Errorf("fallback_delay = %s", cfg.Session.FallbackDelay)
	}
	if cfg.Paths.State != "/var/lib/orbitlink/state" {
		t.Errorf("paths.state = %s", cfg.Paths.State)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 3 || policy.InitialDelay != 250*time.Millisecond {
		t.Errorf("RetryPolicy = %+v", policy)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("heartbeat:\n  interval: soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.URL = "http://example.test"
	cfg.Connection.MaxAttempts = 0
	cfg.Connection.Jitter = 2
	cfg.Heartbeat.Threshold = time.Second
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.url",
		"connection.max_attempts",
		"connection.jitter",
		"heartbeat.threshold",
		"logging.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("ORBITLINK_SET", "value")
	tests := map[string]string{
		"${ORBITLINK_SET}/x":               "value/x",
		"${ORBITLINK_UNSET_VAR:-fallback}": "fallback",
		"plain":                            "plain",
	}
	for in, want := range tests {
		if got := expandVars(in); got != want {
			t.Errorf("expandVars(%q) = %q, want %q", in, got, want)
		}
	}
}
