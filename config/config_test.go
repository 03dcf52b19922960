package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("unexpected error writing config: %v", err)
	}
	return path
}

func TestLoadResolvesDurationsAndFields(t *testing.T) {
	path := writeConfig(t, `
loop_interval = "250ms"
auto_restart_interval = "12h"
daemon_mode = true
verbose = true
pid_file = "/var/run/sentineld.pid"
lock_file = "/var/run/sentineld.lock"
metrics_addr = ":9100"

[[workers]]
name = "ingest"
command = "/usr/local/bin/ingest"
args = ["--once"]
max_restarts = 3
restart_delay = "1s"
backoff_factor = 2.0
timeout = "5s"
`)

	resolved, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if resolved.LoopInterval != 250*time.Millisecond {
		t.Fatalf("unexpected loop interval: %s", resolved.LoopInterval)
	}
	if resolved.AutoRestartInterval != 12*time.Hour {
		t.Fatalf("unexpected auto restart interval: %s", resolved.AutoRestartInterval)
	}
	if !resolved.DaemonMode || !resolved.Verbose {
		t.Fatal("expected daemon_mode and verbose to be true")
	}
	if resolved.PidFile != "/var/run/sentineld.pid" {
		t.Fatalf("unexpected pid file: %s", resolved.PidFile)
	}
	if len(resolved.Workers) != 1 || resolved.Workers[0].Name != "ingest" {
		t.Fatalf("unexpected workers: %+v", resolved.Workers)
	}
}

func TestLoadDefaultsWhenDurationsOmitted(t *testing.T) {
	path := writeConfig(t, `daemon_mode = false`)

	resolved, _, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.LoopInterval != 0 {
		t.Fatalf("expected zero loop interval default, got %s", resolved.LoopInterval)
	}
	if resolved.AutoRestartInterval != 24*time.Hour {
		t.Fatalf("expected 24h auto restart default, got %s", resolved.AutoRestartInterval)
	}
}

func TestLoadReportsUnknownKeysAsWarnings(t *testing.T) {
	path := writeConfig(t, `
loop_interval = "1s"
unexpected_key = "surprise"
`)

	_, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

func TestLoadInvalidDurationErrors(t *testing.T) {
	path := writeConfig(t, `loop_interval = "not-a-duration"`)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid duration string")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error loading a missing file")
	}
}
