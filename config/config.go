// Package config loads sentinel's supplemental declarative configuration:
// an on-disk TOML file operators can edit without recompiling, overridden
// by whatever CLI flags the caller also supplies. The supervisor itself
// has no concept of this file — it only ever sees a fully-resolved
// sentinel.Config — so this package exists purely to produce one.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// WorkerSpec declaratively describes one ExecWorker to register.
type WorkerSpec struct {
	Name          string `toml:"name"`
	Command       string `toml:"command"`
	Args          []string `toml:"args"`
	MaxRestarts   int    `toml:"max_restarts"`
	RestartDelay  string `toml:"restart_delay"`
	BackoffFactor float64 `toml:"backoff_factor"`
	Timeout       string `toml:"timeout"`
}

// File is the on-disk shape of a sentinel config file.
type File struct {
	LoopInterval        string       `toml:"loop_interval"`
	AutoRestartInterval string       `toml:"auto_restart_interval"`
	DaemonMode          bool         `toml:"daemon_mode"`
	Verbose             bool         `toml:"verbose"`
	PidFile             string       `toml:"pid_file"`
	LockFile            string       `toml:"lock_file"`
	MetricsAddr         string       `toml:"metrics_addr"`
	Workers             []WorkerSpec `toml:"workers"`
}

// Resolved is File with its duration strings parsed.
type Resolved struct {
	LoopInterval        time.Duration
	AutoRestartInterval time.Duration
	DaemonMode          bool
	Verbose             bool
	PidFile             string
	LockFile            string
	MetricsAddr         string
	Workers             []WorkerSpec
}

// Load reads and parses a TOML config file at path, resolving duration
// strings and reporting any unrecognized keys as warnings rather than
// errors (operators editing a shared file across versions should not be
// hard-broken by a stray key).
func Load(path string) (*Resolved, []string, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, nil, fmt.Errorf("sentinel/config: parse %s: %w", path, err)
	}

	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", strings.Join(key, ".")))
	}

	resolved, err := resolve(&f)
	if err != nil {
		return nil, warnings, fmt.Errorf("sentinel/config: %s: %w", path, err)
	}
	return resolved, warnings, nil
}

func resolve(f *File) (*Resolved, error) {
	loop, err := parseDuration(f.LoopInterval, 0)
	if err != nil {
		return nil, fmt.Errorf("loop_interval: %w", err)
	}
	autoRestart, err := parseDuration(f.AutoRestartInterval, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("auto_restart_interval: %w", err)
	}

	r := &Resolved{
		LoopInterval:        loop,
		AutoRestartInterval: autoRestart,
		DaemonMode:          f.DaemonMode,
		Verbose:             f.Verbose,
		PidFile:             f.PidFile,
		LockFile:            f.LockFile,
		MetricsAddr:         f.MetricsAddr,
		Workers:             f.Workers,
	}
	return r, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
