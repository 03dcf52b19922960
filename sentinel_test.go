package sentinel

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// TestNewSingletonEnforcement is the only test in this package allowed to
// call New: the one-supervisor-per-process invariant is backed by a
// package-level flag, so a second construction anywhere else in this test
// binary would spuriously fail here.
func TestNewSingletonEnforcement(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "sentineld")
	sv, err := New(Config{
		Filename:            filename,
		LoopInterval:        time.Millisecond,
		AutoRestartInterval: MinRestartDuration,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing first supervisor: %v", err)
	}
	if sv.Pid() == 0 {
		t.Fatal("expected a non-zero pid")
	}
	if sv.Runtime() < 0 {
		t.Fatal("expected non-negative runtime")
	}

	if _, err := New(Config{Filename: filename}); !errors.Is(err, ErrAlreadyConstructed) {
		t.Fatalf("expected ErrAlreadyConstructed, got %v", err)
	}

	if problems := sv.checkEnvironment(); len(problems) != 0 {
		t.Fatalf("unexpected environment problems: %v", problems)
	}

	sv.RequestShutdown()
	if !sv.shutdown.Load() {
		t.Fatal("expected shutdown latch to be set")
	}

	if err := sv.shutdownSequence(); err != nil {
		t.Fatalf("unexpected error in shutdown sequence: %v", err)
	}

	// dumpRuntime must not panic when called directly.
	sv.dumpRuntime()
}

func TestCheckEnvironmentRejectsMissingFilename(t *testing.T) {
	s := &Supervisor{
		cfg:     Config{AutoRestartInterval: MinRestartDuration},
		Plugins: NewPluginHost(nil),
	}
	problems := s.checkEnvironment()
	found := false
	for _, p := range problems {
		if p == "filename is required" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a missing-filename problem, got %v", problems)
	}
}

func TestCheckEnvironmentRejectsShortAutoRestartInterval(t *testing.T) {
	s := &Supervisor{
		cfg:     Config{Filename: "/bin/example", AutoRestartInterval: time.Second},
		Plugins: NewPluginHost(nil),
	}
	problems := s.checkEnvironment()
	if len(problems) == 0 {
		t.Fatal("expected a problem for an auto-restart interval below the floor")
	}
}

func TestShutdownSequenceNoopForForkedChild(t *testing.T) {
	s := &Supervisor{
		Plugins: NewPluginHost(nil),
		Events:  NewEventBus(nil),
	}
	s.isParent.Store(false)
	if err := s.shutdownSequence(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
