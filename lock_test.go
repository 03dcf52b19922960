package sentinel

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFileLockPluginCheckEnvironment(t *testing.T) {
	p := NewFileLockPlugin("", nil)
	if problems := p.CheckEnvironment(); len(problems) == 0 {
		t.Fatal("expected a problem for an empty path")
	}
	p = NewFileLockPlugin(filepath.Join(t.TempDir(), "lock"), nil)
	if problems := p.CheckEnvironment(); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}

func TestFileLockPluginAcquireAndTeardown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.lock")
	p := NewFileLockPlugin(path, nil)

	if err := p.Acquire(); err != nil {
		t.Fatalf("unexpected error acquiring lock: %v", err)
	}
	if p.IsHeldByOther() {
		t.Fatal("the holder itself should not see the lock as held by another")
	}
	if err := p.Teardown(); err != nil {
		t.Fatalf("unexpected error tearing down: %v", err)
	}
}

func TestFileLockPluginIsHeldByOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.lock")
	holder := NewFileLockPlugin(path, nil)
	if err := holder.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer holder.Teardown()

	probe := NewFileLockPlugin(path, nil)
	if !probe.IsHeldByOther() {
		t.Fatal("expected the lock to be reported as held by another holder")
	}
	if err := probe.Acquire(); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestFileLockPluginTeardownIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.lock")
	p := NewFileLockPlugin(path, nil)
	if err := p.Teardown(); err != nil {
		t.Fatalf("tearing down a never-acquired lock should be a no-op, got %v", err)
	}
}
