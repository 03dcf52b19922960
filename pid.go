package sentinel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Identity holds the process-identity fields spec.md §3 assigns the
// Supervisor directly: the executable image used for self-restart, the
// live pid, the instant this process image began, and the optional pid
// file whose removal is gated on still owning it.
type Identity struct {
	Filename  string
	Pid       int
	StartTime time.Time
	PidFile   string
}

// NewIdentity captures the current process's identity. filename must be an
// absolute path usable to exec a fresh copy of this binary (spec.md §3).
func NewIdentity(filename string) Identity {
	return Identity{
		Filename:  filename,
		Pid:       os.Getpid(),
		StartTime: time.Now(),
	}
}

// Refresh re-captures Pid and StartTime; called in the child branch after a
// fork, since a forked child is a distinct process image (spec.md §3).
func (id *Identity) Refresh() {
	id.Pid = os.Getpid()
	id.StartTime = time.Now()
}

// Runtime returns how long this process image has been running.
func (id *Identity) Runtime() time.Duration {
	return time.Since(id.StartTime)
}

// WritePidFile writes id.Pid to path as a bare decimal, and records path as
// owned by this process so normal teardown may remove it later.
func (id *Identity) WritePidFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(id.Pid)), 0o644); err != nil {
		return fmt.Errorf("sentinel: write pid file %s: %w", path, err)
	}
	id.PidFile = path
	return nil
}

// RemovePidFileIfOwned removes id.PidFile only if its current contents
// still equal this process's pid — the do-not-remove-if-reused rule from
// spec.md §3 and §8: another process may have since claimed the path.
func (id *Identity) RemovePidFileIfOwned() error {
	if id.PidFile == "" {
		return nil
	}
	contents, err := os.ReadFile(id.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sentinel: read pid file %s: %w", id.PidFile, err)
	}
	if strings.TrimSpace(string(contents)) != strconv.Itoa(id.Pid) {
		return nil
	}
	if err := os.Remove(id.PidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sentinel: remove pid file %s: %w", id.PidFile, err)
	}
	return nil
}
