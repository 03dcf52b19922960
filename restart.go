package sentinel

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"pkt.systems/logport"
)

// MinRestartSeconds is the hard floor below which auto-restart and
// restart-related intervals are rejected at environment check (spec.md §3).
const MinRestartSeconds = 10

// MinRestartDuration is MinRestartSeconds as a time.Duration.
const MinRestartDuration = MinRestartSeconds * time.Second

// fatalRestartGrace is how long the Restart Controller waits before
// retrying after a fatal error, to give a transient external resource a
// chance to recover (spec.md §4.9).
const fatalRestartGrace = 2 * time.Second

// RestartController drives spec.md §4.9's self-replacement protocol: tear
// down the lock, close std streams, exec a fresh copy of the binary with
// the same daemon/pid-file flags (-d, plus -p when a pid file is set, only in
// daemon mode), and exit.
type RestartController struct {
	log   logport.Logger
	bus   *EventBus
	ident *Identity

	isParent func() bool
	lock     LockPlugin // may be nil
	daemon   bool
	exit     func(code int)

	// overrideOptions, when non-empty, replaces the default "[-d [-p pidfile]]"
	// reconstruction of the command line (spec.md §4.9).
	overrideOptions []string
}

// NewRestartController wires a controller. isParent is read at trigger
// time, not construction time, since it can flip after a fork.
func NewRestartController(log logport.Logger, bus *EventBus, ident *Identity, isParent func() bool, lock LockPlugin, daemon bool, exit func(code int)) *RestartController {
	return &RestartController{
		log: log, bus: bus, ident: ident,
		isParent: isParent, lock: lock, daemon: daemon, exit: exit,
	}
}

// Command builds the self-restart command line, honoring an explicit
// options override if one was set (spec.md §4.9's "or any override options
// string when provided").
func (c *RestartController) Command() []string {
	if len(c.overrideOptions) > 0 {
		return append([]string{c.ident.Filename}, c.overrideOptions...)
	}
	args := []string{c.ident.Filename}
	if c.daemon {
		args = append(args, "-d")
		if c.ident.PidFile != "" {
			args = append(args, "-p", c.ident.PidFile)
		}
	}
	return args
}

// SetOverrideOptions replaces the default flag reconstruction.
func (c *RestartController) SetOverrideOptions(opts []string) {
	c.overrideOptions = opts
}

// Trigger runs the restart protocol (spec.md §4.9 steps 1–6). It is a
// no-op, returning nil, when this process is not the parent branch. It
// never returns on success — the process exits as its final step — so
// callers only observe a return value on failure.
func (c *RestartController) Trigger() error {
	if !c.isParent() {
		return nil
	}
	if c.bus != nil {
		c.bus.Dispatch(EventRestart)
	}
	if c.lock != nil {
		if err := c.lock.Teardown(); err != nil && c.log != nil {
			c.log.Error("lock teardown before restart failed", "error", err)
		}
	}

	// Close std streams so the spawned command does not inherit pipes the
	// old process might still be blocking on.
	_ = os.Stdout.Close()
	_ = os.Stderr.Close()

	if err := c.spawn(); err != nil {
		if c.log != nil {
			c.log.Error("restart spawn failed", "error", err)
		}
		return fmt.Errorf("sentinel: restart: %w", err)
	}
	c.exit(0)
	return nil
}

// spawn execs a fresh instance, redirecting its output to the null device,
// trying the start (not the supervision) up to three times with a short
// constant backoff to absorb a transient fork/exec failure such as EAGAIN
// under process-table pressure.
func (c *RestartController) spawn() error {
	return backoff.Retry(func() error {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer devNull.Close()

		args := c.Command()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stdout = devNull
		cmd.Stderr = devNull
		return cmd.Start()
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2))
}

// onFatal is the Restart Controller's entry point from the fatal-error
// path (spec.md §4.9, §4.10): sleep briefly, then run the same protocol as
// any other restart trigger.
func (c *RestartController) onFatal() {
	time.Sleep(fatalRestartGrace)
	if err := c.Trigger(); err != nil {
		c.exit(1)
	}
}

// ShouldAutoRestart reports whether the auto-restart guard fires this
// iteration: only in daemon mode, only once the configured interval is at
// least MinRestartSeconds, and only once uptime has reached it (spec.md
// §4.9, §8).
func ShouldAutoRestart(daemon bool, autoRestartInterval time.Duration, uptime time.Duration) bool {
	if !daemon {
		return false
	}
	if autoRestartInterval < MinRestartDuration {
		return false
	}
	return uptime >= autoRestartInterval
}
