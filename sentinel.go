// Package sentinel turns an application-supplied unit of periodic work
// into a well-behaved, singleton, auto-restarting background service with
// signal-driven lifecycle control and process-level parallelism (forked
// one-shot tasks and named persistent workers).
//
// Usage:
//
//	app := myApp{}
//	sv, err := sentinel.New(sentinel.Config{
//		Filename:            absPath,
//		LoopInterval:         100 * time.Millisecond,
//		AutoRestartInterval:  24 * time.Hour,
//		DaemonMode:           true,
//	})
//	sv.Run(loadPlugins, app)
package sentinel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"sync/atomic"
	"time"

	"pkt.systems/logport"
)

// constructed enforces the one-supervisor-per-process invariant of
// spec.md §3. It is a package-level flag rather than a hidden global
// supervisor handle (spec.md §9): New returns a handle the caller threads
// explicitly into plugins and application code.
var constructed atomic.Bool

// Application is the user-provided unit of work (spec.md §1's "concrete
// application 'execute' body", an external collaborator). Setup runs once
// during Init (and again in a forked child when the fork requests it);
// Execute runs once per run-loop iteration and may block arbitrarily — the
// run loop provides no preemption (spec.md §5).
type Application interface {
	Setup() error
	Execute(ctx context.Context) error
}

// Config is every field spec.md §3 assigns the Supervisor directly.
type Config struct {
	// Filename is the absolute path of the executable image, used for
	// self-restart. Required.
	Filename string
	// LoopInterval is the target wall time of one run-loop iteration.
	// Zero means "no sleep" (still yields the 2ms overrun floor).
	LoopInterval time.Duration
	// AutoRestartInterval must be >= MinRestartDuration or environment
	// check rejects it. Only takes effect when DaemonMode is true.
	AutoRestartInterval time.Duration
	// DaemonMode gates auto-restart and adds -d to the restart command line.
	DaemonMode bool
	// Verbose is carried in the Config but the Supervisor does not read it:
	// log lines go only to Logger, with no extra copy to stdout, whether or
	// not Verbose or DaemonMode is set.
	Verbose bool
	// PidFile, if set, is written at construction and removed on normal
	// teardown iff its contents still match this process's pid.
	PidFile string
	// Lock is the Lock Plugin guarding at-most-one live instance. Nil
	// disables the check entirely (spec.md §4.5 is itself pluggable).
	Lock LockPlugin
	// Logger receives all structured operational logging. Defaults to a
	// stderr zerolog-backed logport.Logger when nil.
	Logger logport.Logger

	// appSetup is stashed by Run so the fork registry's run-setup option
	// can re-invoke Application.Setup without importing Application itself.
	appSetup func() error
}

// Supervisor is the top-level state machine of spec.md §4.8: it drives
// init, signal handling, periodic execute, auto-restart, and shutdown.
// Exactly one may exist per process (see New).
type Supervisor struct {
	cfg Config
	log logport.Logger

	ident    Identity
	isParent atomic.Bool
	shutdown atomic.Bool

	Events  *EventBus
	Plugins *PluginHost
	Forks   *ForkRegistry
	Workers *WorkerManager

	signals *SignalRouter
	restart *RestartController
	clock   *Clock

	exit func(code int)
}

// New constructs the process's one Supervisor. A second call in the same
// process returns ErrAlreadyConstructed, matching spec.md §9's guidance to
// replace a static-accessor singleton with an explicit, single-use
// constructor.
func New(cfg Config) (*Supervisor, error) {
	if !constructed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyConstructed
	}

	log := cfg.Logger
	if log == nil {
		log = defaultLogger()
	}

	s := &Supervisor{
		cfg:   cfg,
		log:   log,
		ident: NewIdentity(cfg.Filename),
		exit:  os.Exit,
	}
	s.isParent.Store(!IsForkChild())

	s.Events = NewEventBus(log)
	s.Plugins = NewPluginHost(log)
	s.Workers = NewWorkerManager(log)
	s.clock = NewClock(cfg.LoopInterval, log)

	s.Forks = NewForkRegistry(log, s.Events, s.Plugins, &s.ident, func() error {
		if s.cfg.appSetup != nil {
			return s.cfg.appSetup()
		}
		return nil
	})

	s.restart = NewRestartController(log, s.Events, &s.ident, s.IsParent, cfg.Lock, cfg.DaemonMode, s.doExit)

	// A fork child re-execs and runs New from scratch before DispatchIfChild
	// gets a chance to run; skip the pid file and the lock plugin here so
	// the child never clobbers the parent's pid file and the fork-isolation
	// invariant (spec.md §4.6, §8) holds even before DispatchIfChild's own
	// ClearForChild call.
	if !IsForkChild() {
		if cfg.PidFile != "" {
			if err := s.ident.WritePidFile(cfg.PidFile); err != nil {
				return nil, err
			}
		}

		if cfg.Lock != nil {
			if err := s.Plugins.Load("lock", cfg.Lock); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// appSetup lets Run stash the application's Setup for the fork registry's
// run-setup option to call, without the registry importing Application.
func (c *Config) setAppSetup(f func() error) { c.appSetup = f }

// doExit is the indirection every exit path in the Supervisor funnels
// through, so tests can substitute a non-terminating stand-in.
func (s *Supervisor) doExit(code int) { s.exit(code) }

// IsParent reports whether this process is the original (non-forked)
// branch.
func (s *Supervisor) IsParent() bool { return s.isParent.Load() }

// Pid returns this process's current pid.
func (s *Supervisor) Pid() int { return s.ident.Pid }

// Runtime returns how long the current process image has been running.
func (s *Supervisor) Runtime() time.Duration { return s.ident.Runtime() }

// RequestShutdown sets the shutdown latch; the run loop exits after the
// current iteration finishes (spec.md §5's cooperative cancellation).
func (s *Supervisor) RequestShutdown() { s.shutdown.Store(true) }

// Restart triggers the restart protocol as if SIGHUP had been received.
func (s *Supervisor) Restart() error { return s.restart.Trigger() }

// checkEnvironment aggregates the composite failure report of spec.md
// §4.10: filename set, loop interval non-negative, auto-restart interval
// at or above MinRestartSeconds, forking available, and every plugin's own
// check.
func (s *Supervisor) checkEnvironment() []string {
	var problems []string
	if s.cfg.Filename == "" {
		problems = append(problems, "filename is required")
	}
	if s.cfg.LoopInterval < 0 {
		problems = append(problems, "loop interval must be non-negative")
	}
	if s.cfg.AutoRestartInterval < MinRestartDuration {
		problems = append(problems, fmt.Sprintf("auto-restart interval must be >= %s", MinRestartDuration))
	}
	if !forkingAvailable() {
		problems = append(problems, "forking is not available on this host")
	}
	problems = append(problems, s.Plugins.CheckEnvironment()...)
	return problems
}

// forkingAvailable is true wherever os/exec can locate this process's own
// binary to re-launch it — the substrate the fork primitive and restart
// controller both depend on.
func forkingAvailable() bool {
	_, err := exec.LookPath(os.Args[0])
	if err == nil {
		return true
	}
	// os.Args[0] may already be an absolute/relative path rather than a
	// PATH-resolved name; stat it directly before giving up.
	_, statErr := os.Stat(os.Args[0])
	return statErr == nil
}

// Run drives the full lifecycle of spec.md §4.8: plugin loading via
// loadPlugins, environment check, Init, the run loop, and finally shutdown
// or restart. It returns only on a clean shutdown; fatal conditions and
// restarts exit the process from within.
func (s *Supervisor) Run(loadPlugins func(*Supervisor) error, app Application) error {
	s.cfg.setAppSetup(app.Setup)
	s.signals = NewSignalRouter(s.log, s.Events, s.RequestShutdown, s.signalRestart, s.dumpRuntime)
	s.signals.Start()
	defer s.signals.Stop()

	if loadPlugins != nil {
		if err := loadPlugins(s); err != nil {
			return s.fatalBeforeInit("load plugins", err)
		}
	}

	if problems := s.checkEnvironment(); len(problems) > 0 {
		s.log.Error("environment check failed", "problems", problems)
		return s.fatalBeforeInit("environment check", fmt.Errorf("%w: %v", ErrConfiguration, problems))
	}

	if s.cfg.Lock != nil && s.cfg.Lock.IsHeldByOther() {
		s.log.Error("refusing to init: lock held by another instance")
		return s.fatalBeforeInit("lock check", ErrLockHeld)
	}

	if err := s.Plugins.SetupAll(); err != nil {
		return s.fatalBeforeInit("plugin setup", err)
	}
	s.Events.Dispatch(EventInit)
	if err := app.Setup(); err != nil {
		return s.fatalBeforeInit("application setup", err)
	}

	s.runLoop(app)
	return s.shutdownSequence()
}

func (s *Supervisor) signalRestart() {
	if err := s.restart.Trigger(); err != nil {
		s.log.Error("restart trigger failed", "error", err)
	}
}

// runLoop is the strict six-step iteration of spec.md §4.8.
func (s *Supervisor) runLoop(app Application) {
	for !s.shutdown.Load() && s.IsParent() {
		s.clock.Start()

		if ShouldAutoRestart(s.cfg.DaemonMode, s.cfg.AutoRestartInterval, s.Runtime()) {
			if err := s.restart.Trigger(); err != nil {
				s.log.Error("auto-restart trigger failed", "error", err)
			}
		}

		s.Events.Dispatch(EventRun)

		if err := s.safeExecute(app); err != nil {
			s.fatal("execute", err)
			if s.shutdown.Load() {
				break
			}
		}

		if s.clock.StopAndSleep() {
			s.Events.Dispatch(EventOverrun)
		}
		s.Forks.Reap()
	}
}

// safeExecute converts a panic escaping Application.Execute into an error,
// so it can be routed through the same fatal-error path as a returned
// error (spec.md §4.8: "any exception escaping steps 3–4 is converted to a
// fatal error").
func (s *Supervisor) safeExecute(app Application) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execute panicked: %v", r)
		}
	}()
	return app.Execute(context.Background())
}

// fatalBeforeInit logs and converts a pre-Init failure straight to exit(1):
// spec.md §4.10 only offers the restart branch once uptime has reached
// MinRestartSeconds, which can never be true this early.
func (s *Supervisor) fatalBeforeInit(stage string, err error) error {
	s.log.Error("fatal error before init", "stage", stage, "error", err)
	s.doExit(1)
	return err
}

// shutdownSequence is the Shutdown state of spec.md §4.8: dispatch
// EventShutdown, tear down plugins in reverse order, and release the pid
// file if still owned. It only runs in the parent branch — a forked child
// that flips is_parent never owns any of this.
func (s *Supervisor) shutdownSequence() error {
	if !s.IsParent() {
		return nil
	}
	s.Events.Dispatch(EventShutdown)
	s.Plugins.TeardownAll()
	if err := s.ident.RemovePidFileIfOwned(); err != nil {
		s.log.Error("pid file removal failed", "error", err)
		return err
	}
	return nil
}

// dumpRuntime emits the SIGUSR1 runtime line: loop interval, restart
// interval, pid, uptime, memory counters, loaded plugins, named workers,
// and the current user (spec.md §4.2).
func (s *Supervisor) dumpRuntime() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	s.log.Info("runtime dump",
		"loop_interval", s.cfg.LoopInterval,
		"auto_restart_interval", s.cfg.AutoRestartInterval,
		"pid", s.Pid(),
		"uptime", s.Runtime(),
		"heap_alloc_bytes", mem.HeapAlloc,
		"sys_bytes", mem.Sys,
		"plugins", s.Plugins.Aliases(),
		"workers", s.Workers.Names(),
		"user", username,
	)
}
