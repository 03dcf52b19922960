package sentinel

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"pkt.systems/logport"
)

const forkTargetEnv = "SENTINEL_FORK_TARGET"
const forkArgsEnv = "SENTINEL_FORK_ARGS"
const forkSetupEnv = "SENTINEL_FORK_SETUP"

// ForkTarget is a callable an application registers under a name. A forked
// child is, under the hood, a freshly re-exec'd copy of the binary rather
// than a true copy-on-write fork (the Go runtime cannot survive the latter),
// so the child must look the callable up by name after relaunch instead of
// inheriting a closure (spec.md §9, "Fork-based parallelism with selective
// state inheritance").
type ForkTarget func(args []string) error

// ForkRegistry holds named fork targets and implements the fork primitive
// of spec.md §4.6: dispatch FORK, attempt a process split, and in the
// parent branch return immediately without waiting — the parent reaps
// opportunistically from the run loop instead (spec.md §4.8 step 6).
type ForkRegistry struct {
	log     logport.Logger
	bus     *EventBus
	plugins *PluginHost
	ident   *Identity

	targets map[string]ForkTarget
	setup   func() error

	mu      sync.Mutex
	pending []int
}

// NewForkRegistry returns an empty registry. setup, if non-nil, is the
// application's setup() hook, re-run in the child when requested. plugins
// and ident are cleared/refreshed by DispatchIfChild before the target
// runs, so the fork-isolation invariant (spec.md §4.6, §8: the child's
// plugin registry has size 0 before the callable runs) holds regardless
// of what the caller loaded into them between New and DispatchIfChild.
func NewForkRegistry(log logport.Logger, bus *EventBus, plugins *PluginHost, ident *Identity, setup func() error) *ForkRegistry {
	return &ForkRegistry{log: log, bus: bus, plugins: plugins, ident: ident, setup: setup, targets: make(map[string]ForkTarget)}
}

// Register binds name to target. The exact same registration must happen
// in both branches — the parent to validate the name exists, the child
// (after re-exec) to look it up — since each runs the program from
// scratch.
func (r *ForkRegistry) Register(name string, target ForkTarget) {
	r.targets[name] = target
}

// Fork dispatches EventFork, then spawns a child process that will run the
// named target. It returns false and logs an ERROR if the target is
// unknown or the process could not be started; it never blocks waiting for
// the child to finish.
func (r *ForkRegistry) Fork(name string, args []string, runSetup bool) bool {
	if r.bus != nil {
		r.bus.Dispatch(EventFork, name)
	}
	if _, ok := r.targets[name]; !ok {
		if r.log != nil {
			r.log.Error("fork target not registered", "target", name)
		}
		return false
	}

	encodedArgs, err := json.Marshal(args)
	if err != nil {
		if r.log != nil {
			r.log.Error("fork failed to encode args", "target", name, "error", err)
		}
		return false
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", forkTargetEnv, name),
		fmt.Sprintf("%s=%s", forkArgsEnv, encodedArgs),
	)
	if runSetup {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=1", forkSetupEnv))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		if r.log != nil {
			r.log.Error("fork failed", "target", name, "error", err)
		}
		return false
	}
	r.mu.Lock()
	r.pending = append(r.pending, cmd.Process.Pid)
	r.mu.Unlock()
	if r.log != nil {
		r.log.Debug("forked child", "target", name, "pid", cmd.Process.Pid)
	}
	return true
}

// IsForkChild reports whether this process was launched by Fork, i.e. it
// should behave as the child branch: is_parent=false, no plugin teardown
// ownership (spec.md §3, §4.6).
func IsForkChild() bool {
	return os.Getenv(forkTargetEnv) != ""
}

// DispatchIfChild checks whether this process was launched by Fork; if so
// it clears the plugin registry and refreshes process identity, then runs
// the named target (re-running application setup first when requested) and
// exits — never returning. New already skips loading the pid file and lock
// plugin in a fork child, and ClearForChild here removes anything a caller
// loaded between New and DispatchIfChild regardless, so the registry is
// provably size 0 before the callable runs (spec.md §8's fork-isolation
// property).
func (r *ForkRegistry) DispatchIfChild() {
	name := os.Getenv(forkTargetEnv)
	if name == "" {
		return
	}
	if r.plugins != nil {
		r.plugins.ClearForChild()
	}
	if r.ident != nil {
		r.ident.Refresh()
	}

	target, ok := r.targets[name]
	if !ok {
		if r.log != nil {
			r.log.Error("forked child has no target registered", "target", name)
		}
		os.Exit(1)
	}

	var args []string
	if raw := os.Getenv(forkArgsEnv); raw != "" {
		_ = json.Unmarshal([]byte(raw), &args)
	}

	if os.Getenv(forkSetupEnv) == "1" && r.setup != nil {
		if err := r.setup(); err != nil {
			if r.log != nil {
				r.log.Error("forked child setup failed", "target", name, "error", err)
			}
			os.Exit(1)
		}
	}

	if err := target(args); err != nil {
		if r.log != nil {
			r.log.Error("forked child target failed", "target", name, "error", err)
		}
		os.Exit(1)
	}
	os.Exit(0)
}

// Reap performs a single non-blocking reap pass over every pid this
// registry has forked, so one-shot tasks never accumulate as zombies. It
// only ever targets pids this registry itself started — worker processes
// reap themselves (see worker.go) — so there is no race over who calls
// wait4 on a given pid.
func (r *ForkRegistry) Reap() {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.pending[:0]
	for _, pid := range r.pending {
		var ws syscall.WaitStatus
		reaped, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		switch {
		case err == syscall.ECHILD:
			// Already reaped elsewhere; nothing left to wait for.
		case err != nil:
			remaining = append(remaining, pid)
		case reaped == pid:
			if r.log != nil {
				r.log.Debug("reaped forked child", "pid", pid)
			}
		default:
			remaining = append(remaining, pid)
		}
	}
	r.pending = remaining
}
