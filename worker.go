package sentinel

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"pkt.systems/logport"
)

// Worker is the persistent, named child process contract spec.md §4.7
// declares an external collaborator: the Supervisor only needs to know a
// worker's Name, that it can be Started/Stopped, and that it can Invoke one
// call at a time. The IPC mechanism, queueing (out of scope, spec.md §1
// Non-goals), and restart-on-exit policy live in the concrete
// implementation.
type Worker interface {
	Name() string
	Start() error
	Stop() error
	Invoke(ctx context.Context, args []string) ([]byte, error)
}

// WorkerManager tracks named workers and routes calls to them. Per spec.md
// §9's redesign note, attribute/method interception is replaced with
// explicit Worker()/Invoke() methods — the implicit "obj.Foo(args)" sugar
// the source offered is convenience, not a semantic requirement.
type WorkerManager struct {
	log logport.Logger

	mu      sync.Mutex
	workers map[string]Worker
	order   []string
}

// NewWorkerManager returns an empty manager.
func NewWorkerManager(log logport.Logger) *WorkerManager {
	return &WorkerManager{log: log, workers: make(map[string]Worker)}
}

// Register binds a new worker under its own Name(). Names must be unique.
func (m *WorkerManager) Register(w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workers[w.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, w.Name())
	}
	m.workers[w.Name()] = w
	m.order = append(m.order, w.Name())
	return nil
}

// Worker returns the worker registered under name.
func (m *WorkerManager) Worker(name string) (Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	return w, nil
}

// Invoke is a convenience for Worker(name) followed by Invoke.
func (m *WorkerManager) Invoke(ctx context.Context, name string, args []string) ([]byte, error) {
	w, err := m.Worker(name)
	if err != nil {
		return nil, err
	}
	return w.Invoke(ctx, args)
}

// Names returns registered worker names in registration order, for
// diagnostics (e.g. the SIGUSR1 runtime dump's "named workers" line).
func (m *WorkerManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// StartAll starts every registered worker in registration order.
func (m *WorkerManager) StartAll() error {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()
	for _, name := range order {
		w, _ := m.Worker(name)
		if err := w.Start(); err != nil {
			return fmt.Errorf("sentinel: start worker %s: %w", name, err)
		}
	}
	return nil
}

// StopAll stops every registered worker, logging (but not stopping on) any
// individual failure.
func (m *WorkerManager) StopAll() {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()
	for _, name := range order {
		w, _ := m.Worker(name)
		if err := w.Stop(); err != nil && m.log != nil {
			m.log.Error("worker stop failed", "worker", name, "error", err)
		}
	}
}

// ExecWorker is the reference Worker implementation: a persistent external
// process invoked via its standard streams, restarted on unexpected exit
// with exponential backoff up to MaxRestarts, and bounded per call by
// Timeout. Modeled on the restart-with-backoff policy of this pack's
// process-level supervisors (see DESIGN.md).
type ExecWorker struct {
	name    string
	command string
	args    []string

	MaxRestarts   int
	RestartDelay  time.Duration
	BackoffFactor float64
	Timeout       time.Duration

	log logport.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	pid      int
	restarts int
	stopping bool
	started  time.Time

	callMu sync.Mutex
}

// NewExecWorker returns a worker that runs command with args. It starts with
// a default policy (up to 5 restarts, 1s initial delay doubling each time,
// 10s per-Invoke timeout); callers adjust it through the exported fields.
func NewExecWorker(name, command string, args []string, log logport.Logger) *ExecWorker {
	return &ExecWorker{
		name:          name,
		command:       command,
		args:          args,
		MaxRestarts:   5,
		RestartDelay:  time.Second,
		BackoffFactor: 2.0,
		Timeout:       10 * time.Second,
		log:           log,
	}
}

// Name implements Worker.
func (w *ExecWorker) Name() string { return w.name }

// Start launches the worker process in its own process group (so Invoke's
// timeout enforcement can signal the whole group) and begins monitoring it
// for unexpected exit.
func (w *ExecWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked()
}

func (w *ExecWorker) startLocked() error {
	cmd := exec.Command(w.command, w.args...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("sentinel: worker %s stdin: %w", w.name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sentinel: start worker %s: %w", w.name, err)
	}
	w.cmd = cmd
	w.stdin = stdin
	w.pid = cmd.Process.Pid
	w.started = time.Now()
	if w.log != nil {
		w.log.Debug("worker started", "worker", w.name, "pid", w.pid)
	}
	go w.monitor(cmd)
	return nil
}

// monitor blocks on this worker's own process, independent of the fork
// registry's reaping — each worker owns exactly one pid, so there is no
// contention over who calls wait4 on it.
func (w *ExecWorker) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()

	w.mu.Lock()
	stopping := w.stopping
	uptime := time.Since(w.started)
	w.mu.Unlock()

	if stopping {
		return
	}
	if w.log != nil {
		w.log.Error("worker exited unexpectedly", "worker", w.name, "uptime", uptime, "error", err)
	}
	w.restartAfterExit()
}

func (w *ExecWorker) restartAfterExit() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopping {
		return
	}
	if w.restarts >= w.MaxRestarts {
		if w.log != nil {
			w.log.Error("worker exhausted restart budget", "worker", w.name, "restarts", w.restarts)
		}
		return
	}
	w.restarts++
	delay := time.Duration(float64(w.RestartDelay) * math.Pow(w.BackoffFactor, float64(w.restarts-1)))
	if w.log != nil {
		w.log.Warn("restarting worker", "worker", w.name, "attempt", w.restarts, "delay", delay)
	}
	time.AfterFunc(delay, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopping {
			return
		}
		if err := w.startLocked(); err != nil && w.log != nil {
			w.log.Error("worker restart failed", "worker", w.name, "error", err)
		}
	})
}

// Stop signals the worker's process group to terminate and marks it as
// deliberately stopped, so monitor does not treat the exit as a crash.
func (w *ExecWorker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	pid := w.pid
	w.mu.Unlock()
	if pid == 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// Invoke writes args to the worker's stdin as one call and waits up to
// Timeout for the write to land, one call at a time — callMu serializes
// concurrent callers rather than queuing them, since in-memory queuing is
// explicitly out of scope (spec.md §1 Non-goals, §4.7). If the call does
// not finish within Timeout, the worker's process group receives SIGTERM so
// the next Invoke runs against a fresh process once monitor restarts it.
// The actual request/response framing is the external collaborator spec.md
// §1 and §4.7 name — this reference worker demonstrates the invocation
// envelope (serialization, timeout, process-group signaling), not a wire
// protocol.
func (w *ExecWorker) Invoke(ctx context.Context, args []string) ([]byte, error) {
	w.callMu.Lock()
	defer w.callMu.Unlock()

	w.mu.Lock()
	stdin := w.stdin
	pid := w.pid
	w.mu.Unlock()
	if stdin == nil {
		return nil, fmt.Errorf("sentinel: worker %s not started", w.name)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		for _, a := range args {
			if _, err := fmt.Fprintln(stdin, a); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("sentinel: worker %s call failed: %w", w.name, err)
		}
		return []byte("ok"), nil
	case <-callCtx.Done():
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		return nil, fmt.Errorf("sentinel: worker %s call timed out after %s", w.name, w.Timeout)
	}
}
