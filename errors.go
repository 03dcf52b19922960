package sentinel

import "errors"

// Error taxonomy (spec.md §7). These are sentinel values, not types, so
// callers compare with errors.Is; wrapped instances carry the offending
// detail via fmt.Errorf("...: %w", ...).
var (
	// ErrAlreadyConstructed is returned by New when a supervisor already
	// exists in this process. Only one may exist at a time.
	ErrAlreadyConstructed = errors.New("sentinel: supervisor already constructed in this process")

	// ErrConfiguration marks a failure surfaced by the environment check:
	// missing filename, bad loop interval, auto-restart interval below
	// MinRestartSeconds, or forking unavailable on this host.
	ErrConfiguration = errors.New("sentinel: configuration error")

	// ErrPlugin marks a plugin environment-check or setup failure.
	ErrPlugin = errors.New("sentinel: plugin error")

	// ErrFork marks a failed process split.
	ErrFork = errors.New("sentinel: fork failed")

	// ErrLockHeld is returned when the lock plugin reports another live
	// holder and INIT cannot complete.
	ErrLockHeld = errors.New("sentinel: lock held by another instance")

	// ErrTimerNotStarted is the panic value for calling StopAndSleep
	// without a prior Start; it is a programming error, not a runtime
	// condition, so it is never wrapped or returned.
	ErrTimerNotStarted = errors.New("sentinel: clock stopped without being started")

	// ErrUnknownWorker is returned by Invoke/Worker for an unregistered name.
	ErrUnknownWorker = errors.New("sentinel: unknown worker")

	// ErrDuplicateWorker is returned when registering a worker name twice.
	ErrDuplicateWorker = errors.New("sentinel: duplicate worker name")

	// ErrReservedEvent is returned when a caller tries to register a
	// user-defined listener under a built-in event key (< 100).
	ErrReservedEvent = errors.New("sentinel: event key is reserved for built-ins")
)

// fatal converts an error escaping a lifecycle boundary (init, execute) into
// the fatal-error path described in spec.md §4.10: log it, log a shutdown
// notice, then attempt a restart if uptime has reached MinRestartDuration,
// or exit(1) otherwise.
func (s *Supervisor) fatal(stage string, err error) {
	s.log.Error("fatal error", "stage", stage, "error", err)
	s.log.Error("shutting down after fatal error", "stage", stage)
	if s.Runtime() >= MinRestartDuration {
		s.restart.onFatal()
		return
	}
	s.exit(1)
}
