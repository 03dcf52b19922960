package sentinel

import (
	"time"

	"pkt.systems/logport"
)

// overrunSleep is the CPU-yield floor used whenever an iteration has
// already overrun its budget, or the loop interval is zero — it keeps a
// saturated loop from pinning a core. See spec.md §4.1.
const overrunSleep = 2 * time.Millisecond

// warnBand is the fraction of loop_interval above which stop_and_sleep logs
// a pressure warning instead of an overrun error.
const warnBand = 0.9

// Clock paces the run loop to exactly Interval seconds per iteration,
// reporting overruns and warning as the budget is approached. It is not
// safe for concurrent use; the run loop is single-threaded by design
// (spec.md §5).
type Clock struct {
	Interval time.Duration
	log      logport.Logger

	started  bool
	ref      time.Time
}

// NewClock returns a Clock paced to interval, logging through log.
func NewClock(interval time.Duration, log logport.Logger) *Clock {
	return &Clock{Interval: interval, log: log}
}

// Start records the monotonic reference instant for this iteration.
func (c *Clock) Start() {
	c.ref = time.Now()
	c.started = true
}

// StopAndSleep computes elapsed time since Start and sleeps, warns, or logs
// an overrun accordingly. It reports whether this iteration overran its
// budget, so the run loop can dispatch EventOverrun. Calling it without a
// prior Start is a programmer error and panics, matching spec.md §4.1's
// "fatal" requirement.
func (c *Clock) StopAndSleep() bool {
	if !c.started {
		panic(ErrTimerNotStarted)
	}
	c.started = false

	elapsed := time.Since(c.ref)
	switch {
	case elapsed > c.Interval:
		if c.Interval > 0 && c.log != nil {
			c.log.Error("loop iteration overran its budget", "elapsed", elapsed, "interval", c.Interval)
		}
		time.Sleep(overrunSleep)
		return true
	case c.Interval > 0 && float64(elapsed) > warnBand*float64(c.Interval):
		if c.log != nil {
			c.log.Warn("loop iteration approaching its budget", "elapsed", elapsed, "interval", c.Interval)
		}
		time.Sleep(c.Interval - elapsed)
	default:
		time.Sleep(c.Interval - elapsed)
	}
	return false
}
