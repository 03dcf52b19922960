package sentinel

import (
	"testing"
	"time"
)

func TestClockStopAndSleepWithoutStartPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling StopAndSleep before Start")
		}
	}()
	c := NewClock(10*time.Millisecond, nil)
	c.StopAndSleep()
}

func TestClockSleepsRemainderOfInterval(t *testing.T) {
	c := NewClock(30*time.Millisecond, nil)
	c.Start()
	start := time.Now()
	c.StopAndSleep()
	elapsed := time.Since(start)
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected iteration to take roughly the full interval, took %s", elapsed)
	}
}

func TestClockOverrunDoesNotBlockForFullInterval(t *testing.T) {
	c := NewClock(5*time.Millisecond, nil)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	c.StopAndSleep()
	elapsed := time.Since(start)
	if elapsed > 50*time.Millisecond {
		t.Fatalf("expected only the short overrun floor sleep, took %s", elapsed)
	}
}

func TestClockZeroIntervalStillYields(t *testing.T) {
	c := NewClock(0, nil)
	c.Start()
	start := time.Now()
	c.StopAndSleep()
	if time.Since(start) <= 0 {
		t.Fatal("expected a non-zero yield even with a zero interval")
	}
}

func TestClockCanBeReusedAcrossIterations(t *testing.T) {
	c := NewClock(5*time.Millisecond, nil)
	for i := 0; i < 3; i++ {
		c.Start()
		c.StopAndSleep()
	}
}
