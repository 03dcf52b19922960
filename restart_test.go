package sentinel

import (
	"testing"
	"time"
)

func TestRestartControllerCommandDefault(t *testing.T) {
	ident := &Identity{Filename: "/usr/local/bin/sentineld", PidFile: "/var/run/sentineld.pid"}
	c := NewRestartController(nil, nil, ident, func() bool { return true }, nil, true, func(int) {})

	got := c.Command()
	want := []string{"/usr/local/bin/sentineld", "-d", "-p", "/var/run/sentineld.pid"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRestartControllerCommandWithoutPidFile(t *testing.T) {
	ident := &Identity{Filename: "/usr/local/bin/sentineld"}
	c := NewRestartController(nil, nil, ident, func() bool { return true }, nil, true, func(int) {})

	got := c.Command()
	want := []string{"/usr/local/bin/sentineld", "-d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRestartControllerCommandOverride(t *testing.T) {
	ident := &Identity{Filename: "/usr/local/bin/sentineld"}
	c := NewRestartController(nil, nil, ident, func() bool { return true }, nil, true, func(int) {})
	c.SetOverrideOptions([]string{"--from-override"})

	got := c.Command()
	want := []string{"/usr/local/bin/sentineld", "--from-override"}
	if len(got) != len(want) || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRestartControllerTriggerNoopWhenNotParent(t *testing.T) {
	ident := &Identity{Filename: "/usr/local/bin/sentineld"}
	var exited bool
	c := NewRestartController(nil, nil, ident, func() bool { return false }, nil, true, func(int) { exited = true })

	if err := c.Trigger(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exited {
		t.Fatal("Trigger must not exit when this process is not the parent branch")
	}
}

func TestShouldAutoRestart(t *testing.T) {
	cases := []struct {
		name    string
		daemon  bool
		interval time.Duration
		uptime  time.Duration
		want    bool
	}{
		{"not daemon", false, time.Hour, 2 * time.Hour, false},
		{"interval below floor", true, 5 * time.Second, time.Hour, false},
		{"uptime below interval", true, MinRestartDuration, 5 * time.Second, false},
		{"uptime reached interval", true, MinRestartDuration, MinRestartDuration, true},
		{"uptime past interval", true, MinRestartDuration, 2 * MinRestartDuration, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldAutoRestart(tc.daemon, tc.interval, tc.uptime)
			if got != tc.want {
				t.Fatalf("ShouldAutoRestart(%v, %s, %s) = %v, want %v", tc.daemon, tc.interval, tc.uptime, got, tc.want)
			}
		})
	}
}
