package sentinel

import (
	"errors"
	"testing"
	"time"
)

func TestErrorTaxonomyWraps(t *testing.T) {
	wrapped := errors.New("disk full")
	err := errorsJoinForTest(ErrConfiguration, wrapped)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatal("expected joined error to satisfy errors.Is against ErrConfiguration")
	}
}

func errorsJoinForTest(errs ...error) error {
	return errors.Join(errs...)
}

func TestFatalBelowRestartFloorExits(t *testing.T) {
	var exitCode int
	exited := make(chan struct{}, 1)
	s := &Supervisor{
		log:     defaultLogger(),
		ident:   NewIdentity("/bin/example"),
		exit:    func(code int) { exitCode = code; exited <- struct{}{} },
		Plugins: NewPluginHost(nil),
	}

	s.fatal("execute", errors.New("boom"))

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("expected fatal to exit when uptime is below the restart floor")
	}
	if exitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", exitCode)
	}
}
