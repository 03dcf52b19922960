package sentinel

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestMetricsPluginCheckEnvironment(t *testing.T) {
	m := NewMetricsPlugin(nil, "", nil)
	if problems := m.CheckEnvironment(); len(problems) == 0 {
		t.Fatal("expected a problem for an empty address")
	}

	m = NewMetricsPlugin(nil, "not-an-address", nil)
	if problems := m.CheckEnvironment(); len(problems) == 0 {
		t.Fatal("expected a problem for an unparseable address")
	}

	m = NewMetricsPlugin(nil, "127.0.0.1:0", nil)
	if problems := m.CheckEnvironment(); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}

func TestMetricsPluginSetupServesAndTeardownStops(t *testing.T) {
	sv := &Supervisor{ident: Identity{StartTime: time.Now()}}
	m := NewMetricsPlugin(sv, "127.0.0.1:0", nil)
	m.Addr = "127.0.0.1:19876"

	if err := m.Setup(); err != nil {
		t.Fatalf("unexpected error setting up metrics server: %v", err)
	}
	defer m.Teardown()

	m.IncIterations()
	m.IncForks()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(fmt.Sprintf("http://%s/metrics", m.Addr))
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("unexpected error fetching metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Fatal("expected a non-empty metrics response")
	}

	if err := m.Teardown(); err != nil {
		t.Fatalf("unexpected error tearing down metrics server: %v", err)
	}
}
