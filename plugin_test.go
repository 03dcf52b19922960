package sentinel

import (
	"errors"
	"testing"
)

type fakePlugin struct {
	name       string
	problems   []string
	setupErr   error
	teardownErr error
	setupCount int
	teardownCount int
	teardownLog *[]string
}

func (p *fakePlugin) CheckEnvironment() []string { return p.problems }
func (p *fakePlugin) Setup() error               { p.setupCount++; return p.setupErr }
func (p *fakePlugin) Teardown() error {
	p.teardownCount++
	if p.teardownLog != nil {
		*p.teardownLog = append(*p.teardownLog, p.name)
	}
	return p.teardownErr
}

func TestPluginHostLoadDuplicateAlias(t *testing.T) {
	h := NewPluginHost(nil)
	if err := h.Load("x", &fakePlugin{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Load("x", &fakePlugin{}); err == nil {
		t.Fatal("expected error loading duplicate alias")
	}
}

func TestPluginHostLoadDerivesAliasFromType(t *testing.T) {
	h := NewPluginHost(nil)
	p := &fakePlugin{}
	if err := h.Load("", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.Get("*sentinel.fakePlugin"); !ok {
		t.Fatalf("expected derived alias, got aliases %v", h.Aliases())
	}
}

func TestPluginHostCheckEnvironmentAggregates(t *testing.T) {
	h := NewPluginHost(nil)
	h.Load("a", &fakePlugin{problems: []string{"bad"}})
	h.Load("b", &fakePlugin{problems: []string{"worse"}})

	problems := h.CheckEnvironment()
	if len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %v", problems)
	}
}

func TestPluginHostSetupAllStopsAtFirstFailure(t *testing.T) {
	h := NewPluginHost(nil)
	ok := &fakePlugin{}
	bad := &fakePlugin{setupErr: errors.New("boom")}
	never := &fakePlugin{}
	h.Load("ok", ok)
	h.Load("bad", bad)
	h.Load("never", never)

	if err := h.SetupAll(); err == nil {
		t.Fatal("expected SetupAll to fail")
	}
	if ok.setupCount != 1 || bad.setupCount != 1 || never.setupCount != 0 {
		t.Fatalf("unexpected setup counts: ok=%d bad=%d never=%d", ok.setupCount, bad.setupCount, never.setupCount)
	}
}

func TestPluginHostTeardownAllReverseOrderAndKeepsGoing(t *testing.T) {
	h := NewPluginHost(nil)
	var order []string
	first := &fakePlugin{name: "first", teardownLog: &order}
	second := &fakePlugin{name: "second", teardownErr: errors.New("boom"), teardownLog: &order}
	third := &fakePlugin{name: "third", teardownLog: &order}
	h.Load("first", first)
	h.Load("second", second)
	h.Load("third", third)

	// Each fakePlugin appends its name to order when its Teardown runs.
	h.TeardownAll()

	if first.teardownCount != 1 || second.teardownCount != 1 || third.teardownCount != 1 {
		t.Fatal("expected every plugin's Teardown to run despite a mid-chain failure")
	}
	if len(order) != 3 || order[0] != "third" || order[1] != "second" || order[2] != "first" {
		t.Fatalf("expected reverse teardown order, got %v", order)
	}
}

func TestPluginHostClearForChildEmptiesWithoutTeardown(t *testing.T) {
	h := NewPluginHost(nil)
	p := &fakePlugin{}
	h.Load("x", p)

	h.ClearForChild()

	if len(h.Aliases()) != 0 {
		t.Fatalf("expected empty registry, got %v", h.Aliases())
	}
	if p.teardownCount != 0 {
		t.Fatal("ClearForChild must never invoke Teardown")
	}
}
