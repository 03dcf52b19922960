package sentinel

import (
	"fmt"

	"pkt.systems/logport"
)

// Plugin is the common lifecycle contract every pluggable component
// declares (spec.md §4.4, §6). CheckEnvironment returns a list of problems
// (empty means healthy); Setup runs once before INIT; Teardown runs once,
// in reverse registration order, on normal supervisor destruction.
type Plugin interface {
	CheckEnvironment() []string
	Setup() error
	Teardown() error
}

// pluginEntry is one registration: the plugin instance plus the alias it is
// bound under.
type pluginEntry struct {
	alias  string
	plugin Plugin
}

// PluginHost loads, initializes, and tears down plugins in registration
// order (reverse for teardown), aggregating environment-check failures into
// a single report. The Supervisor holds one as its Plugins field, and the
// fork registry shares it, since its registry is part of process-fork ownership
// semantics (spec.md §4.6): a forked child clears the registry without
// running teardown, so the child can never release the parent's resources.
type PluginHost struct {
	log logport.Logger

	entries []pluginEntry
	byAlias map[string]Plugin
}

// NewPluginHost returns an empty host.
func NewPluginHost(log logport.Logger) *PluginHost {
	return &PluginHost{log: log, byAlias: make(map[string]Plugin)}
}

// Load binds plugin to the host under alias (or, if alias is empty, under a
// name derived from its Go type), appending it to the registry in load
// order. Plugins are constructed by the caller — the host only tracks and
// drives them, since sentinel has no runtime reflection-based class loader
// to generalize (spec.md §9, "Dynamic attribute dispatch" note: prefer
// explicit methods over magic).
func (h *PluginHost) Load(alias string, plugin Plugin) error {
	if alias == "" {
		alias = fmt.Sprintf("%T", plugin)
	}
	if _, exists := h.byAlias[alias]; exists {
		return fmt.Errorf("%w: plugin alias %q already loaded", ErrPlugin, alias)
	}
	h.byAlias[alias] = plugin
	h.entries = append(h.entries, pluginEntry{alias: alias, plugin: plugin})
	return nil
}

// Get returns the plugin bound to alias, if any.
func (h *PluginHost) Get(alias string) (Plugin, bool) {
	p, ok := h.byAlias[alias]
	return p, ok
}

// CheckEnvironment aggregates every plugin's own CheckEnvironment() output.
func (h *PluginHost) CheckEnvironment() []string {
	var problems []string
	for _, e := range h.entries {
		for _, p := range e.plugin.CheckEnvironment() {
			problems = append(problems, fmt.Sprintf("%s: %s", e.alias, p))
		}
	}
	return problems
}

// SetupAll runs every plugin's Setup in registration order, stopping at the
// first failure (fatal during init, per spec.md §7).
func (h *PluginHost) SetupAll() error {
	for _, e := range h.entries {
		if err := e.plugin.Setup(); err != nil {
			return fmt.Errorf("%w: %s setup: %v", ErrPlugin, e.alias, err)
		}
		if h.log != nil {
			h.log.Debug("plugin set up", "plugin", e.alias)
		}
	}
	return nil
}

// TeardownAll runs every plugin's Teardown in reverse registration order.
// Failures are logged at ERROR but do not stop the remaining teardowns —
// teardown happens during destruction, when there is no init to abort.
func (h *PluginHost) TeardownAll() {
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if err := e.plugin.Teardown(); err != nil && h.log != nil {
			h.log.Error("plugin teardown failed", "plugin", e.alias, "error", err)
		}
	}
}

// ClearForChild empties the registry without running any teardown. It is
// called in the child branch immediately after a fork, so destruction of
// the child process never releases locks or resources owned by the parent
// (spec.md §4.4, §4.6).
func (h *PluginHost) ClearForChild() {
	h.entries = nil
	h.byAlias = make(map[string]Plugin)
}

// Aliases returns the plugin aliases in load order, for diagnostics (e.g.
// the SIGUSR1 runtime dump's "loaded plugins" line).
func (h *PluginHost) Aliases() []string {
	names := make([]string, len(h.entries))
	for i, e := range h.entries {
		names[i] = e.alias
	}
	return names
}
