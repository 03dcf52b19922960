package sentinel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/logport"
)

// MetricsPlugin is a supplemental Plugin exposing the supervisor's own
// operational counters over Prometheus (spec.md has no metrics module;
// this demonstrates that Plugin Host is a general substrate rather than
// special-cased for the lock plugin — see SPEC_FULL.md's DOMAIN STACK).
type MetricsPlugin struct {
	Addr string

	sv  *Supervisor
	log logport.Logger

	registry *prometheus.Registry
	iterations prometheus.Counter
	overruns   prometheus.Counter
	restarts   prometheus.Counter
	forks      prometheus.Counter
	uptime     prometheus.GaugeFunc

	srv *http.Server
}

// NewMetricsPlugin returns a plugin that will serve Prometheus metrics for
// sv on addr once Setup runs.
func NewMetricsPlugin(sv *Supervisor, addr string, log logport.Logger) *MetricsPlugin {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &MetricsPlugin{
		Addr:     addr,
		sv:       sv,
		log:      log,
		registry: reg,
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_loop_iterations_total",
			Help: "Total number of run-loop iterations executed.",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_loop_overruns_total",
			Help: "Total number of run-loop iterations that exceeded loop_interval.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_restarts_total",
			Help: "Total number of self-restarts triggered.",
		}),
		forks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_forks_total",
			Help: "Total number of one-shot tasks forked.",
		}),
	}
	m.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentinel_uptime_seconds",
		Help: "Seconds since this process image started.",
	}, func() float64 { return sv.Runtime().Seconds() })

	reg.MustRegister(m.iterations, m.overruns, m.restarts, m.forks, m.uptime)
	return m
}

// IncIterations, IncOverruns, IncRestarts, IncForks are hooked up by the
// application's event listeners (e.g. on EventRun, EventRestart, EventFork)
// since the Supervisor itself does not know about this plugin.
func (m *MetricsPlugin) IncIterations() { m.iterations.Inc() }
func (m *MetricsPlugin) IncOverruns()   { m.overruns.Inc() }
func (m *MetricsPlugin) IncRestarts()   { m.restarts.Inc() }
func (m *MetricsPlugin) IncForks()      { m.forks.Inc() }

// CheckEnvironment verifies Addr parses as a listen address.
func (m *MetricsPlugin) CheckEnvironment() []string {
	if m.Addr == "" {
		return []string{"metrics listen address is empty"}
	}
	if _, _, err := net.SplitHostPort(m.Addr); err != nil {
		return []string{fmt.Sprintf("metrics listen address %q is invalid: %v", m.Addr, err)}
	}
	return nil
}

// Setup starts the promhttp server in the background.
func (m *MetricsPlugin) Setup() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	ln, err := net.Listen("tcp", m.Addr)
	if err != nil {
		return fmt.Errorf("sentinel: metrics listen %s: %w", m.Addr, err)
	}
	m.srv = &http.Server{Handler: mux}
	go func() {
		if err := m.srv.Serve(ln); err != nil && err != http.ErrServerClosed && m.log != nil {
			m.log.Error("metrics server stopped", "error", err)
		}
	}()
	if m.log != nil {
		m.log.Debug("metrics server listening", "addr", m.Addr)
	}
	return nil
}

// Teardown shuts the metrics server down with a short grace period.
func (m *MetricsPlugin) Teardown() error {
	if m.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.srv.Shutdown(ctx)
}
