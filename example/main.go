// Command example wires up a minimal sentinel supervisor: a fork target
// for a one-shot task, a persistent named worker, a file lock, and the
// Prometheus metrics plugin, then runs the loop until a shutdown signal
// arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/logport/adapters/zerologger"
	"pkt.systems/sentinel"
)

type app struct {
	log interface {
		Info(msg string, kv ...any)
	}
}

func (a *app) Setup() error { return nil }

func (a *app) Execute(ctx context.Context) error {
	a.log.Info("tick")
	return nil
}

func main() {
	filename, err := filepath.Abs(os.Args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := zerologger.New(os.Stdout).With("app", "example")

	sv, err := sentinel.New(sentinel.Config{
		Filename:            filename,
		LoopInterval:        2 * time.Second,
		AutoRestartInterval: 24 * time.Hour,
		Logger:              log,
		Lock:                sentinel.NewFileLockPlugin(os.TempDir()+"/sentinel-example.lock", log),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	loadPlugins := func(s *sentinel.Supervisor) error {
		s.Forks.Register("greet", func(args []string) error {
			name := "world"
			if len(args) > 0 {
				name = args[0]
			}
			fmt.Printf("hello, %s\n", name)
			return nil
		})
		s.Forks.DispatchIfChild()

		metrics := sentinel.NewMetricsPlugin(s, "127.0.0.1:9139", log)
		if err := s.Plugins.Load("metrics", metrics); err != nil {
			return err
		}
		s.Events.On(sentinel.EventRun, func(args ...any) { metrics.IncIterations() })
		s.Events.On(sentinel.EventOverrun, func(args ...any) { metrics.IncOverruns() })
		s.Events.On(sentinel.EventRestart, func(args ...any) { metrics.IncRestarts() })
		s.Events.On(sentinel.EventFork, func(args ...any) { metrics.IncForks() })

		worker := sentinel.NewExecWorker("embedded", filename+"-embedded", nil, log)
		if err := s.Workers.Register(worker); err != nil {
			return err
		}
		return s.Workers.StartAll()
	}

	a := &app{log: log}
	if err := sv.Run(loadPlugins, a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
