// Command sentineld is the thin CLI surface spec.md §6 demands: flag
// parsing, install-instruction printing, and init-script generation are
// explicitly out of scope as design concerns (spec.md §1), but a runnable
// binary still needs them, so they live here rather than in the library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/logport"
	"pkt.systems/logport/adapters/zerologger"
	"pkt.systems/sentinel"
	sentinelconfig "pkt.systems/sentinel/config"
)

const className = "sentineld"
const detachedEnv = "SENTINELD_DETACHED"

var (
	flagDaemon   bool
	flagVerbose  bool
	flagPidFile  string
	flagConfig   string
	flagShowHelp bool
)

func main() {
	root := &cobra.Command{
		Use:           className,
		Short:         "sentinel -- supervised-process framework daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	root.Flags().BoolVarP(&flagShowHelp, "show-help", "H", false, "print help and exit")
	root.Flags().BoolVarP(&flagDaemon, "daemon", "d", false, "detach and run as a daemon")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "recorded in the supervisor config; log lines go to stdout with or without it")
	root.Flags().StringVarP(&flagPidFile, "pid-file", "p", "", "write current pid to this path")
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a TOML config file")

	root.AddCommand(installInstructionsCommand())
	root.AddCommand(initScriptCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if flagShowHelp {
		return cmd.Help()
	}

	filename, err := filepath.Abs(os.Args[0])
	if err != nil {
		return fmt.Errorf("resolve own path: %w", err)
	}

	if flagDaemon && os.Getenv(detachedEnv) != "1" {
		return detach(filename, os.Args[1:])
	}

	cfg := sentinel.Config{
		Filename:            filename,
		LoopInterval:        time.Second,
		AutoRestartInterval: 24 * time.Hour,
		DaemonMode:          flagDaemon,
		Verbose:             flagVerbose,
		PidFile:             flagPidFile,
		Logger:              zerologger.New(os.Stdout).With("app", className),
	}

	var declaredWorkers []sentinelconfig.WorkerSpec
	if flagConfig != "" {
		resolved, warnings, err := sentinelconfig.Load(flagConfig)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintln(os.Stderr, "sentineld: "+w)
		}
		cfg.LoopInterval = resolved.LoopInterval
		cfg.AutoRestartInterval = resolved.AutoRestartInterval
		cfg.DaemonMode = flagDaemon || resolved.DaemonMode
		if flagPidFile == "" && resolved.PidFile != "" {
			cfg.PidFile = resolved.PidFile
		}
		if resolved.LockFile != "" {
			cfg.Lock = sentinel.NewFileLockPlugin(resolved.LockFile, cfg.Logger)
		}
		declaredWorkers = resolved.Workers
	}

	sv, err := sentinel.New(cfg)
	if err != nil {
		return err
	}

	if flagDaemon {
		sv.Events.Dispatch(sentinel.EventNewPID, sv.Pid())
	}

	app := &demoApplication{sv: sv}
	loadPlugins := func(s *sentinel.Supervisor) error {
		for _, spec := range declaredWorkers {
			w, err := workerFromSpec(spec, cfg.Logger)
			if err != nil {
				return err
			}
			if err := s.Workers.Register(w); err != nil {
				return err
			}
		}
		return s.Workers.StartAll()
	}
	return sv.Run(loadPlugins, app)
}

// workerFromSpec turns a declaratively configured worker into an ExecWorker
// (not yet started), parsing its duration fields the same way the config package
// parses the supervisor's own loop_interval.
func workerFromSpec(spec sentinelconfig.WorkerSpec, log logport.Logger) (*sentinel.ExecWorker, error) {
	w := sentinel.NewExecWorker(spec.Name, spec.Command, spec.Args, log)
	if spec.MaxRestarts > 0 {
		w.MaxRestarts = spec.MaxRestarts
	}
	if spec.BackoffFactor > 0 {
		w.BackoffFactor = spec.BackoffFactor
	}
	if spec.RestartDelay != "" {
		d, err := time.ParseDuration(spec.RestartDelay)
		if err != nil {
			return nil, fmt.Errorf("worker %s: restart_delay: %w", spec.Name, err)
		}
		w.RestartDelay = d
	}
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("worker %s: timeout: %w", spec.Name, err)
		}
		w.Timeout = d
	}
	return w, nil
}

// detach re-execs this binary with the same arguments plus a marker env
// var, then exits the parent immediately; the child carries on as the
// daemon (spec.md §6's -d flag). This is the CLI's own one-time fork,
// distinct from the library's Fork primitive used for application tasks
// and from the Restart Controller's self-replacement.
func detach(filename string, args []string) error {
	child := exec.Command(filename, args...)
	child.Env = append(os.Environ(), detachedEnv+"=1")
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	defer devNull.Close()
	child.Stdin, child.Stdout, child.Stderr = devNull, devNull, devNull
	if err := child.Start(); err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	os.Exit(0)
	return nil
}

// demoApplication is a placeholder Application so sentineld is runnable
// out of the box; real deployments supply their own.
type demoApplication struct {
	sv *sentinel.Supervisor
}

func (a *demoApplication) Setup() error { return nil }

func (a *demoApplication) Execute(ctx context.Context) error {
	return nil
}
