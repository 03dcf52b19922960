package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const initScriptPath = "/etc/init.d/" + className

// installInstructionsCommand answers spec.md §6's -i flag: print the
// manual install steps and exit 0 without touching the filesystem.
func installInstructionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install-instructions",
		Short: "print manual installation instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filename, err := filepath.Abs(os.Args[0])
			if err != nil {
				filename = os.Args[0]
			}
			fmt.Fprintf(cmd.OutOrStdout(), installInstructionsTemplate, filename, initScriptPath, className)
			return nil
		},
	}
}

// initScriptCommand answers spec.md §6's -I flag: write a System V style
// init script to /etc/init.d/<class-name> with mode 0755. Failing to write
// it (e.g. not running as root) prints the same instructions -i would and
// returns a non-nil error rather than exiting the process directly, so
// cobra's normal error path reports it.
func initScriptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "write-init-script",
		Short: "write a System V init script and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			filename, err := filepath.Abs(os.Args[0])
			if err != nil {
				return err
			}
			script := fmt.Sprintf(initScriptTemplate, className, filename, className, className)
			if err := os.WriteFile(initScriptPath, []byte(script), 0755); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), installInstructionsTemplate, filename, initScriptPath, className)
				return fmt.Errorf("write %s: %w", initScriptPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", initScriptPath)
			return nil
		},
	}
}

const installInstructionsTemplate = `To run %[1]s as a system service, install it manually:

  cp %[1]s /usr/local/bin/%[3]s
  %[1]s write-init-script   # or create %[2]s yourself
  chmod 755 %[2]s
  update-rc.d %[3]s defaults   # Debian/Ubuntu
  chkconfig --add %[3]s        # RHEL/CentOS

Once installed:

  service %[3]s start
  service %[3]s stop
  service %[3]s restart
  service %[3]s status
`

const initScriptTemplate = `#!/bin/sh
### BEGIN INIT INFO
# Provides:          %[1]s
# Required-Start:    $network $local_fs
# Required-Stop:     $network $local_fs
# Default-Start:     2 3 4 5
# Default-Stop:      0 1 6
# Short-Description: %[1]s supervised process
### END INIT INFO

FILENAME=%[2]s
PIDFILE=/var/run/%[3]s.pid

start() {
	"$FILENAME" -d -p "$PIDFILE"
}

stop() {
	if [ -f "$PIDFILE" ]; then
		kill "$(cat "$PIDFILE")"
	fi
}

status() {
	if [ -f "$PIDFILE" ] && kill -0 "$(cat "$PIDFILE")" 2>/dev/null; then
		echo "%[4]s is running"
		exit 0
	fi
	echo "%[4]s is not running"
	exit 1
}

case "$1" in
	start) start ;;
	stop) stop ;;
	restart) stop; start ;;
	status) status ;;
	*) echo "usage: $0 {start|stop|restart|status}"; exit 1 ;;
esac
`
