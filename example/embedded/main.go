// Command embedded is a tiny persistent worker process for the example
// sentinel supervisor to launch via ExecWorker: it reads lines from stdin
// and logs each one until stdin closes.
package main

import (
	"bufio"
	"os"

	"pkt.systems/logport/adapters/psl"
)

func main() {
	l := psl.New(os.Stdout).With("app", "embedded-worker")
	l.Info("worker ready")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		l.Info("received call", "line", scanner.Text())
	}
	l.Info("stdin closed, exiting")
}
