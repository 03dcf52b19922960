package sentinel

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"pkt.systems/logport"
	"pkt.systems/logport/adapters/zerologger"
)

// defaultLogger is used whenever a Config leaves Logger nil, so sentinel
// never panics for lack of one. It mirrors the teacher's own fallback of
// writing straight to a stream when nothing more specific is wired.
func defaultLogger() logport.Logger {
	return zerologger.New(os.Stderr).With("component", "sentinel")
}

// LogFile is the append-only artifact spec.md §5 demands for the
// application's own log output — distinct from sentinel's structured
// operational logging (see the Logging section of SPEC_FULL.md). It writes a fixed
// "Date PID Message" header on first open and prefixes every subsequent
// write with "[YYYY-MM-DD HH:MM:SS] <pid right-padded> ".
//
// No library in the retrieval pack produces this exact fixed-column legacy
// format, so it is hand-rolled; see DESIGN.md.
type LogFile struct {
	path string
	pid  int

	mu           sync.Mutex
	f            *os.File
	headerWritten bool
	fallback     bool
	warnedOnce   bool
	warnLogger   logport.Logger
}

// NewLogFile returns a LogFile writer for path, tagging every line with pid.
func NewLogFile(path string, pid int, warnLogger logport.Logger) *LogFile {
	return &LogFile{path: path, pid: pid, warnLogger: warnLogger}
}

const logFileHeader = "Date PID Message\n"
const pidColumnWidth = 6

// Write implements io.Writer. Each call is treated as one logical line: the
// prefix is added once per Write, not per embedded newline.
func (lf *LogFile) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.fallback {
		return lf.writeFallback(p)
	}

	if lf.f == nil {
		f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			lf.enterFallback(err)
			return lf.writeFallback(p)
		}
		lf.f = f
	}
	if !lf.headerWritten {
		if _, err := io.WriteString(lf.f, logFileHeader); err != nil {
			lf.enterFallback(err)
			return lf.writeFallback(p)
		}
		lf.headerWritten = true
	}

	prefix := lf.linePrefix()
	if _, err := io.WriteString(lf.f, prefix); err != nil {
		lf.enterFallback(err)
		return lf.writeFallback(p)
	}
	n, err := lf.f.Write(p)
	if err != nil {
		lf.enterFallback(err)
		return lf.writeFallback(p)
	}
	return n, nil
}

func (lf *LogFile) linePrefix() string {
	ts := time.Now().Format("2006-01-02 15:04:05")
	pid := strconv.Itoa(lf.pid)
	for len(pid) < pidColumnWidth {
		pid += " "
	}
	return fmt.Sprintf("[%s] %s ", ts, pid)
}

// enterFallback switches future writes to stdout and logs the failure once,
// per spec.md §7's "I/O error on log file" handling.
func (lf *LogFile) enterFallback(err error) {
	lf.fallback = true
	if !lf.warnedOnce {
		lf.warnedOnce = true
		if lf.warnLogger != nil {
			lf.warnLogger.Error("log file write failed, falling back to stdout", "path", lf.path, "error", err)
		}
	}
}

func (lf *LogFile) writeFallback(p []byte) (int, error) {
	prefix := lf.linePrefix()
	_, _ = io.WriteString(os.Stdout, prefix)
	return os.Stdout.Write(p)
}

// Close releases the underlying file handle, if any was opened.
func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}
