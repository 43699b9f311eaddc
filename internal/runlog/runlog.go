// Package runlog appends human-readable activity lines to the per-data-
// source log files the engine keeps alongside its database records:
// log/<data_source>_<yyyy-MM-dd>.txt for normal activity and
// error/log/<data_source>_<yyyy-MM-dd>.txt for quarantine events.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lineTimeLayout = "2006:01:02 15:04:05"

// Appender writes timestamped lines to one log file, creating its parent
// directory on first use. Safe for concurrent use.
type Appender struct {
	mu   sync.Mutex
	path string
}

// New returns an Appender targeting dir/<dataSource>_<yyyy-MM-dd>.txt for
// the given moment. Callers pass time.Now() in production and a fixed
// value in tests.
func New(dir, dataSource string, at time.Time) *Appender {
	name := fmt.Sprintf("%s_%s.txt", dataSource, at.Format("2006-01-02"))
	return &Appender{path: filepath.Join(dir, name)}
}

// Path returns the file this appender writes to.
func (a *Appender) Path() string {
	return a.path
}

// Write appends one "<yyyy:MM:dd HH:mm:ss>: <message>" line.
func (a *Appender) Write(at time.Time, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("runlog: failed to create %s: %w", filepath.Dir(a.path), err)
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("runlog: failed to open %s: %w", a.path, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s: %s\n", at.Format(lineTimeLayout), message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("runlog: failed to write to %s: %w", a.path, err)
	}
	return nil
}
