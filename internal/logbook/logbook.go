// Package logbook keeps journey.log, the plain-text record of remote calls and
// shell events that the TUI shows under the module list. Structured logs go
// through internal/logging instead.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the severity column of a journey line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook appends one line per event to a text file.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// New prepares a logbook at path, creating its directory.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	return &Logbook{path: path, clock: time.Now}, nil
}

// Path returns the backing file.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Note records a shell event. Whitespace, including newlines, is collapsed so
// every event is exactly one line.
func (l *Logbook) Note(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	l.write(level, strings.Join(strings.Fields(fmt.Sprintf(format, args...)), " "))
}

// Call records the outcome of one remote call. A local failure is ERROR, a
// non-2xx answer WARN, anything else INFO.
func (l *Logbook) Call(op string, status int, err error) {
	switch {
	case err != nil:
		l.Note(LevelError, "%s failed: %v", op, err)
	case status < 200 || status >= 300:
		l.Note(LevelWarn, "%s answered %d", op, status)
	default:
		l.Note(LevelInfo, "%s ok (%d)", op, status)
	}
}

func (l *Logbook) write(level Level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	stamp := l.clock().UTC().Format(time.RFC3339)
	fmt.Fprintf(f, "%s %-5s %s\n", stamp, level, message)
}

// Tail returns the newest maxLines lines, oldest first, together with the
// number of lines in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	ring := make([]string, maxLines)
	total := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ring[total%maxLines] = scanner.Text()
		total++
	}
	if total == 0 {
		return nil, 0
	}
	if total <= maxLines {
		return ring[:total], total
	}
	start := total % maxLines
	return append(ring[start:], ring[:start]...), total
}
