// Package agentlog provides the agent's injected logging sink.
//
// The original desktop agent logged to a singleton GUI log pane; that
// cross-cutting global is replaced here by an explicit *Logger value that
// every long-lived component takes at construction, so tests can assert on
// emitted records instead of scraping a process-wide sink.
package agentlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level mirrors the severity buckets the original log pane used.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Record is one emitted log line, retained for tests that want to assert
// on what a component logged without parsing text.
type Record struct {
	Component string
	Level     Level
	Message   string
}

// Logger is a small injectable sink. The zero value writes to stderr via
// the standard log package, matching the teacher's plain *log.Logger
// convention; a secondary file destination can be attached with SetFile,
// mirroring the teacher's dedicated relay.log alongside the main log.
type Logger struct {
	mu       sync.Mutex
	dest     *log.Logger
	file     *os.File
	records  []Record
	capture  bool
	component string
}

// New creates a Logger that writes to w (or os.Stderr if w is nil),
// tagging every line with component.
func New(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		dest:      log.New(w, "", log.LstdFlags),
		component: component,
	}
}

// WithComponent returns a shallow copy tagged with a different component
// name but sharing the same destination — used so each subsystem's log
// lines are attributable without each owning its own file handle.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{dest: l.dest, file: l.file, component: component, capture: l.capture}
}

// SetFile attaches an additional file destination, created/appended at
// path. Safe to call once at startup; grounded on the teacher's
// InitRelayLog pattern (dual destination: stderr + dedicated file).
func (l *Logger) SetFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("agentlog: open %s: %w", path, err)
	}
	l.mu.Lock()
	l.file = f
	l.mu.Unlock()
	return nil
}

// EnableCapture makes the logger retain every Record in memory, for tests
// that want to assert on what was logged.
func (l *Logger) EnableCapture() {
	l.mu.Lock()
	l.capture = true
	l.mu.Unlock()
}

// Records returns a copy of captured records (empty unless EnableCapture
// was called).
func (l *Logger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s: %s", l.component, level, msg)

	l.mu.Lock()
	if l.dest != nil {
		l.dest.Print(line)
	} else {
		log.Print(line)
	}
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
	if l.capture {
		l.records = append(l.records, Record{Component: l.component, Level: level, Message: msg})
	}
	l.mu.Unlock()
}

func (l *Logger) Debugf(format string, args ...interface{})   { l.emit(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})    { l.emit(Info, format, args...) }
func (l *Logger) Warningf(format string, args ...interface{}) { l.emit(Warning, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})   { l.emit(Error, format, args...) }
