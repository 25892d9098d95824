package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Logger handles leveled logging to the console with optional file output.
// Console output is muted while a progress bar owns the terminal, unless
// verbose mode is on.
type Logger struct {
	Verbose bool
	console *log.Logger
	stderr  *log.Logger
	mu      sync.Mutex
	file    *log.Logger
	fileLog *os.File
	hasBar  bool
}

// New creates a new Logger writing to stdout and stderr.
func New(verbose bool) *Logger {
	return NewWithWriter(os.Stdout, os.Stderr, verbose)
}

// NewWithWriter creates a Logger with explicit console writers.
func NewWithWriter(out, errOut io.Writer, verbose bool) *Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return &Logger{
		Verbose: verbose,
		console: newBackend(out, level),
		stderr:  newBackend(errOut, log.ErrorLevel),
	}
}

// Discard returns a Logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, io.Discard, false)
}

func newBackend(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:  level,
		Prefix: "tagify",
	})
}

// SetFileLog enables logging to a file. The file receives every level.
func (l *Logger) SetFileLog(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.fileLog = f
	l.file = log.NewWithOptions(f, log.Options{
		Level:           log.DebugLevel,
		Prefix:          "tagify",
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Formatter:       log.LogfmtFormatter,
	})
	return nil
}

// SetProgressBar indicates that a progress bar is active
func (l *Logger) SetProgressBar(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasBar = active
}

// Close closes the log file if open
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLog != nil {
		err := l.fileLog.Close()
		l.fileLog = nil
		l.file = nil
		return err
	}
	return nil
}

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	console, file := l.targets()
	if console != nil {
		console.Infof(format, args...)
	}
	if file != nil {
		file.Infof(format, args...)
	}
}

// Debug logs detailed messages. They reach the console only in verbose mode
// but always reach the log file.
func (l *Logger) Debug(format string, args ...interface{}) {
	console, file := l.targets()
	if console != nil && l.Verbose {
		console.Debugf(format, args...)
	}
	if file != nil {
		file.Debugf(format, args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	console, file := l.targets()
	if console != nil {
		console.Warnf(format, args...)
	}
	if file != nil {
		file.Warnf(format, args...)
	}
}

// Error logs error messages to stderr, progress bar or not.
func (l *Logger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	file := l.file
	l.mu.Unlock()

	l.stderr.Errorf(format, args...)
	if file != nil {
		file.Errorf(format, args...)
	}
}

func (l *Logger) targets() (console, file *log.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Verbose || !l.hasBar {
		console = l.console
	}
	return console, l.file
}
