// Package logger provides leveled logging (info/warning/error) to stdout/stderr
// and, optionally, to per-level files.
package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Logger writes info, warning and error lines through separate log.Loggers.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	files      []*os.File
	mu         sync.Mutex
}

const flags = log.Ldate | log.Ltime | log.Lmicroseconds

// New creates a Logger writing to stdout and stderr. When logDir is not
// empty the directory is created and each level is also appended to
// info.log, warning.log and error.log inside it.
//
// Arguments:
//   - logDir: Directory for the log files, or "" for console only.
//
// Returns:
//   - *Logger: The logger. Close it to release the files.
//   - error: If the directory or a file cannot be opened.
func New(logDir string) (*Logger, error) {
	if logDir == "" {
		return NewWithWriters(os.Stdout, os.Stdout, os.Stderr), nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}

	l := &Logger{}
	open := func(name string) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", name)
		}
		l.files = append(l.files, f)
		return f, nil
	}

	infoFile, err := open("info.log")
	if err != nil {
		l.Close()
		return nil, err
	}
	warningFile, err := open("warning.log")
	if err != nil {
		l.Close()
		return nil, err
	}
	errorFile, err := open("error.log")
	if err != nil {
		l.Close()
		return nil, err
	}

	l.setup(
		io.MultiWriter(os.Stdout, infoFile),
		io.MultiWriter(os.Stdout, warningFile),
		io.MultiWriter(os.Stderr, errorFile),
	)
	return l, nil
}

// NewWithWriters creates a Logger over arbitrary writers.
func NewWithWriters(info, warning, errs io.Writer) *Logger {
	l := &Logger{}
	l.setup(info, warning, errs)
	return l
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriters(io.Discard, io.Discard, io.Discard)
}

func (l *Logger) setup(info, warning, errs io.Writer) {
	l.infoLog = log.New(info, "ℹ️  INFO    ", flags)
	l.warningLog = log.New(warning, "⚠️  WARNING ", flags)
	l.errorLog = log.New(errs, "❌ ERROR   ", flags)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}

// Fatal writes an error-level entry and exits with status 1.
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.Error(format, v...)
	l.Close()
	os.Exit(1)
}

// Close releases the log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
