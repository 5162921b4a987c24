// Package logger configures the process-wide logrus logger. Components take
// a logrus.FieldLogger in their constructors; this package only decides where
// that output goes.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	std     = logrus.New()
	logFile *os.File
	mu      sync.Mutex
)

func init() {
	std.SetOutput(io.Discard)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// Init points the logger at the given file. Called once at startup; calling
// it again rotates to the new path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	std.SetOutput(f)
	return nil
}

// Close closes the log file and silences the logger.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	std.SetOutput(io.Discard)
}

// SetVerbose switches debug-level logging on or off.
func SetVerbose(verbose bool) {
	if verbose {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// Default returns the process logger for injection into components.
func Default() logrus.FieldLogger {
	return std
}

// New returns a child logger tagged with the given component field.
func New(component string) logrus.FieldLogger {
	return std.WithField("component", component)
}

// GetWriter returns the underlying writer for subsystems that log raw lines
// (driver HTTP timing, provider CLIs).
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
