// Package logcfg provides the subsystem logging backend shared by every
// package in this module: one backend, one set of per-subsystem loggers,
// no build-tag switching between production/development logging modes
// since this module has no separate test-only logging target.
package logcfg

import (
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btclog"
)

// Writer is the sink every subsystem logger ultimately writes through. Its
// W field is set at startup, by SetOutput, once the log destination is
// known; until then writes are discarded.
type Writer struct {
	W io.Writer
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.W == nil {
		return len(p), nil
	}
	return w.W.Write(p)
}

var (
	logWriter = &Writer{}
	backend   = btclog.NewBackend(logWriter)
)

// SetOutput redirects all subsystem loggers to w. Call once during startup,
// before any subsystem logger is used, e.g. after the log rotator file is
// open.
func SetOutput(w io.Writer) {
	logWriter.W = w
}

// NewSubLogger creates a logger for the named subsystem, backed by the
// shared backend and writer.
func NewSubLogger(subsystem string) btclog.Logger {
	return backend.Logger(subsystem)
}

// SubLoggers is a registry of the loggers created by NewSubLogger, keyed by
// subsystem tag, so that debug levels can be adjusted after startup.
type SubLoggers map[string]btclog.Logger

// ParseAndSetDebugLevels parses a level spec of the form
// "info" or "info,PEER=debug,NODE=trace" and applies it to loggers.
func ParseAndSetDebugLevels(levelSpec string, loggers SubLoggers) error {
	parts := strings.Split(levelSpec, ",")
	if len(parts) == 0 {
		return fmt.Errorf("invalid log level spec: %q", levelSpec)
	}

	global := parts[0]
	if !strings.Contains(global, "=") {
		if !validLevel(global) {
			return fmt.Errorf("invalid debug level %q", global)
		}
		for _, logger := range loggers {
			level, _ := btclog.LevelFromString(global)
			logger.SetLevel(level)
		}
		parts = parts[1:]
	}

	for _, pair := range parts {
		fields := strings.SplitN(pair, "=", 2)
		if len(fields) != 2 {
			return fmt.Errorf("invalid subsystem=level pair %q", pair)
		}

		subsystem, levelStr := fields[0], fields[1]
		logger, ok := loggers[subsystem]
		if !ok {
			return fmt.Errorf("unknown subsystem %q", subsystem)
		}
		if !validLevel(levelStr) {
			return fmt.Errorf("invalid debug level %q", levelStr)
		}

		level, _ := btclog.LevelFromString(levelStr)
		logger.SetLevel(level)
	}

	return nil
}

func validLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}
	return false
}
