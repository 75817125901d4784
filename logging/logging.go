// Package logging contains the logger used by the depth relay: named zap loggers that fan entries
// out to a shared, growable list of appenders.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var global = NewLogger("depthrelay")

// Global returns the process wide logger used by components built without one.
func Global() Logger {
	return global
}

// NewLogger returns a logger that writes Info+ entries to stdout in UTC.
func NewLogger(name string) Logger {
	return newLogger(name, INFO, newFanout(true, NewStdoutAppender()))
}

// NewTestLogger returns a logger that writes Debug+ entries to the test in local time.
func NewTestLogger(tb testing.TB) Logger {
	return newLogger("", DEBUG, newFanout(false, NewTestAppender(tb)))
}

// NewObservedTestLogger is like NewTestLogger but also records every entry for inspection.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return newLogger("", DEBUG, newFanout(false, NewTestAppender(tb), core)), logs
}
