package logging

import (
	"io"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// testTimeFormat is the timestamp layout of lines written to a test.
const testTimeFormat = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. A `zapcore.Core` is a valid Appender.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// NewLoggerConfig returns the encoder config shared by the appenders: zap's production keys, capital
// levels and ISO8601 times.
func NewLoggerConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewWriterAppender returns an appender that writes console encoded entries to w.
func NewWriterAppender(w io.Writer) Appender {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(NewLoggerConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		zapcore.DebugLevel,
	)
}

// NewStdoutAppender returns an appender writing to stdout.
func NewStdoutAppender() Appender {
	return NewWriterAppender(os.Stdout)
}

type testAppender struct {
	tb  testing.TB
	enc zapcore.Encoder
}

// NewTestAppender returns an appender that writes console encoded lines through tb.Log, so output
// is attributed to the test that produced it even when tests run in parallel.
func NewTestAppender(tb testing.TB) Appender {
	cfg := NewLoggerConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(testTimeFormat)
	return &testAppender{tb: tb, enc: zapcore.NewConsoleEncoder(cfg)}
}

func (a *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	buf, err := a.enc.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	a.tb.Log(strings.TrimSuffix(buf.String(), zapcore.DefaultLineEnding))
	return nil
}

func (a *testAppender) Sync() error {
	return nil
}
