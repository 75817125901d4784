package logging

import (
	"go.uber.org/zap"
)

// Logger is the logging interface used throughout the relay. Every logger derived from the same
// root shares that root's appenders, so an appender added to one reaches all of them.
type Logger interface {
	// Sublogger returns a logger named after this one, dot separated, starting at this logger's level.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	GetLevel() Level
	AddAppender(appender Appender)
	Sync() error

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Fatal logs then exits the process.
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
}

type logger struct {
	name  string
	level zap.AtomicLevel
	out   *fanout
	sugar *zap.SugaredLogger
}

func newLogger(name string, level Level, out *fanout) *logger {
	l := &logger{name: name, level: zap.NewAtomicLevelAt(level.AsZap()), out: out}
	core := &fanoutCore{LevelEnabler: l.level, out: out}
	// skip the wrapping methods below so callers are reported
	sugar := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	if name != "" {
		sugar = sugar.Named(name)
	}
	l.sugar = sugar
	return l
}

func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return newLogger(name, l.GetLevel(), l.out)
}

func (l *logger) SetLevel(level Level) {
	l.level.SetLevel(level.AsZap())
}

func (l *logger) GetLevel() Level {
	return levelFromZap(l.level.Level())
}

func (l *logger) AddAppender(appender Appender) {
	l.out.add(appender)
}

func (l *logger) Sync() error {
	return l.out.Sync()
}

func (l *logger) Debug(args ...interface{})                   { l.sugar.Debug(args...) }
func (l *logger) Debugf(template string, args ...interface{}) { l.sugar.Debugf(template, args...) }
func (l *logger) Debugw(msg string, kvs ...interface{})       { l.sugar.Debugw(msg, kvs...) }
func (l *logger) Info(args ...interface{})                    { l.sugar.Info(args...) }
func (l *logger) Infof(template string, args ...interface{})  { l.sugar.Infof(template, args...) }
func (l *logger) Infow(msg string, kvs ...interface{})        { l.sugar.Infow(msg, kvs...) }
func (l *logger) Warn(args ...interface{})                    { l.sugar.Warn(args...) }
func (l *logger) Warnf(template string, args ...interface{})  { l.sugar.Warnf(template, args...) }
func (l *logger) Warnw(msg string, kvs ...interface{})        { l.sugar.Warnw(msg, kvs...) }
func (l *logger) Error(args ...interface{})                   { l.sugar.Error(args...) }
func (l *logger) Errorf(template string, args ...interface{}) { l.sugar.Errorf(template, args...) }
func (l *logger) Errorw(msg string, kvs ...interface{})       { l.sugar.Errorw(msg, kvs...) }

func (l *logger) Fatal(args ...interface{}) {
	l.sugar.Fatal(args...)
}

func (l *logger) Fatalf(template string, args ...interface{}) {
	l.sugar.Fatalf(template, args...)
}

func (l *logger) Fatalw(msg string, kvs ...interface{}) {
	l.sugar.Fatalw(msg, kvs...)
}
