package logging

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// fanout is the appender list shared by a root logger and all of its subloggers.
type fanout struct {
	utc bool

	mu        sync.RWMutex
	appenders []Appender
}

func newFanout(utc bool, appenders ...Appender) *fanout {
	return &fanout{utc: utc, appenders: appenders}
}

func (f *fanout) add(appender Appender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appenders = append(f.appenders, appender)
}

func (f *fanout) snapshot() []Appender {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.appenders[:len(f.appenders):len(f.appenders)]
}

// Write hands the entry to every appender. No lock is held while appenders run, so an appender may
// itself log.
func (f *fanout) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if f.utc {
		entry.Time = entry.Time.UTC()
	}
	var err error
	for _, appender := range f.snapshot() {
		err = multierr.Append(err, appender.Write(entry, fields))
	}
	return err
}

func (f *fanout) Sync() error {
	var err error
	for _, appender := range f.snapshot() {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// fanoutCore adapts a fanout to zap, filtering on one logger's level.
type fanoutCore struct {
	zapcore.LevelEnabler
	out    *fanout
	fields []zapcore.Field
}

func (c *fanoutCore) With(fields []zapcore.Field) zapcore.Core {
	return &fanoutCore{
		LevelEnabler: c.LevelEnabler,
		out:          c.out,
		fields:       append(c.fields[:len(c.fields):len(c.fields)], fields...),
	}
}

func (c *fanoutCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *fanoutCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if len(c.fields) > 0 {
		fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	}
	return c.out.Write(entry, fields)
}

func (c *fanoutCore) Sync() error {
	return c.out.Sync()
}
