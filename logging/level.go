package logging

import "go.uber.org/zap/zapcore"

// Level is a log level. Its values line up with zap's levels of the same name.
type Level int8

const (
	// DEBUG log level.
	DEBUG = Level(zapcore.DebugLevel)
	// INFO log level.
	INFO = Level(zapcore.InfoLevel)
	// WARN log level.
	WARN = Level(zapcore.WarnLevel)
	// ERROR log level.
	ERROR = Level(zapcore.ErrorLevel)
)

func (level Level) String() string {
	return level.AsZap().String()
}

// AsZap converts the Level to a `zapcore.Level`.
func (level Level) AsZap() zapcore.Level {
	return zapcore.Level(level)
}

// levelFromZap clamps zap's wider range of levels onto ours.
func levelFromZap(level zapcore.Level) Level {
	switch {
	case level < zapcore.DebugLevel:
		return DEBUG
	case level > zapcore.ErrorLevel:
		return ERROR
	default:
		return Level(level)
	}
}
