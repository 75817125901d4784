package logging

import (
	"io"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogFileMaxSizeMB is the size at which a log file is rotated.
const DefaultLogFileMaxSizeMB = 100

// NewFileAppender returns an appender writing JSON entries to a rotating file at path. The returned
// closer flushes and closes the current file.
func NewFileAppender(path string, maxSizeMB int) (Appender, io.Closer) {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultLogFileMaxSizeMB
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 2,
		Compress:   true,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewLoggerConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		zapcore.DebugLevel,
	)
	return core, w
}
