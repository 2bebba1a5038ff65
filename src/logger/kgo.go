package logger

import (
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KgoLogger forwards franz-go client logs into a Logger.
type KgoLogger struct {
	log   Logger
	level kgo.LogLevel
}

// NewKgoLogger bridges franz-go logging at or above level into log.
func NewKgoLogger(log Logger, level kgo.LogLevel) *KgoLogger {
	return &KgoLogger{log: WithComponent(log, "kafka-client"), level: level}
}

var _ kgo.Logger = (*KgoLogger)(nil)

func (k *KgoLogger) Level() kgo.LogLevel {
	return k.level
}

func (k *KgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make([]Field, 0, len(keyvals)/2+1)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields = append(fields, F(fmt.Sprint(keyvals[i]), keyvals[i+1]))
	}
	if len(keyvals)%2 == 1 {
		fields = append(fields, F("extra", keyvals[len(keyvals)-1]))
	}

	switch level {
	case kgo.LogLevelError:
		k.log.Error(msg, fields...)
	case kgo.LogLevelWarn:
		k.log.Warn(msg, fields...)
	case kgo.LogLevelInfo:
		k.log.Info(msg, fields...)
	case kgo.LogLevelDebug:
		k.log.Debug(msg, fields...)
	}
}

// KgoLevel maps a Level to the franz-go level with the same meaning.
func KgoLevel(l Level) kgo.LogLevel {
	switch l {
	case DebugLevel:
		return kgo.LogLevelDebug
	case InfoLevel:
		return kgo.LogLevelInfo
	case WarnLevel:
		return kgo.LogLevelWarn
	default:
		return kgo.LogLevelError
	}
}
