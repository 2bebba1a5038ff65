package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOptions configures a ZapLogger.
type ZapOptions struct {
	// Service and Environment form the base context of every event.
	Service     string
	Environment string

	// Level is the minimum level emitted.
	Level Level

	// Output receives JSON events. Defaults to os.Stdout.
	Output io.Writer

	// Fallback receives a plain line when an event cannot be encoded. Defaults to os.Stderr.
	Fallback io.Writer
}

// ZapLogger emits one JSON object per event:
//
//	{"level":"info","timestamp":"2024-01-01T00:00:00Z","message":"...","service":"...","environment":"...","batch_id":"..."}
type ZapLogger struct {
	base     *zap.Logger
	fields   []Field
	fallback *log.Logger
}

// NewZapLogger builds a JSON logger with UTC timestamps.
func NewZapLogger(opts ZapOptions) *ZapLogger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = os.Stderr
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		NameKey:        "logger",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(guardedSink{w: out}),
		zap.NewAtomicLevelAt(opts.Level.zap()),
	)

	base := zap.New(core, zap.ErrorOutput(zapcore.Lock(guardedSink{w: fallback}))).With(
		zap.String("service", opts.Service),
		zap.String("environment", opts.Environment),
	)

	return &ZapLogger{
		base:     base,
		fallback: log.New(guardedSink{w: fallback}, "", 0),
	}
}

// guardedSink reports a panic inside w as a write error. zapcore.Lock does not
// release its mutex when Write panics, so the panic must stop here.
type guardedSink struct {
	w io.Writer
}

func (g guardedSink) Write(p []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("log writer panicked: %v", r)
		}
	}()
	return g.w.Write(p)
}

func (g guardedSink) Sync() (err error) {
	syncer, ok := g.w.(zapcore.WriteSyncer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("log writer panicked on sync: %v", r)
		}
	}()
	return syncer.Sync()
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

func (l Level) zap() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log writes one event. A failure while encoding or writing is reported on
// the fallback writer as a plain line and otherwise dropped.
func (z *ZapLogger) Log(level Level, msg string, fields ...Field) {
	defer func() {
		if r := recover(); r != nil {
			z.writeFallback(level, msg, fields, r)
		}
	}()

	ce := z.base.Check(level.zap(), msg)
	if ce == nil {
		return
	}
	ce.Write(toZapFields(mergeFields(z.fields, fields))...)
}

func (z *ZapLogger) Debug(msg string, fields ...Field) { z.Log(DebugLevel, msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...Field)  { z.Log(InfoLevel, msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...Field)  { z.Log(WarnLevel, msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...Field) { z.Log(ErrorLevel, msg, fields...) }

func (z *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{
		base:     z.base,
		fields:   mergeFields(z.fields, fields),
		fallback: z.fallback,
	}
}

// Sync flushes buffered output.
func (z *ZapLogger) Sync() error {
	return z.base.Sync()
}

func (z *ZapLogger) writeFallback(level Level, msg string, fields []Field, cause any) {
	defer func() {
		// Nothing left to report to.
		_ = recover()
	}()

	values := make(map[string]any)
	for _, f := range mergeFields(z.fields, fields) {
		values[f.Key] = f.Value
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s level=%s message=%q", time.Now().UTC().Format(time.RFC3339), level, msg)
	for _, k := range fieldKeys(values) {
		// %T avoids calling back into the value that may have failed.
		fmt.Fprintf(&b, " %s=<%T>", k, values[k])
	}
	fmt.Fprintf(&b, " log_error=%q", fmt.Sprint(cause))
	z.fallback.Println(b.String())
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
