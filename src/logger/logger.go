// Package logger provides leveled, contextual logging for the ingestion pipeline.
//
// Logging is a side channel: no implementation in this package returns an
// error or panics back into the operation being logged.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level is the severity of a log event.
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int8(l))
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
func ParseLevel(text string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", text)
	}
}

// Field is one key/value pair of log context.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (JSON, console, silent).
type Logger interface {
	Log(level Level, msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every event.
	With(fields ...Field) Logger
}

// WithBatchID scopes l to a single batch.
func WithBatchID(l Logger, batchID string) Logger {
	return l.With(F("batch_id", batchID))
}

// WithComponent scopes l to a named component, e.g. "gateway".
func WithComponent(l Logger, component string) Logger {
	return l.With(F("component", component))
}

// ConsoleLogger writes human-readable logs to stdout/stderr.
// Used for local runs and debugging.
type ConsoleLogger struct {
	min    Level
	fields []Field
	mu     *sync.Mutex
}

func NewConsoleLogger(min Level) *ConsoleLogger {
	return &ConsoleLogger{min: min, mu: &sync.Mutex{}}
}

func (c *ConsoleLogger) Log(level Level, msg string, fields ...Field) {
	if level < c.min {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(level.String()), msg)
	for _, f := range mergeFields(c.fields, fields) {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if level >= ErrorLevel {
		fmt.Fprint(os.Stderr, b.String())
		return
	}
	fmt.Fprint(os.Stdout, b.String())
}

func (c *ConsoleLogger) Debug(msg string, fields ...Field) { c.Log(DebugLevel, msg, fields...) }
func (c *ConsoleLogger) Info(msg string, fields ...Field)  { c.Log(InfoLevel, msg, fields...) }
func (c *ConsoleLogger) Warn(msg string, fields ...Field)  { c.Log(WarnLevel, msg, fields...) }
func (c *ConsoleLogger) Error(msg string, fields ...Field) { c.Log(ErrorLevel, msg, fields...) }

func (c *ConsoleLogger) With(fields ...Field) Logger {
	return &ConsoleLogger{min: c.min, fields: mergeFields(c.fields, fields), mu: c.mu}
}

// SilentLogger discards all log messages.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Log(Level, string, ...Field)  {}
func (s *SilentLogger) Debug(string, ...Field)       {}
func (s *SilentLogger) Info(string, ...Field)        {}
func (s *SilentLogger) Warn(string, ...Field)        {}
func (s *SilentLogger) Error(string, ...Field)       {}
func (s *SilentLogger) With(...Field) Logger         { return s }

// mergeFields returns base overlaid with extra; later keys win and key order is stable.
func mergeFields(base, extra []Field) []Field {
	if len(extra) == 0 {
		return base
	}

	index := make(map[string]int, len(base)+len(extra))
	merged := make([]Field, 0, len(base)+len(extra))
	for _, f := range append(append([]Field{}, base...), extra...) {
		if i, ok := index[f.Key]; ok {
			merged[i] = f
			continue
		}
		index[f.Key] = len(merged)
		merged = append(merged, f)
	}
	return merged
}

// Entry is one event captured by a Recorder.
type Entry struct {
	Level   Level
	Message string
	Fields  map[string]any
}

// Recorder keeps every event in memory. Tests use it to assert on emitted events.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []Field
}

func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) Log(level Level, msg string, fields ...Field) {
	values := make(map[string]any)
	for _, f := range mergeFields(r.fields, fields) {
		values[f.Key] = f.Value
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Message: msg, Fields: values})
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.Log(DebugLevel, msg, fields...) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.Log(InfoLevel, msg, fields...) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.Log(WarnLevel, msg, fields...) }
func (r *Recorder) Error(msg string, fields ...Field) { r.Log(ErrorLevel, msg, fields...) }

func (r *Recorder) With(fields ...Field) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, fields: mergeFields(r.fields, fields)}
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Messages returns the logged messages in order.
func (r *Recorder) Messages() []string {
	entries := r.Entries()
	msgs := make([]string, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs
}

// Find returns the first entry with the given message.
func (r *Recorder) Find(msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Message == msg {
			return e, true
		}
	}
	return Entry{}, false
}

// fieldKeys is used by the console fallback to print fields deterministically.
func fieldKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
