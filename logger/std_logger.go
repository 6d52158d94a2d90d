package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jathurchan/grouplock/types"
)

// LogLevel orders message severities for filtering.
type LogLevel int8

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int8(l))
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to LevelInfo on
// anything it does not recognize.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// field is one key/value of logger context. Context is kept as a slice, not
// a map, so every line renders its fields in derivation order.
type field struct {
	key   string
	value any
}

// StdLogger writes one line per message to an io.Writer:
//
//	2006-01-02T15:04:05.000 WARN message ctx1=v1 ctx2=v2 k=v
//
// Derived loggers share the writer and its mutex, so lines from different
// components never interleave. The zero value is not usable; construct with
// NewStdLogger or NewStdLoggerTo.
type StdLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	min    LogLevel
	fields []field
	exit   func(code int)
}

// NewStdLogger returns a logger writing to stderr, filtered at minLevel
// (parsed with ParseLevel).
func NewStdLogger(minLevel string) Logger {
	return NewStdLoggerTo(os.Stderr, minLevel)
}

// NewStdLoggerTo returns a logger writing to w, filtered at minLevel.
func NewStdLoggerTo(w io.Writer, minLevel string) Logger {
	return &StdLogger{
		mu:   &sync.Mutex{},
		out:  w,
		min:  ParseLevel(minLevel),
		exit: os.Exit,
	}
}

func (l *StdLogger) Debugw(msg string, kvs ...any) { l.write(LevelDebug, msg, kvs) }
func (l *StdLogger) Infow(msg string, kvs ...any)  { l.write(LevelInfo, msg, kvs) }
func (l *StdLogger) Warnw(msg string, kvs ...any)  { l.write(LevelWarn, msg, kvs) }
func (l *StdLogger) Errorw(msg string, kvs ...any) { l.write(LevelError, msg, kvs) }

// Fatalw logs the message and terminates the process.
func (l *StdLogger) Fatalw(msg string, kvs ...any) {
	l.write(LevelFatal, msg, kvs)
	l.exit(1)
}

func (l *StdLogger) write(level LogLevel, msg string, kvs []any) {
	if level < l.min {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02T15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)

	for _, f := range l.fields {
		writeField(&b, f)
	}
	for _, f := range pairUp(kvs) {
		writeField(&b, f)
	}
	b.WriteByte('\n')

	l.mu.Lock()
	_, _ = io.WriteString(l.out, b.String())
	l.mu.Unlock()
}

// With returns a logger carrying the given pairs as persistent context.
func (l *StdLogger) With(kvs ...any) Logger {
	return l.derive(pairUp(kvs))
}

// WithAddress returns a logger stamped with the local member address.
func (l *StdLogger) WithAddress(addr types.MemberAddress) Logger {
	return l.derive([]field{{key: "addr", value: addr}})
}

// WithComponent returns a logger stamped with a component label.
func (l *StdLogger) WithComponent(name string) Logger {
	return l.derive([]field{{key: "component", value: name}})
}

// derive copies the logger with extra context appended. The writer, mutex,
// level, and exit hook are shared with the parent.
func (l *StdLogger) derive(extra []field) *StdLogger {
	fields := make([]field, 0, len(l.fields)+len(extra))
	fields = append(fields, l.fields...)
	fields = append(fields, extra...)
	return &StdLogger{
		mu:     l.mu,
		out:    l.out,
		min:    l.min,
		fields: fields,
		exit:   l.exit,
	}
}

// pairUp turns a kvs vararg into fields, skipping non-string keys and a
// dangling key with no value.
func pairUp(kvs []any) []field {
	fields := make([]field, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, field{key: key, value: kvs[i+1]})
	}
	return fields
}

func writeField(b *strings.Builder, f field) {
	b.WriteByte(' ')
	b.WriteString(f.key)
	b.WriteByte('=')

	s := fmt.Sprint(f.value)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		s = fmt.Sprintf("%q", s)
	}
	b.WriteString(s)
}
