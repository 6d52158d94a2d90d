package logger

import "github.com/jathurchan/grouplock/types"

// NoOpLogger discards every message. It is the default for services and
// transports constructed without a logger, and keeps benchmarks and tests
// quiet.
type NoOpLogger struct{}

// NewNoOpLogger returns a Logger that discards all log messages.
func NewNoOpLogger() Logger { return NoOpLogger{} }

func (NoOpLogger) Debugw(msg string, keysAndValues ...any) {}
func (NoOpLogger) Infow(msg string, keysAndValues ...any)  {}
func (NoOpLogger) Warnw(msg string, keysAndValues ...any)  {}
func (NoOpLogger) Errorw(msg string, keysAndValues ...any) {}
func (NoOpLogger) Fatalw(msg string, keysAndValues ...any) {}

// Derivation keeps discarding; there is no context to store.

func (l NoOpLogger) With(keysAndValues ...any) Logger            { return l }
func (l NoOpLogger) WithAddress(addr types.MemberAddress) Logger { return l }
func (l NoOpLogger) WithComponent(name string) Logger            { return l }
