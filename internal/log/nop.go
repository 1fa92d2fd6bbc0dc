package log

import "context"

type nopLogger struct{}

// Nop returns a logger that drops everything. Safe default for contexts
// with no logger attached.
func Nop() Logger { return nopLogger{} }

func (nopLogger) With(kv ...any) Logger                                      { return nopLogger{} }
func (nopLogger) Debug(ctx context.Context, msg string, kv ...any)           {}
func (nopLogger) Info(ctx context.Context, msg string, kv ...any)            {}
func (nopLogger) Warn(ctx context.Context, msg string, kv ...any)            {}
func (nopLogger) Error(ctx context.Context, err error, msg string, kv ...any) {}
func (nopLogger) Sync() error                                                { return nil }
