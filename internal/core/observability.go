package core

import (
	"context"
	"time"
)

// Logger is the structured logger used by the service. Args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// AuditAction classifies an audited operation.
type AuditAction string

// Audit actions.
const (
	AuditCreate  AuditAction = "CREATE"
	AuditRead    AuditAction = "READ"
	AuditWrite   AuditAction = "WRITE"
	AuditMove    AuditAction = "MOVE"
	AuditDelete  AuditAction = "DELETE"
	AuditRestore AuditAction = "RESTORE"
)

// AuditEntry describes one successful operation on a record.
type AuditEntry struct {
	Operation string
	Action    AuditAction
	EntityID  string
	Actor     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries after successful operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is an in-flight span ended with the operation error.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
