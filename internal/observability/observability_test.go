package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"inventorycore/internal/bulk"
	"inventorycore/internal/core"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.Observe(context.Background(), "move_subsample", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "move_subsample", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "move_subsample", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.calls.WithLabelValues("move_subsample", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.calls.WithLabelValues("move_subsample", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestOTelTracerRecordsErrors(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := NewOTelTracer(tp)

	ctx, parent := tracer.Start(context.Background(), "execute_bulk")
	_, child := tracer.Start(ctx, "delete_container")
	child.End(errors.New("container is not empty"))
	parent.End(nil)

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if spans[0].Name() != "delete_container" || spans[0].Status().Code != codes.Error {
		t.Fatalf("expected failed child span, got %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Fatalf("expected child to reference parent span")
	}
	if spans[1].Status().Code != codes.Ok {
		t.Fatalf("expected ok parent span, got %v", spans[1].Status())
	}
}

func TestNewTracerProviderExportsJSON(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider(context.Background(), TracingConfig{ServiceName: "inventorycore-test", SampleRatio: 1}, &buf)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	_, span := NewOTelTracer(tp).Start(context.Background(), "create_sample")
	span.End(nil)
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "create_sample") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}
}

func TestWriterLoggerAndAuditRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, zapcore.InfoLevel)
	logger.Debug("dropped")
	NewLogAuditRecorder(logger).Record(context.Background(), core.AuditEntry{
		Operation: "create_container",
		Action:    core.AuditCreate,
		EntityID:  "IC1",
		Actor:     "alice",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above debug level, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["stream"] != "audit" || entry["entity"] != "IC1" || entry["action"] != "CREATE" {
		t.Fatalf("unexpected audit line %v", entry)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	logger, err := NewLogger(LogConfig{Mode: "production", Level: "warn", File: filepath.Join(t.TempDir(), "inventory.log")})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	logger.Warn("rotating file configured")
	_ = logger.Sync()
}

func TestServiceWiresObservabilityAdapters(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	rec, err := NewPrometheusRecorder(nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	svc := core.NewInMemoryService(nil,
		core.WithTracer(NewOTelTracer(tp)),
		core.WithMetricsRecorder(rec),
		core.WithLogger(NewNopLogger()),
	)
	if _, _, err := svc.CreateContainer(context.Background(), "alice", bulk.Record{Name: "Freezer"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := testutil.ToFloat64(rec.calls.WithLabelValues("create_container", "success")); got != 1 {
		t.Fatalf("expected counted create, got %v", got)
	}
	if len(sr.Ended()) != 1 {
		t.Fatalf("expected one span, got %d", len(sr.Ended()))
	}
}
