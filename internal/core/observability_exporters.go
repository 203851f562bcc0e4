package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes call counts and cumulative durations per
// operation through expvar.
type ExpvarMetricsRecorder struct {
	name      string
	calls     *expvar.Map
	durations *expvar.Map
}

// ExpvarMetricsSnapshot is a point-in-time copy of the published values.
type ExpvarMetricsSnapshot struct {
	// Calls is keyed by "<operation>.<success|error>".
	Calls       map[string]int64   `json:"calls"`
	DurationsMS map[string]float64 `json:"durations_ms"`
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name gets
// a generated unique one.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("inventory_service_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	r := &ExpvarMetricsRecorder{
		name:      name,
		calls:     new(expvar.Map).Init(),
		durations: new(expvar.Map).Init(),
	}
	root := new(expvar.Map).Init()
	root.Set("calls", r.calls)
	root.Set("durations_ms", r.durations)
	expvar.Publish(name, root)
	return r
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.calls.Add(operation+"."+status, 1)
	r.durations.AddFloat(operation, float64(duration)/float64(time.Millisecond))
}

// Snapshot copies the current values.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	snap := ExpvarMetricsSnapshot{Calls: map[string]int64{}, DurationsMS: map[string]float64{}}
	r.calls.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			snap.Calls[kv.Key] = v.Value()
		}
	})
	r.durations.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Float); ok {
			snap.DurationsMS[kv.Key] = v.Value()
		}
	})
	return snap
}

// JSONSpan is one finished span written by JSONTracer.
type JSONSpan struct {
	TraceID    string    `json:"trace_id"`
	SpanID     string    `json:"span_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Operation  string    `json:"operation"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

type spanKey struct{}

// JSONTracer writes finished spans as JSON lines and keeps them for
// inspection. Spans started under another span share its trace id.
type JSONTracer struct {
	mu    sync.Mutex
	spans []JSONSpan
	enc   *json.Encoder
}

// NewJSONTracer builds a tracer writing to w. A nil w only retains spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Spans returns the finished spans in completion order.
func (t *JSONTracer) Spans() []JSONSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONSpan(nil), t.spans...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	span := &jsonSpan{tracer: t, data: JSONSpan{
		TraceID:   uuid.NewString(),
		SpanID:    uuid.NewString(),
		Operation: operation,
		StartedAt: time.Now().UTC(),
	}}
	if parent, ok := ctx.Value(spanKey{}).(*jsonSpan); ok {
		span.data.TraceID = parent.data.TraceID
		span.data.ParentID = parent.data.SpanID
	}
	return context.WithValue(ctx, spanKey{}, span), span
}

type jsonSpan struct {
	tracer *JSONTracer
	data   JSONSpan
}

func (s *jsonSpan) End(err error) {
	s.data.DurationMS = float64(time.Since(s.data.StartedAt)) / float64(time.Millisecond)
	if err != nil {
		s.data.Error = err.Error()
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, s.data)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(s.data)
	}
}
