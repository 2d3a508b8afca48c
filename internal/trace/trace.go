package trace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type contextKey string

const traceKey contextKey = "gratsample_trace"

// Trace holds timing information for one run
type Trace struct {
	mu      sync.Mutex
	name    string
	spans   []Span
	start   time.Time
	enabled bool
}

// Span represents a timed step
type Span struct {
	Name     string
	Duration time.Duration
	Details  map[string]any
}

// New creates an enabled trace
func New(name string) *Trace {
	return &Trace{
		name:    name,
		start:   time.Now(),
		enabled: true,
	}
}

// WithTrace attaches a new trace to ctx
func WithTrace(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, traceKey, New(name))
}

// FromContext returns the trace in ctx, or a disabled trace that records nothing
func FromContext(ctx context.Context) *Trace {
	if tr, ok := ctx.Value(traceKey).(*Trace); ok {
		return tr
	}
	return &Trace{}
}

// RecordSpan records a finished span
func (t *Trace) RecordSpan(name string, duration time.Duration, details ...map[string]any) {
	if !t.enabled {
		return
	}
	span := Span{Name: name, Duration: duration}
	if len(details) > 0 {
		span.Details = details[0]
	}

	t.mu.Lock()
	t.spans = append(t.spans, span)
	t.mu.Unlock()
}

// Start begins a span; calling the returned func records it.
//
//	done := trace.FromContext(ctx).Start("bin")
//	defer done(map[string]any{"rows": n})
func (t *Trace) Start(name string) func(details ...map[string]any) {
	begin := time.Now()
	return func(details ...map[string]any) {
		t.RecordSpan(name, time.Since(begin), details...)
	}
}

// Total returns elapsed time since the trace started
func (t *Trace) Total() time.Duration {
	return time.Since(t.start)
}

// Dump returns a human readable span listing
func (t *Trace) Dump() string {
	if !t.enabled {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Trace %s: Total %v ===\n", t.name, t.Total())
	for i, span := range t.spans {
		fmt.Fprintf(&b, "[%d] %s: %v", i+1, span.Name, span.Duration)
		if len(span.Details) > 0 {
			fmt.Fprintf(&b, " %+v", span.Details)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Spans returns a copy of the recorded spans
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	spans := make([]Span, len(t.spans))
	copy(spans, t.spans)
	return spans
}
