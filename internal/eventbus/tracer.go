package eventbus

import (
	"context"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"agentcore/common/id"
	"agentcore/internal/domain"
)

const tracerName = "agentd"

// Tracer maintains the current Trace's span tree and a stack of open
// spans. Starting a span pushes it onto the stack and onto its parent's
// Children; ending a non-top span still correctly removes it by reference,
// tolerating out-of-order closures on error paths.
type Tracer struct {
	bus     *Bus
	tracer  oteltrace.Tracer
	mu      sync.Mutex
	trace   *domain.Trace
	stack   []*openSpan
	bySpan  map[int64]*openSpan
}

type openSpan struct {
	span    *domain.Span
	otel    oteltrace.Span
	otelCtx context.Context
}

// NewTracer starts a fresh Trace for sessionID. Its OTel spans come from a
// no-op tracer, so nothing is exported until UseOtelTracer swaps in a real
// one.
func NewTracer(bus *Bus, sessionID string) *Tracer {
	return &Tracer{
		bus:    bus,
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		trace: &domain.Trace{
			SessionID: sessionID,
			Start:     time.Now(),
		},
		bySpan: make(map[int64]*openSpan),
	}
}

// UseOtelTracer swaps in a real tracer (e.g. from the configured SDK
// TracerProvider) in place of the no-op default. Call before starting any
// spans.
func (t *Tracer) UseOtelTracer(tracer oteltrace.Tracer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracer = tracer
}

// Start begins a new span of the given kind and name as a child of the
// current top-of-stack span (or the trace root if the stack is empty).
// Returns the context carrying the new OTel span and the domain span's ID,
// used later to End it.
func (t *Tracer) Start(ctx context.Context, kind domain.SpanKind, name string, attrs map[string]any) (context.Context, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	otelCtx, otelSpan := t.tracer.Start(ctx, name)

	span := &domain.Span{
		ID:         id.New(),
		Kind:       kind,
		Name:       name,
		Attributes: attrs,
		Start:      time.Now(),
	}

	if len(t.stack) > 0 {
		parent := t.stack[len(t.stack)-1]
		span.ParentID = parent.span.ID
		parent.span.Children = append(parent.span.Children, span)
	} else {
		span.ParentID = 0
		t.trace.Root = span
	}

	os := &openSpan{span: span, otel: otelSpan, otelCtx: otelCtx}
	t.stack = append(t.stack, os)
	t.bySpan[span.ID] = os

	return otelCtx, span.ID
}

// End closes the span with the given ID, wherever it sits in the stack —
// removing it by reference rather than assuming it's the top, so an error
// path that ends spans out of LIFO order still leaves the stack consistent.
func (t *Tracer) End(spanID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	os, ok := t.bySpan[spanID]
	if !ok {
		return
	}
	os.span.End = time.Now()
	os.otel.End()
	delete(t.bySpan, spanID)

	for i, s := range t.stack {
		if s.span.ID == spanID {
			t.stack = append(t.stack[:i], t.stack[i+1:]...)
			break
		}
	}

	if len(t.stack) == 0 && t.trace.Root != nil && t.trace.Root.ID == spanID {
		t.trace.End = os.span.End
	}
}

// Trace returns the Tracer's current Trace snapshot.
func (t *Tracer) Trace() *domain.Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trace
}

// RecordTokenUsage attaches usage to the given open span's attributes and
// publishes a token:usage event carrying the same numbers.
func (t *Tracer) RecordTokenUsage(spanID int64, promptTokens, completionTokens int) {
	t.mu.Lock()
	if os, ok := t.bySpan[spanID]; ok {
		if os.span.Attributes == nil {
			os.span.Attributes = map[string]any{}
		}
		os.span.Attributes["promptTokens"] = promptTokens
		os.span.Attributes["completionTokens"] = completionTokens
	}
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(Event{
			Channel: ChannelTokenUsage,
			Payload: map[string]any{
				"spanId":           spanID,
				"promptTokens":     promptTokens,
				"completionTokens": completionTokens,
			},
		})
	}
}
