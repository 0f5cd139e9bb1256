package domain

import "time"

// SpanKind is the closed set of span kinds a Trace can contain (§3, §4.8).
type SpanKind string

const (
	SpanOrchestrator SpanKind = "orchestrator"
	SpanAgent        SpanKind = "agent"
	SpanLLMCall      SpanKind = "llm_call"
	SpanTool         SpanKind = "tool"
	SpanHook         SpanKind = "hook"
)

// Span is one node in a Trace's span tree. Spans form a strict tree and
// end in LIFO order within a single trace (§3 invariant) — enforced by the
// eventbus Tracer, not by this type itself.
type Span struct {
	ID         int64
	ParentID   int64 // zero for the root span
	Kind       SpanKind
	Name       string
	Attributes map[string]any
	Children   []*Span
	Start      time.Time
	End        time.Time
}

// Open reports whether the span has not yet been ended.
func (s *Span) Open() bool {
	return s.End.IsZero()
}

// Duration returns the span's wall-clock length. Zero if still open.
func (s *Span) Duration() time.Duration {
	if s.Open() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Trace is a single session's span tree plus its session id and overall
// start/end (§3).
type Trace struct {
	SessionID string
	Root      *Span
	Start     time.Time
	End       time.Time
}

// Done reports whether the trace's root span (and therefore every span in
// the tree, by the LIFO-close invariant) has ended.
func (t *Trace) Done() bool {
	return t.Root != nil && !t.Root.Open()
}
