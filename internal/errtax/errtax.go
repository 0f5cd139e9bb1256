// Package errtax implements the closed error taxonomy every stage turns
// its failures into at its own boundary: Transient, Permanent, User-facing,
// Fatal. Nothing above the Task Scheduler ever sees a raw, unclassified
// error cross a component boundary.
package errtax

import (
	"context"
	"errors"
	"net/http"
)

// Kind is one of the four closed taxonomy buckets.
type Kind string

const (
	// Transient errors are retried by the LLM transport itself and, once,
	// by the scheduler for a timed-out agent task.
	Transient Kind = "transient"
	// Permanent errors are never retried: bad input, a denied permission,
	// a malformed structured-output payload.
	Permanent Kind = "permanent"
	// UserFacing is not really an error at all — an agent loop completed
	// with success=false and a human-readable summary. Reported, never
	// thrown.
	UserFacing Kind = "user_facing"
	// Fatal covers lost invariants, such as an unknown agent kind
	// referenced by a plan. The scheduler catches these into a
	// failed-task result rather than letting them crash the session.
	Fatal Kind = "fatal"
)

// Error wraps an underlying error with its taxonomy Kind. Retryable()
// mirrors the teacher's EngagementError.Retryable boolean but derives it
// from Kind instead of carrying it as a second field, so Kind and
// retryability can never disagree.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the scheduler should attempt this task again.
// Only Transient errors are retryable; everything else is terminal for
// the current attempt.
func (e *Error) Retryable() bool {
	return e.Kind == Transient
}

// New wraps err as the given Kind. A nil err still produces a non-nil
// *Error so callers can classify "no underlying error, just a sentinel
// condition" failures (e.g. permission denial) uniformly.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Transient_(err error) *Error  { return New(Transient, err) }
func Permanent_(err error) *Error  { return New(Permanent, err) }
func UserFacing_(err error) *Error { return New(UserFacing, err) }
func Fatal_(err error) *Error      { return New(Fatal, err) }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error. Unclassified errors are treated as Permanent: fail closed rather
// than silently retrying something that was never vetted as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Permanent
}

// IsRetryable classifies a raw, not-yet-wrapped error from an HTTP-backed
// transport the way the teacher's llm.IsRetryable does: context
// cancellation/deadline is never retryable, 429 and 5xx are retryable,
// other HTTP statuses are not, and anything else (network-level failure
// with no status code) defaults to retryable.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}

	return true
}

// Classify wraps a raw transport error into a taxonomy Error using
// IsRetryable's HTTP-status rule, for call sites that receive an error
// straight from an AgentClient rather than from inside this package.
func Classify(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	if IsRetryable(ctx, err) {
		return Transient_(err)
	}
	return Permanent_(err)
}
