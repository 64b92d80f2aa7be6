// Package outcome provides the result container used by every fallible
// operation in the automation layer. Browser actions, session checks and
// record submissions all report success or failure through an Outcome
// instead of panicking or returning bare errors, so callers can thread
// partial results and diagnostic messages through multi-step workflows.
package outcome

import (
	"errors"
	"fmt"
)

// Unit is the value type for outcomes that carry no payload.
type Unit = struct{}

// Status is an Outcome with no payload, used by operations that only
// report whether they worked (clicks, navigation, login).
type Status = Outcome[Unit]

// Outcome holds either a value or an error, never both. The zero value is
// a failed outcome with no cause; construct instances through Ok, OkMsg,
// Fail or Failf.
type Outcome[T any] struct {
	value T
	err   error
	msg   string
	ok    bool
}

// Ok returns a successful outcome carrying value.
func Ok[T any](value T) Outcome[T] {
	return Outcome[T]{value: value, ok: true}
}

// OkMsg returns a successful outcome carrying value and a diagnostic
// message describing how the operation concluded.
func OkMsg[T any](value T, format string, args ...any) Outcome[T] {
	return Outcome[T]{value: value, ok: true, msg: fmt.Sprintf(format, args...)}
}

// Fail returns a failed outcome caused by err. A nil err is replaced with
// a generic error so the failed-implies-error invariant always holds.
func Fail[T any](err error) Outcome[T] {
	if err == nil {
		err = errors.New("operation failed")
	}
	return Outcome[T]{err: err}
}

// Failf returns a failed outcome whose error is built from the format
// string. The %w verb wraps a cause so errors.Is and errors.As keep
// working through the outcome.
func Failf[T any](format string, args ...any) Outcome[T] {
	return Outcome[T]{err: fmt.Errorf(format, args...)}
}

// Done returns a successful Status.
func Done() Status {
	return Ok(Unit{})
}

// DoneMsg returns a successful Status with a diagnostic message.
func DoneMsg(format string, args ...any) Status {
	return OkMsg(Unit{}, format, args...)
}

// FailStatus returns a failed Status caused by err.
func FailStatus(err error) Status {
	return Fail[Unit](err)
}

// FailStatusf returns a failed Status whose error is built from the
// format string; %w wraps a cause.
func FailStatusf(format string, args ...any) Status {
	return Failf[Unit](format, args...)
}

// Succeeded reports whether the operation completed successfully.
func (o Outcome[T]) Succeeded() bool { return o.ok }

// Err returns the failure cause, or nil for successful outcomes.
func (o Outcome[T]) Err() error { return o.err }

// Value returns the carried value. For failed outcomes it is the zero
// value of T; use Unwrap when the caller must distinguish.
func (o Outcome[T]) Value() T { return o.value }

// Message returns the diagnostic message. Failed outcomes report their
// error text so logging a Message is always meaningful.
func (o Outcome[T]) Message() string {
	if o.err != nil {
		return o.err.Error()
	}
	return o.msg
}

// Unwrap returns the value and error in conventional Go form. The error
// is non-nil exactly when the outcome failed, so a failure can never be
// mistaken for a zero value.
func (o Outcome[T]) Unwrap() (T, error) {
	return o.value, o.err
}

// UnwrapOr returns the value, or def when the outcome failed.
func (o Outcome[T]) UnwrapOr(def T) T {
	if !o.ok {
		return def
	}
	return o.value
}

// Map converts a successful outcome's value through fn. Failures pass
// through unchanged, an error from fn becomes a failed outcome, and a
// panic inside fn is captured as a failure rather than unwinding the
// workflow.
func Map[T, U any](o Outcome[T], fn func(T) (U, error)) (out Outcome[U]) {
	if !o.ok {
		return Fail[U](o.err)
	}
	defer func() {
		if r := recover(); r != nil {
			out = Failf[U]("mapping panicked: %v", r)
		}
	}()
	v, err := fn(o.value)
	if err != nil {
		return Fail[U](err)
	}
	return Ok(v)
}
