// Package huberrors defines the closed set of typed errors produced by the
// integration hub's core components. Every rejection in the lifecycle,
// dispatcher, bus, and rule engine surfaces as one of these kinds so callers
// can branch with errors.As instead of string matching.
package huberrors

import "fmt"

// Kind identifies which of the closed set of error categories a Error
// belongs to.
type Kind string

const (
	KindConfig      Kind = "config"
	KindLifecycle   Kind = "lifecycle"
	KindCapability  Kind = "capability"
	KindParameter   Kind = "parameter"
	KindConnect     Kind = "connect"
	KindDisconnect  Kind = "disconnect"
	KindExecution   Kind = "execution"
	KindTimeout     Kind = "timeout"
	KindBusOverflow Kind = "bus_overflow"
	KindStore       Kind = "store"
)

// Error is the concrete type behind every kind in the closed set. Op and
// Subject identify where the error occurred (e.g. op="execute",
// subject="cam-7") so log lines and test assertions don't need to parse
// the message string.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &huberrors.Error{Kind: ...}) style checks via
// a sentinel comparison on Kind, in addition to errors.As on the struct.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func Config(op, subject string, err error) *Error     { return newErr(KindConfig, op, subject, err) }
func Lifecycle(op, subject string, err error) *Error   { return newErr(KindLifecycle, op, subject, err) }
func Capability(op, subject string, err error) *Error  { return newErr(KindCapability, op, subject, err) }
func Parameter(op, subject string, err error) *Error   { return newErr(KindParameter, op, subject, err) }
func Connect(op, subject string, err error) *Error     { return newErr(KindConnect, op, subject, err) }
func Disconnect(op, subject string, err error) *Error  { return newErr(KindDisconnect, op, subject, err) }
func Execution(op, subject string, err error) *Error   { return newErr(KindExecution, op, subject, err) }
func Timeout(op, subject string, err error) *Error     { return newErr(KindTimeout, op, subject, err) }
func BusOverflow(op, subject string, err error) *Error { return newErr(KindBusOverflow, op, subject, err) }
func Store(op, subject string, err error) *Error       { return newErr(KindStore, op, subject, err) }

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); !ok {
		return "", false
	}
	return e.Kind, true
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
