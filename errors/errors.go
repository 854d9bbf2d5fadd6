package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/wippyai/addon-runtime/abi"
)

// Phase indicates which subsystem reported the error
type Phase string

const (
	PhaseValue      Phase = "value"      // handle creation and reads
	PhaseArgument   Phase = "argument"   // callback argument decoding
	PhaseScope      Phase = "scope"      // handle scopes
	PhaseReference  Phase = "reference"  // references, wraps, finalizers
	PhaseCallback   Phase = "callback"   // function trampolines and calls
	PhaseProperty   Phase = "property"   // property descriptors and classes
	PhaseWork       Phase = "work"       // background work
	PhaseThreadsafe Phase = "threadsafe" // threadsafe functions
	PhasePromise    Phase = "promise"    // promise/deferred pairs
	PhaseModule     Phase = "module"     // module registration and loading
	PhaseHost       Phase = "host"       // host-side driver
	PhaseConfig     Phase = "config"     // configuration loading
	PhaseWasm       Phase = "wasm"       // wasm guest bridge
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Op     string
	Detail string
	Path   []string
	Status abi.Status
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(e.Status.String())

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		if e.Op != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on status alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Status == t.Status
}

// Sentinels for errors.Is matching by status.
var (
	ErrInvalidArg                    = &Error{Status: abi.StatusInvalidArg}
	ErrObjectExpected                = &Error{Status: abi.StatusObjectExpected}
	ErrStringExpected                = &Error{Status: abi.StatusStringExpected}
	ErrNameExpected                  = &Error{Status: abi.StatusNameExpected}
	ErrFunctionExpected              = &Error{Status: abi.StatusFunctionExpected}
	ErrNumberExpected                = &Error{Status: abi.StatusNumberExpected}
	ErrBooleanExpected               = &Error{Status: abi.StatusBooleanExpected}
	ErrArrayExpected                 = &Error{Status: abi.StatusArrayExpected}
	ErrGenericFailure                = &Error{Status: abi.StatusGenericFailure}
	ErrPendingException              = &Error{Status: abi.StatusPendingException}
	ErrCancelled                     = &Error{Status: abi.StatusCancelled}
	ErrEscapeCalledTwice             = &Error{Status: abi.StatusEscapeCalledTwice}
	ErrHandleScopeMismatch           = &Error{Status: abi.StatusHandleScopeMismatch}
	ErrCallbackScopeMismatch         = &Error{Status: abi.StatusCallbackScopeMismatch}
	ErrQueueFull                     = &Error{Status: abi.StatusQueueFull}
	ErrClosing                       = &Error{Status: abi.StatusClosing}
	ErrBigintExpected                = &Error{Status: abi.StatusBigintExpected}
	ErrDateExpected                  = &Error{Status: abi.StatusDateExpected}
	ErrArraybufferExpected           = &Error{Status: abi.StatusArraybufferExpected}
	ErrDetachableArraybufferExpected = &Error{Status: abi.StatusDetachableArraybufferExpected}
	ErrWouldDeadlock                 = &Error{Status: abi.StatusWouldDeadlock}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, status abi.Status) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Status: status,
		},
	}
}

// Op sets the failing operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Path sets the argument or property path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Check converts a host status into an error, nil for StatusOK.
func Check(phase Phase, op string, status abi.Status) error {
	if status == abi.StatusOK {
		return nil
	}
	return &Error{Phase: phase, Op: op, Status: status}
}

// FromStatus creates an error for a non-OK status with a detail message.
func FromStatus(phase Phase, op string, status abi.Status, detail string) *Error {
	return &Error{
		Phase:  phase,
		Op:     op,
		Status: status,
		Detail: detail,
	}
}

// StatusOf extracts the status carried by err.
// Foreign errors map to generic_failure and nil maps to ok.
func StatusOf(err error) abi.Status {
	if err == nil {
		return abi.StatusOK
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Status
	}
	return abi.StatusGenericFailure
}

// Convenience constructors for common error patterns

// Expected creates a typed "expected X" error for a failed downcast
func Expected(phase Phase, status abi.Status, got string) *Error {
	return &Error{
		Phase:  phase,
		Status: status,
		Detail: fmt.Sprintf("got %s", got),
		Value:  got,
	}
}

// Argument wraps a decoding failure of the argument at index.
// The status of the cause is preserved so callers can match on it.
func Argument(index int, cause error) *Error {
	return &Error{
		Phase:  PhaseArgument,
		Status: StatusOf(cause),
		Path:   []string{fmt.Sprintf("arguments[%d]", index)},
		Cause:  cause,
	}
}

// InvalidArg creates an invalid argument error
func InvalidArg(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Status: abi.StatusInvalidArg,
		Detail: detail,
	}
}

// GenericFailure creates a generic failure error
func GenericFailure(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Status: abi.StatusGenericFailure,
		Detail: detail,
	}
}

// Closing creates an error for use of a resource that is shutting down
// or was already consumed
func Closing(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Status: abi.StatusClosing,
		Detail: detail,
	}
}

// NameExpected creates an error for a descriptor or function without a name
func NameExpected(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Status: abi.StatusNameExpected,
		Detail: fmt.Sprintf("%s requires a name", what),
	}
}

// Panic creates an error for a recovered panic
func Panic(phase Phase, recovered any) *Error {
	e := &Error{
		Phase:  phase,
		Status: abi.StatusGenericFailure,
		Detail: fmt.Sprintf("native panic: %v", recovered),
		Value:  recovered,
	}
	if err, ok := recovered.(error); ok {
		e.Cause = err
	}
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, status abi.Status, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Status: status,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Status: abi.StatusInvalidArg,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}
