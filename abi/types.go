package abi

import "strconv"

// Version is the embedding interface generation this package describes.
const Version uint32 = 8

// Env is the per-call environment token supplied by the host.
type Env uintptr

// Value is a handle to a host value, valid while its scope frame is open.
type Value uintptr

// Ref is a persistent, refcounted reference to a host value.
type Ref uintptr

// HandleScope identifies an open handle scope frame.
type HandleScope uintptr

// EscapableHandleScope identifies an open escapable scope frame.
type EscapableHandleScope uintptr

// CallbackInfo identifies the arguments of an in-flight callback.
type CallbackInfo uintptr

// AsyncWork identifies a background work item.
type AsyncWork uintptr

// ThreadsafeFunction identifies a threadsafe function queue.
type ThreadsafeFunction uintptr

// Deferred is the settle-once half of a promise.
type Deferred uintptr

// AsyncContext identifies an async resource context.
type AsyncContext uintptr

// CallbackScope identifies an open callback scope of an async context.
type CallbackScope uintptr

// Data is an opaque native pointer stored by the host and handed back to
// callbacks. The host never dereferences it.
type Data uintptr

func (e Env) IsNull() bool                  { return e == 0 }
func (v Value) IsNull() bool                { return v == 0 }
func (r Ref) IsNull() bool                  { return r == 0 }
func (s HandleScope) IsNull() bool          { return s == 0 }
func (s EscapableHandleScope) IsNull() bool { return s == 0 }
func (c CallbackInfo) IsNull() bool         { return c == 0 }
func (w AsyncWork) IsNull() bool            { return w == 0 }
func (t ThreadsafeFunction) IsNull() bool   { return t == 0 }
func (d Deferred) IsNull() bool             { return d == 0 }
func (c AsyncContext) IsNull() bool         { return c == 0 }
func (s CallbackScope) IsNull() bool        { return s == 0 }
func (d Data) IsNull() bool                 { return d == 0 }

func (e Env) String() string                { return handleString("env", uintptr(e)) }
func (v Value) String() string              { return handleString("value", uintptr(v)) }
func (r Ref) String() string                { return handleString("ref", uintptr(r)) }
func (t ThreadsafeFunction) String() string { return handleString("tsfn", uintptr(t)) }
func (w AsyncWork) String() string          { return handleString("work", uintptr(w)) }
func (d Data) String() string               { return handleString("data", uintptr(d)) }

func handleString(kind string, h uintptr) string {
	if h == 0 {
		return kind + "(null)"
	}
	return kind + "(0x" + strconv.FormatUint(uint64(h), 16) + ")"
}

// ValueType is the result of a typeof query.
type ValueType int32

const (
	Undefined ValueType = iota
	Null
	Boolean
	Number
	String
	Symbol
	Object
	Function
	External
	Bigint
)

var valueTypeNames = [...]string{
	Undefined: "undefined",
	Null:      "null",
	Boolean:   "boolean",
	Number:    "number",
	String:    "string",
	Symbol:    "symbol",
	Object:    "object",
	Function:  "function",
	External:  "external",
	Bigint:    "bigint",
}

func (t ValueType) String() string {
	if t >= 0 && int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "valuetype(" + strconv.Itoa(int(t)) + ")"
}

// PropertyAttributes is a bit set controlling property behavior.
type PropertyAttributes uint32

const (
	DefaultAttributes PropertyAttributes = 0
	Writable          PropertyAttributes = 1 << 0
	Enumerable        PropertyAttributes = 1 << 1
	Configurable      PropertyAttributes = 1 << 2
	// Static marks class properties placed on the constructor.
	Static PropertyAttributes = 1 << 10

	DefaultMethod     = Writable | Configurable
	DefaultJSProperty = Writable | Enumerable | Configurable
)

// Has reports whether all bits of a are set.
func (p PropertyAttributes) Has(a PropertyAttributes) bool { return p&a == a }

// TsfnCallMode selects the queue-full behavior of a threadsafe call.
type TsfnCallMode int32

const (
	TsfnNonBlocking TsfnCallMode = iota
	TsfnBlocking
)

func (m TsfnCallMode) String() string {
	if m == TsfnBlocking {
		return "blocking"
	}
	return "nonblocking"
}

// TsfnReleaseMode selects how a threadsafe function is released.
type TsfnReleaseMode int32

const (
	TsfnRelease TsfnReleaseMode = iota
	TsfnAbort
)

func (m TsfnReleaseMode) String() string {
	if m == TsfnAbort {
		return "abort"
	}
	return "release"
}

// Callback is the signature of every function-like entry point registered
// with the host. The returned value must belong to an open scope; the null
// handle means undefined.
type Callback func(env Env, info CallbackInfo) Value

// Finalize runs once when the value that carries data becomes collectible.
type Finalize func(env Env, data, hint Data)

// AsyncExecute runs on a worker goroutine and must not touch handles.
type AsyncExecute func(env Env, data Data)

// AsyncComplete runs on the event loop after AsyncExecute or cancellation.
type AsyncComplete func(env Env, status Status, data Data)

// ThreadsafeCallJS runs on the event loop for every queued call. A null env
// means the queue is being torn down and data must only be released.
type ThreadsafeCallJS func(env Env, callback Value, context, data Data)

// PropertyDescriptor describes one property for DefineProperties and
// DefineClass. Exactly one of Method, Getter/Setter or Value is used.
type PropertyDescriptor struct {
	Utf8Name   string
	Name       Value
	Method     Callback
	Getter     Callback
	Setter     Callback
	Value      Value
	Attributes PropertyAttributes
	Data       Data
}

// ExtendedErrorInfo describes the last failed call on an environment.
type ExtendedErrorInfo struct {
	Message         string
	EngineReserved  Data
	EngineErrorCode uint32
	Status          Status
}

// CallbackArgs is the decoded content of a CallbackInfo.
type CallbackArgs struct {
	Args []Value
	This Value
	Data Data
}

// ModuleEntry is the single entry symbol of an addon. It returns the
// populated exports or the null handle after throwing.
type ModuleEntry func(host Host, env Env, exports Value) Value
