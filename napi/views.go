package napi

import (
	"time"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// View is a typed wrapper around a Value. Value itself is a View that
// accepts anything.
type View interface {
	AsValue() Value
	expect(Value) error
	wrap(Value) View
}

type (
	// Object is an object or function value.
	Object struct{ Value }
	// Array is an array object.
	Array struct{ Object }
	// Function is a callable object.
	Function struct{ Object }
	// Date is a date object.
	Date struct{ Object }
	// Promise is a promise object.
	Promise struct{ Object }
	// Error is an error object.
	Error struct{ Object }
	// ArrayBuffer is an array buffer object.
	ArrayBuffer struct{ Object }
	String      struct{ Value }
	Number      struct{ Value }
	Boolean     struct{ Value }
	BigInt      struct{ Value }
	Symbol      struct{ Value }
	// External carries a boxed Go value.
	External struct{ Value }
)

func expectType(v Value, status abi.Status, want ...abi.ValueType) error {
	t, err := v.Type()
	if err != nil {
		return err
	}
	for _, w := range want {
		if t == w {
			return nil
		}
	}
	return errors.Expected(errors.PhaseValue, status, t.String())
}

func expectClass(v Value, is func(abi.Host, abi.Env, abi.Value) (bool, abi.Status), status abi.Status) error {
	if err := v.bound(); err != nil {
		return err
	}
	ok, st := is(v.env.host, v.env.raw, v.raw)
	if err := v.env.check(errors.PhaseValue, "class check", st); err != nil {
		return err
	}
	if ok {
		return nil
	}
	got := "value"
	if k, err := v.Kind(); err == nil {
		got = k.String()
	}
	return errors.Expected(errors.PhaseValue, status, got)
}

func (Object) expect(v Value) error {
	return expectType(v, abi.StatusObjectExpected, abi.Object, abi.Function)
}
func (Object) wrap(v Value) View { return Object{v} }

func (Array) expect(v Value) error {
	return expectClass(v, abi.Host.IsArray, abi.StatusArrayExpected)
}
func (Array) wrap(v Value) View { return Array{Object{v}} }

func (Function) expect(v Value) error {
	return expectType(v, abi.StatusFunctionExpected, abi.Function)
}
func (Function) wrap(v Value) View { return Function{Object{v}} }

func (Date) expect(v Value) error {
	return expectClass(v, abi.Host.IsDate, abi.StatusDateExpected)
}
func (Date) wrap(v Value) View { return Date{Object{v}} }

func (Promise) expect(v Value) error {
	return expectClass(v, abi.Host.IsPromise, abi.StatusObjectExpected)
}
func (Promise) wrap(v Value) View { return Promise{Object{v}} }

func (Error) expect(v Value) error {
	return expectClass(v, abi.Host.IsError, abi.StatusObjectExpected)
}
func (Error) wrap(v Value) View { return Error{Object{v}} }

func (ArrayBuffer) expect(v Value) error {
	return expectClass(v, abi.Host.IsArrayBuffer, abi.StatusArraybufferExpected)
}
func (ArrayBuffer) wrap(v Value) View { return ArrayBuffer{Object{v}} }

func (String) expect(v Value) error { return expectType(v, abi.StatusStringExpected, abi.String) }
func (String) wrap(v Value) View    { return String{v} }

func (Number) expect(v Value) error { return expectType(v, abi.StatusNumberExpected, abi.Number) }
func (Number) wrap(v Value) View    { return Number{v} }

func (Boolean) expect(v Value) error { return expectType(v, abi.StatusBooleanExpected, abi.Boolean) }
func (Boolean) wrap(v Value) View    { return Boolean{v} }

func (BigInt) expect(v Value) error { return expectType(v, abi.StatusBigintExpected, abi.Bigint) }
func (BigInt) wrap(v Value) View    { return BigInt{v} }

func (Symbol) expect(v Value) error { return expectType(v, abi.StatusInvalidArg, abi.Symbol) }
func (Symbol) wrap(v Value) View    { return Symbol{v} }

func (External) expect(v Value) error { return expectType(v, abi.StatusInvalidArg, abi.External) }
func (External) wrap(v Value) View    { return External{v} }

// UTF8 returns the string contents.
func (s String) UTF8() (string, error) {
	out, st := s.env.host.GetValueStringUTF8(s.env.raw, s.raw)
	return out, s.env.check(errors.PhaseValue, "get string", st)
}

func (n Number) Float64() (float64, error) {
	f, st := n.env.host.GetValueDouble(n.env.raw, n.raw)
	return f, n.env.check(errors.PhaseValue, "get double", st)
}

// Int64 truncates toward zero and saturates at the int64 range. NaN and
// infinities read as zero.
func (n Number) Int64() (int64, error) {
	i, st := n.env.host.GetValueInt64(n.env.raw, n.raw)
	return i, n.env.check(errors.PhaseValue, "get int64", st)
}

func (n Number) Int32() (int32, error) {
	i, st := n.env.host.GetValueInt32(n.env.raw, n.raw)
	return i, n.env.check(errors.PhaseValue, "get int32", st)
}

func (n Number) Uint32() (uint32, error) {
	u, st := n.env.host.GetValueUint32(n.env.raw, n.raw)
	return u, n.env.check(errors.PhaseValue, "get uint32", st)
}

func (b Boolean) Bool() (bool, error) {
	out, st := b.env.host.GetValueBool(b.env.raw, b.raw)
	return out, b.env.check(errors.PhaseValue, "get bool", st)
}

// Int64 returns the value and whether the conversion was lossless.
func (b BigInt) Int64() (int64, bool, error) {
	i, lossless, st := b.env.host.GetValueBigintInt64(b.env.raw, b.raw)
	return i, lossless, b.env.check(errors.PhaseValue, "get bigint int64", st)
}

// Uint64 returns the value and whether the conversion was lossless.
func (b BigInt) Uint64() (uint64, bool, error) {
	u, lossless, st := b.env.host.GetValueBigintUint64(b.env.raw, b.raw)
	return u, lossless, b.env.check(errors.PhaseValue, "get bigint uint64", st)
}

// Millis returns milliseconds since the Unix epoch.
func (d Date) Millis() (float64, error) {
	ms, st := d.env.host.GetDateValue(d.env.raw, d.raw)
	return ms, d.env.check(errors.PhaseValue, "get date", st)
}

func (d Date) Time() (time.Time, error) {
	ms, err := d.Millis()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// Bytes returns the buffer's backing memory. It aliases host memory and is
// empty once the buffer is detached.
func (b ArrayBuffer) Bytes() ([]byte, error) {
	buf, st := b.env.host.GetArrayBufferInfo(b.env.raw, b.raw)
	return buf, b.env.check(errors.PhaseValue, "get array buffer", st)
}

func (b ArrayBuffer) Detach() error {
	return b.env.check(errors.PhaseValue, "detach array buffer", b.env.host.DetachArrayBuffer(b.env.raw, b.raw))
}

func (b ArrayBuffer) Detached() (bool, error) {
	d, st := b.env.host.IsDetachedArrayBuffer(b.env.raw, b.raw)
	return d, b.env.check(errors.PhaseValue, "is detached", st)
}

// Get returns the Go value boxed in the external.
func (x External) Get() (any, error) {
	data, st := x.env.host.GetValueExternal(x.env.raw, x.raw)
	if err := x.env.check(errors.PhaseValue, "get external", st); err != nil {
		return nil, err
	}
	v, ok := boxes.Borrow(data)
	if !ok {
		return nil, errors.Closing(errors.PhaseValue, "external value was reclaimed")
	}
	if b, ok := v.(*externalBox); ok {
		return b.value, nil
	}
	return v, nil
}

// ExternalValue returns the boxed value of x as a T.
func ExternalValue[T any](x External) (T, error) {
	var zero T
	v, err := x.Get()
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.New(errors.PhaseValue, abi.StatusInvalidArg).
			Op("external value").Value(v).Detail("external holds %T", v).Build()
	}
	return t, nil
}

// Message returns the error's message property.
func (e Error) Message() (string, error) { return e.stringProp("message") }

// Code returns the error's code property, empty when absent.
func (e Error) Code() (string, error) { return e.stringProp("code") }

// Name returns the error's name property.
func (e Error) Name() (string, error) { return e.stringProp("name") }

func (e Error) stringProp(name string) (string, error) {
	v, err := e.Get(name)
	if err != nil {
		return "", err
	}
	if v.IsUndefined() {
		return "", nil
	}
	return v.ToString()
}

// Undefined returns the undefined value.
func (env Env) Undefined() (Value, error) {
	v, st := env.host.GetUndefined(env.raw)
	return env.value(v), env.check(errors.PhaseValue, "get undefined", st)
}

// Null returns the null value.
func (env Env) Null() (Value, error) {
	v, st := env.host.GetNull(env.raw)
	return env.value(v), env.check(errors.PhaseValue, "get null", st)
}

// Global returns the global object.
func (env Env) Global() (Object, error) {
	v, st := env.host.GetGlobal(env.raw)
	return Object{env.value(v)}, env.check(errors.PhaseValue, "get global", st)
}

func (env Env) Bool(b bool) (Boolean, error) {
	v, st := env.host.GetBoolean(env.raw, b)
	return Boolean{env.value(v)}, env.check(errors.PhaseValue, "get boolean", st)
}

func (env Env) Float64(f float64) (Number, error) {
	v, st := env.host.CreateDouble(env.raw, f)
	return Number{env.value(v)}, env.check(errors.PhaseValue, "create double", st)
}

// Int64 creates a number. Values beyond 2^53 lose precision.
func (env Env) Int64(i int64) (Number, error) {
	v, st := env.host.CreateInt64(env.raw, i)
	return Number{env.value(v)}, env.check(errors.PhaseValue, "create int64", st)
}

func (env Env) Int32(i int32) (Number, error) {
	v, st := env.host.CreateInt32(env.raw, i)
	return Number{env.value(v)}, env.check(errors.PhaseValue, "create int32", st)
}

func (env Env) Uint32(u uint32) (Number, error) {
	v, st := env.host.CreateUint32(env.raw, u)
	return Number{env.value(v)}, env.check(errors.PhaseValue, "create uint32", st)
}

func (env Env) String(s string) (String, error) {
	v, st := env.host.CreateStringUTF8(env.raw, s)
	return String{env.value(v)}, env.check(errors.PhaseValue, "create string", st)
}

// Symbol creates a unique symbol with a description.
func (env Env) Symbol(description string) (Symbol, error) {
	d, err := env.String(description)
	if err != nil {
		return Symbol{}, err
	}
	v, st := env.host.CreateSymbol(env.raw, d.raw)
	return Symbol{env.value(v)}, env.check(errors.PhaseValue, "create symbol", st)
}

func (env Env) Object() (Object, error) {
	v, st := env.host.CreateObject(env.raw)
	return Object{env.value(v)}, env.check(errors.PhaseValue, "create object", st)
}

func (env Env) Array() (Array, error) {
	v, st := env.host.CreateArray(env.raw)
	return Array{Object{env.value(v)}}, env.check(errors.PhaseValue, "create array", st)
}

func (env Env) ArrayWithLength(n uint32) (Array, error) {
	v, st := env.host.CreateArrayWithLength(env.raw, n)
	return Array{Object{env.value(v)}}, env.check(errors.PhaseValue, "create array", st)
}

func (env Env) BigInt64(i int64) (BigInt, error) {
	v, st := env.host.CreateBigintInt64(env.raw, i)
	return BigInt{env.value(v)}, env.check(errors.PhaseValue, "create bigint", st)
}

func (env Env) BigUint64(u uint64) (BigInt, error) {
	v, st := env.host.CreateBigintUint64(env.raw, u)
	return BigInt{env.value(v)}, env.check(errors.PhaseValue, "create bigint", st)
}

// Date creates a date with millisecond precision.
func (env Env) Date(t time.Time) (Date, error) {
	v, st := env.host.CreateDate(env.raw, float64(t.UnixMilli()))
	return Date{Object{env.value(v)}}, env.check(errors.PhaseValue, "create date", st)
}

// ArrayBuffer creates a zeroed buffer of n bytes and returns its memory.
func (env Env) ArrayBuffer(n int) (ArrayBuffer, []byte, error) {
	v, buf, st := env.host.CreateArrayBuffer(env.raw, n)
	return ArrayBuffer{Object{env.value(v)}}, buf, env.check(errors.PhaseValue, "create array buffer", st)
}

type externalBox struct {
	value any
}

// External boxes v. The box is reclaimed when the host finalizes the
// external.
func (env Env) External(v any) (External, error) {
	token, err := boxes.Box(&externalBox{value: v})
	if err != nil {
		return External{}, errors.Wrap(errors.PhaseValue, abi.StatusGenericFailure, err, "box external")
	}
	raw, st := env.host.CreateExternal(env.raw, token, reclaimFinalizer, 0)
	if err := env.check(errors.PhaseValue, "create external", st); err != nil {
		boxes.Reclaim(token)
		return External{}, err
	}
	return External{env.value(raw)}, nil
}

func (env Env) newError(op string, create func(abi.Env, abi.Value, abi.Value) (abi.Value, abi.Status), code, msg string) (Error, error) {
	var codeRaw abi.Value
	if code != "" {
		c, err := env.String(code)
		if err != nil {
			return Error{}, err
		}
		codeRaw = c.raw
	}
	m, err := env.String(msg)
	if err != nil {
		return Error{}, err
	}
	v, st := create(env.raw, codeRaw, m.raw)
	return Error{Object{env.value(v)}}, env.check(errors.PhaseValue, op, st)
}

// NewError creates an Error object. An empty code is omitted.
func (env Env) NewError(code, msg string) (Error, error) {
	return env.newError("create error", env.host.CreateError, code, msg)
}

func (env Env) NewTypeError(code, msg string) (Error, error) {
	return env.newError("create type error", env.host.CreateTypeError, code, msg)
}

func (env Env) NewRangeError(code, msg string) (Error, error) {
	return env.newError("create range error", env.host.CreateRangeError, code, msg)
}
