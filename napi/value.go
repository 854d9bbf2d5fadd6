package napi

import (
	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// Kind is a value's type tag refined by object class.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindSymbol
	KindObject
	KindFunction
	KindExternal
	KindBigInt
	KindArray
	KindDate
	KindPromise
	KindError
	KindArrayBuffer
)

var kindNames = [...]string{
	KindUndefined:   "undefined",
	KindNull:        "null",
	KindBoolean:     "boolean",
	KindNumber:      "number",
	KindString:      "string",
	KindSymbol:      "symbol",
	KindObject:      "object",
	KindFunction:    "function",
	KindExternal:    "external",
	KindBigInt:      "bigint",
	KindArray:       "array",
	KindDate:        "date",
	KindPromise:     "promise",
	KindError:       "error",
	KindArrayBuffer: "arraybuffer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a type-erased handle. It is valid until the handle scope that
// created it closes.
type Value struct {
	env Env
	raw abi.Value
}

// ValueOf wraps a raw handle.
func ValueOf(env Env, raw abi.Value) Value {
	return Value{env: env, raw: raw}
}

// Raw returns the handle.
func (v Value) Raw() abi.Value { return v.raw }

// Env returns the environment the value belongs to.
func (v Value) Env() Env { return v.env }

// IsNull reports whether v is the null handle (not the null value).
func (v Value) IsNull() bool { return v.raw.IsNull() }

// AsValue returns v. Typed views inherit it, which lets them be passed
// wherever a Value is expected.
func (v Value) AsValue() Value { return v }

func (v Value) expect(Value) error { return nil }
func (v Value) wrap(x Value) View  { return x }

// Type returns the host type tag.
func (v Value) Type() (abi.ValueType, error) {
	if err := v.bound(); err != nil {
		return 0, err
	}
	t, st := v.env.host.TypeOf(v.env.raw, v.raw)
	return t, v.env.check(errors.PhaseValue, "typeof", st)
}

// bound fails for the zero Value, which belongs to no environment.
func (v Value) bound() error {
	if v.env.host == nil {
		return errors.InvalidArg(errors.PhaseValue, "value has no environment")
	}
	return nil
}

// Kind returns the type tag, refining objects into arrays, dates, promises,
// errors and array buffers.
func (v Value) Kind() (Kind, error) {
	t, err := v.Type()
	if err != nil {
		return 0, err
	}
	switch t {
	case abi.Undefined:
		return KindUndefined, nil
	case abi.Null:
		return KindNull, nil
	case abi.Boolean:
		return KindBoolean, nil
	case abi.Number:
		return KindNumber, nil
	case abi.String:
		return KindString, nil
	case abi.Symbol:
		return KindSymbol, nil
	case abi.Function:
		return KindFunction, nil
	case abi.External:
		return KindExternal, nil
	case abi.Bigint:
		return KindBigInt, nil
	}

	probes := []struct {
		is   func(abi.Env, abi.Value) (bool, abi.Status)
		kind Kind
	}{
		{v.env.host.IsArray, KindArray},
		{v.env.host.IsDate, KindDate},
		{v.env.host.IsPromise, KindPromise},
		{v.env.host.IsError, KindError},
		{v.env.host.IsArrayBuffer, KindArrayBuffer},
	}
	for _, p := range probes {
		ok, st := p.is(v.env.raw, v.raw)
		if err := v.env.check(errors.PhaseValue, "kind", st); err != nil {
			return 0, err
		}
		if ok {
			return p.kind, nil
		}
	}
	return KindObject, nil
}

// StrictEquals compares with ===.
func (v Value) StrictEquals(other Value) (bool, error) {
	b, st := v.env.host.StrictEquals(v.env.raw, v.raw, other.raw)
	return b, v.env.check(errors.PhaseValue, "strict equals", st)
}

// ToString coerces v to a string.
func (v Value) ToString() (string, error) {
	s, st := v.env.host.CoerceToString(v.env.raw, v.raw)
	if err := v.env.check(errors.PhaseValue, "coerce to string", st); err != nil {
		return "", err
	}
	return String{Value: v.env.value(s)}.UTF8()
}

// IsUndefined reports whether v is undefined.
func (v Value) IsUndefined() bool {
	t, err := v.Type()
	return err == nil && t == abi.Undefined
}

// IsNullValue reports whether v is the null value.
func (v Value) IsNullValue() bool {
	t, err := v.Type()
	return err == nil && t == abi.Null
}
