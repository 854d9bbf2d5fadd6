package napi

import (
	"github.com/wippyai/addon-runtime/errors"
)

// Get reads a named property.
func (o Object) Get(name string) (Value, error) {
	v, st := o.env.host.GetNamedProperty(o.env.raw, o.raw, name)
	return o.env.value(v), o.env.check(errors.PhaseProperty, "get "+name, st)
}

// Set writes a named property.
func (o Object) Set(name string, v View) error {
	st := o.env.host.SetNamedProperty(o.env.raw, o.raw, name, v.AsValue().raw)
	return o.env.check(errors.PhaseProperty, "set "+name, st)
}

// Has reports whether the property exists on o or its prototype chain.
func (o Object) Has(name string) (bool, error) {
	b, st := o.env.host.HasNamedProperty(o.env.raw, o.raw, name)
	return b, o.env.check(errors.PhaseProperty, "has "+name, st)
}

// Delete removes an own property.
func (o Object) Delete(name string) (bool, error) {
	key, err := o.env.String(name)
	if err != nil {
		return false, err
	}
	return o.DeleteProperty(key)
}

// GetProperty reads a property by key value.
func (o Object) GetProperty(key View) (Value, error) {
	v, st := o.env.host.GetProperty(o.env.raw, o.raw, key.AsValue().raw)
	return o.env.value(v), o.env.check(errors.PhaseProperty, "get property", st)
}

// SetProperty writes a property by key value.
func (o Object) SetProperty(key, v View) error {
	st := o.env.host.SetProperty(o.env.raw, o.raw, key.AsValue().raw, v.AsValue().raw)
	return o.env.check(errors.PhaseProperty, "set property", st)
}

func (o Object) HasProperty(key View) (bool, error) {
	b, st := o.env.host.HasProperty(o.env.raw, o.raw, key.AsValue().raw)
	return b, o.env.check(errors.PhaseProperty, "has property", st)
}

func (o Object) DeleteProperty(key View) (bool, error) {
	b, st := o.env.host.DeleteProperty(o.env.raw, o.raw, key.AsValue().raw)
	return b, o.env.check(errors.PhaseProperty, "delete property", st)
}

// Keys returns the enumerable own string keys in insertion order.
func (o Object) Keys() ([]string, error) {
	v, st := o.env.host.GetPropertyNames(o.env.raw, o.raw)
	if err := o.env.check(errors.PhaseProperty, "property names", st); err != nil {
		return nil, err
	}
	names := Array{Object{o.env.value(v)}}
	vals, err := names.Values()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(vals))
	for i, k := range vals {
		if keys[i], err = k.ToString(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (o Object) Freeze() error {
	return o.env.check(errors.PhaseProperty, "freeze", o.env.host.ObjectFreeze(o.env.raw, o.raw))
}

func (o Object) Seal() error {
	return o.env.check(errors.PhaseProperty, "seal", o.env.host.ObjectSeal(o.env.raw, o.raw))
}

// InstanceOf reports whether ctor's prototype is on o's prototype chain.
func (o Object) InstanceOf(ctor Function) (bool, error) {
	b, st := o.env.host.InstanceOf(o.env.raw, o.raw, ctor.raw)
	return b, o.env.check(errors.PhaseProperty, "instanceof", st)
}

func (a Array) Len() (uint32, error) {
	n, st := a.env.host.GetArrayLength(a.env.raw, a.raw)
	return n, a.env.check(errors.PhaseValue, "array length", st)
}

// At reads element i.
func (a Array) At(i uint32) (Value, error) {
	v, st := a.env.host.GetElement(a.env.raw, a.raw, i)
	return a.env.value(v), a.env.check(errors.PhaseProperty, "get element", st)
}

// SetAt writes element i, growing the array when needed.
func (a Array) SetAt(i uint32, v View) error {
	return a.env.check(errors.PhaseProperty, "set element", a.env.host.SetElement(a.env.raw, a.raw, i, v.AsValue().raw))
}

func (a Array) HasAt(i uint32) (bool, error) {
	b, st := a.env.host.HasElement(a.env.raw, a.raw, i)
	return b, a.env.check(errors.PhaseProperty, "has element", st)
}

func (a Array) DeleteAt(i uint32) (bool, error) {
	b, st := a.env.host.DeleteElement(a.env.raw, a.raw, i)
	return b, a.env.check(errors.PhaseProperty, "delete element", st)
}

// Values reads every element.
func (a Array) Values() ([]Value, error) {
	n, err := a.Len()
	if err != nil {
		return nil, err
	}
	out := make([]Value, n)
	for i := range n {
		if out[i], err = a.At(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NewArrayOf creates an array holding vals.
func NewArrayOf[T View](env Env, vals ...T) (Array, error) {
	arr, err := env.ArrayWithLength(uint32(len(vals)))
	if err != nil {
		return Array{}, err
	}
	for i, v := range vals {
		if err := arr.SetAt(uint32(i), v); err != nil {
			return Array{}, err
		}
	}
	return arr, nil
}

// IsPromise reports whether v is a promise.
func IsPromise(v Value) (bool, error) {
	b, st := v.env.host.IsPromise(v.env.raw, v.raw)
	return b, v.env.check(errors.PhaseValue, "is promise", st)
}
