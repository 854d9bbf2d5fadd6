package napi

import (
	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// Property describes one property for DefineProperties and DefineClass.
// Build it with Method, Getter, Accessor or DataProperty.
type Property struct {
	name   string
	key    Value
	method callable
	access *accessorBox
	value  Value
	attrs  abi.PropertyAttributes
}

// Method is a function-valued property.
func Method[A any, PA Arguments[A], R View](name string, fn func(this Value, args A) (R, error)) Property {
	p := Property{name: name, attrs: abi.DefaultMethod}
	if fn != nil {
		p.method = &funcBox[A, PA, R]{fn: fn}
	}
	return p
}

// Getter is a read-only accessor property.
func Getter[R View](name string, get func(this Value) (R, error)) Property {
	p := Property{name: name, attrs: abi.Enumerable | abi.Configurable}
	if get != nil {
		p.access = &accessorBox{get: getterBox[R](get)}
	}
	return p
}

// Accessor is a property with both a getter and a setter. The value
// passed to set is decoded as a V.
func Accessor[R, V View](name string, get func(this Value) (R, error), set func(this Value, v V) error) Property {
	p := Property{name: name, attrs: abi.Enumerable | abi.Configurable}
	if get != nil || set != nil {
		p.access = &accessorBox{}
		if get != nil {
			p.access.get = getterBox[R](get)
		}
		if set != nil {
			p.access.put = setterBox[V](set)
		}
	}
	return p
}

// DataProperty is a plain value property.
func DataProperty(name string, v View) Property {
	p := Property{name: name, attrs: abi.DefaultJSProperty}
	if v != nil {
		p.value = v.AsValue()
	}
	return p
}

// WithKey keys the property by a value, typically a symbol, instead of
// its name.
func (p Property) WithKey(key View) Property {
	p.key = key.AsValue()
	return p
}

// WithAttributes replaces the property attributes.
func (p Property) WithAttributes(attrs abi.PropertyAttributes) Property {
	p.attrs = attrs | (p.attrs & abi.Static)
	return p
}

// Static places a class property on the constructor instead of the
// prototype.
func (p Property) Static() Property {
	p.attrs |= abi.Static
	return p
}

type getterBox[R View] func(this Value) (R, error)

func (g getterBox[R]) call(c *callContext) (Value, error) {
	r, err := g(c.this)
	if err != nil {
		return Value{}, err
	}
	return r.AsValue(), nil
}

type setterBox[V View] func(this Value, v V) error

func (s setterBox[V]) set(c *callContext) error {
	v, err := arg[V](c.env, c.args, 0)
	if err != nil {
		return err
	}
	return s(c.this, v)
}

// accessorBox holds both halves of an accessor under one token.
type accessorBox struct {
	get callable
	put setter
}

func (a *accessorBox) call(c *callContext) (Value, error) {
	if a.get == nil {
		return c.env.Undefined()
	}
	return a.get.call(c)
}

func (a *accessorBox) set(c *callContext) error {
	if a.put == nil {
		return errors.GenericFailure(errors.PhaseProperty, "property has no setter")
	}
	return a.put.set(c)
}

// descriptors lowers props. Every returned token must be reclaimed by the
// caller, on failure through reclaimAll.
func descriptors(props []Property) ([]abi.PropertyDescriptor, []abi.Data, error) {
	descs := make([]abi.PropertyDescriptor, 0, len(props))
	var tokens []abi.Data
	for i, p := range props {
		if p.name == "" && p.key.IsNull() {
			reclaimAll(tokens)
			return nil, nil, errors.New(errors.PhaseProperty, abi.StatusInvalidArg).
				Op("define properties").Detail("property %d has no name", i).Build()
		}
		d := abi.PropertyDescriptor{Utf8Name: p.name, Attributes: p.attrs}
		if p.name == "" {
			d.Name = p.key.raw
		}
		switch {
		case p.method != nil:
			token, err := box(errors.PhaseProperty, p.method)
			if err != nil {
				reclaimAll(tokens)
				return nil, nil, err
			}
			tokens = append(tokens, token)
			d.Method, d.Data = trampoline, token
		case p.access != nil:
			token, err := box(errors.PhaseProperty, p.access)
			if err != nil {
				reclaimAll(tokens)
				return nil, nil, err
			}
			tokens = append(tokens, token)
			d.Data = token
			if p.access.get != nil {
				d.Getter = trampoline
			}
			if p.access.put != nil {
				d.Setter = setterTrampoline
			}
		case !p.value.IsNull():
			d.Value = p.value.raw
		default:
			reclaimAll(tokens)
			return nil, nil, errors.New(errors.PhaseProperty, abi.StatusInvalidArg).
				Op("define properties").Path(p.name).Detail("property has no value, method or accessor").Build()
		}
		descs = append(descs, d)
	}
	return descs, tokens, nil
}

func reclaimAll(tokens []abi.Data) {
	for _, t := range tokens {
		boxes.Reclaim(t)
	}
}

// attachAll ties every token to owner's lifetime.
func attachAll(owner Object, tokens []abi.Data) error {
	for i, t := range tokens {
		if err := attachReclaim(owner, t); err != nil {
			reclaimAll(tokens[i+1:])
			return err
		}
	}
	return nil
}

// DefineProperties installs props on o. Closures backing methods and
// accessors live as long as o.
func (o Object) DefineProperties(props ...Property) error {
	descs, tokens, err := descriptors(props)
	if err != nil {
		return err
	}
	st := o.env.host.DefineProperties(o.env.raw, o.raw, descs)
	if err := o.env.check(errors.PhaseProperty, "define properties", st); err != nil {
		reclaimAll(tokens)
		return err
	}
	return attachAll(o, tokens)
}

type ctorBox[A any, PA Arguments[A]] struct {
	fn func(this Object, args A) error
}

func (b *ctorBox[A, PA]) call(c *callContext) (Value, error) {
	if c.newTarget.IsNull() {
		return Value{}, errors.New(errors.PhaseCallback, abi.StatusFunctionExpected).
			Op("construct").Detail("class constructor cannot be invoked without new").Build()
	}
	this, err := As[Object](c.this)
	if err != nil {
		return Value{}, errors.New(errors.PhaseCallback, abi.StatusObjectExpected).
			Op("construct").Cause(err).Detail("class constructor called without an instance").Build()
	}
	var a A
	if err := PA(&a).decode(c.env, c.args); err != nil {
		return Value{}, err
	}
	if err := b.fn(this, a); err != nil {
		return Value{}, err
	}
	return c.this, nil
}

// DefineClass defines a class whose constructor runs ctor on each new
// instance. Static properties land on the class, the rest on its
// prototype.
func DefineClass[A any, PA Arguments[A]](env Env, name string, ctor func(this Object, args A) error, props ...Property) (Function, error) {
	if name == "" {
		return Function{}, errors.NameExpected(errors.PhaseProperty, "class")
	}
	if ctor == nil {
		return Function{}, errors.InvalidArg(errors.PhaseProperty, "nil constructor")
	}
	descs, tokens, err := descriptors(props)
	if err != nil {
		return Function{}, err
	}
	token, err := box(errors.PhaseProperty, &ctorBox[A, PA]{fn: ctor})
	if err != nil {
		reclaimAll(tokens)
		return Function{}, err
	}
	tokens = append(tokens, token)

	raw, st := env.host.DefineClass(env.raw, name, trampoline, token, descs)
	if err := env.check(errors.PhaseProperty, "define class "+name, st); err != nil {
		reclaimAll(tokens)
		return Function{}, err
	}
	cls := Function{Object{env.value(raw)}}
	if err := attachAll(cls.Object, tokens); err != nil {
		return Function{}, err
	}
	return cls, nil
}
