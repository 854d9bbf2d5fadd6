package refhost

import (
	"strconv"

	"github.com/wippyai/addon-runtime/abi"
)

func (h *Host) CreateObject(env abi.Env) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.newPlain(), abi.StatusOK })
}

func (h *Host) newArray(n int) *object {
	o := h.newPlain()
	o.class = classArray
	o.elems = make([]*object, n)
	for i := range o.elems {
		o.elems[i] = h.undefined
	}
	return o
}

func (h *Host) CreateArray(env abi.Env) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.newArray(0), abi.StatusOK })
}

func (h *Host) CreateArrayWithLength(env abi.Env, length uint32) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.newArray(int(length)), abi.StatusOK })
}

func (h *Host) GetArrayLength(env abi.Env, v abi.Value) (uint32, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return 0, st
	}
	if o.class != classArray {
		return 0, h.fail(e, abi.StatusArrayExpected, "value is not an array")
	}
	return uint32(len(o.elems)), abi.StatusOK
}

// target resolves a handle that must be an object or function.
func (h *Host) target(e *environment, v abi.Value) (*object, abi.Status) {
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return nil, st
	}
	if o.typ != abi.Object && o.typ != abi.Function {
		return nil, h.fail(e, abi.StatusObjectExpected, "expected object, got "+o.typ.String())
	}
	return o, abi.StatusOK
}

// propertyKey converts a key value into the internal key string.
func (h *Host) propertyKey(e *environment, key abi.Value) (string, abi.Status) {
	k, st := h.value(e, key)
	if st != abi.StatusOK {
		return "", st
	}
	switch k.typ {
	case abi.String:
		return k.str, abi.StatusOK
	case abi.Symbol:
		return symbolKey(k), abi.StatusOK
	case abi.Number:
		return formatNumber(k.num), abi.StatusOK
	}
	return "", h.fail(e, abi.StatusNameExpected, "property key must be a string, symbol or number")
}

func symbolKey(sym *object) string {
	return "@@symbol:" + strconv.FormatUint(sym.id, 10)
}

func arrayIndex(key string) (int, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	i, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, false
	}
	return int(i), true
}

func (h *Host) lookup(o *object, key string) (*property, bool) {
	for cur := o; cur != nil; cur = cur.proto {
		if p, ok := cur.props.get(key); ok {
			return p, true
		}
	}
	return nil, false
}

func (h *Host) getProp(e *environment, o *object, key string) (*object, abi.Status) {
	if o.class == classArray {
		if key == "length" {
			return h.newNumber(float64(len(o.elems))), abi.StatusOK
		}
		if i, ok := arrayIndex(key); ok {
			if i < len(o.elems) {
				return o.elems[i], abi.StatusOK
			}
			return h.undefined, abi.StatusOK
		}
	}
	if o.typ == abi.Function && key == "name" {
		return h.newString(o.fn.name), abi.StatusOK
	}
	if o.typ == abi.Function && key == "prototype" && o.fn.prototype != nil {
		return o.fn.prototype, abi.StatusOK
	}

	p, ok := h.lookup(o, key)
	if !ok {
		return h.undefined, abi.StatusOK
	}
	if p.accessor() {
		if p.getter == nil {
			return h.undefined, abi.StatusOK
		}
		return h.invoke(e, p.getter, o, nil, nil)
	}
	return p.value, abi.StatusOK
}

func (h *Host) setProp(e *environment, o *object, key string, val *object) abi.Status {
	if o.class == classArray {
		if i, ok := arrayIndex(key); ok {
			if o.frozen || (o.sealed && i >= len(o.elems)) {
				return h.throwReadOnly(e, key)
			}
			for len(o.elems) <= i {
				o.elems = append(o.elems, h.undefined)
			}
			o.elems[i] = val
			return abi.StatusOK
		}
	}

	if p, ok := o.props.get(key); ok {
		if p.accessor() {
			if p.setter == nil {
				return h.throwReadOnly(e, key)
			}
			_, st := h.invoke(e, p.setter, o, []*object{val}, nil)
			return st
		}
		if o.frozen || !p.attrs.Has(abi.Writable) {
			return h.throwReadOnly(e, key)
		}
		p.value = val
		return abi.StatusOK
	}

	if p, ok := h.lookup(o.proto, key); ok && p.accessor() {
		if p.setter == nil {
			return h.throwReadOnly(e, key)
		}
		_, st := h.invoke(e, p.setter, o, []*object{val}, nil)
		return st
	}

	if o.frozen || o.sealed {
		return h.throwReadOnly(e, key)
	}
	if o.props == nil {
		o.props = newPropMap()
	}
	o.props.set(key, &property{value: val, attrs: abi.DefaultJSProperty})
	return abi.StatusOK
}

func (h *Host) throwReadOnly(e *environment, key string) abi.Status {
	h.throwNew(e, "TypeError", "", "Cannot assign to read only property '"+key+"'")
	return h.fail(e, abi.StatusPendingException, "assignment to read only property")
}

func (h *Host) hasProp(o *object, key string) bool {
	if o.class == classArray {
		if key == "length" {
			return true
		}
		if i, ok := arrayIndex(key); ok {
			return i < len(o.elems)
		}
	}
	_, ok := h.lookup(o, key)
	return ok
}

func (h *Host) deleteProp(o *object, key string) bool {
	if o.frozen || o.sealed {
		return false
	}
	if o.class == classArray {
		if i, ok := arrayIndex(key); ok {
			if i < len(o.elems) {
				o.elems[i] = h.undefined
			}
			return true
		}
	}
	if p, ok := o.props.get(key); ok && !p.attrs.Has(abi.Configurable) {
		return false
	}
	o.props.remove(key)
	return true
}

func (h *Host) SetProperty(env abi.Env, obj, key, val abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	k, st := h.propertyKey(e, key)
	if st != abi.StatusOK {
		return st
	}
	v, st := h.value(e, val)
	if st != abi.StatusOK {
		return st
	}
	return h.setProp(e, o, k, v)
}

func (h *Host) GetProperty(env abi.Env, obj, key abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return 0, st
	}
	k, st := h.propertyKey(e, key)
	if st != abi.StatusOK {
		return 0, st
	}
	v, st := h.getProp(e, o, k)
	if st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, v)
}

func (h *Host) HasProperty(env abi.Env, obj, key abi.Value) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return false, st
	}
	k, st := h.propertyKey(e, key)
	if st != abi.StatusOK {
		return false, st
	}
	return h.hasProp(o, k), abi.StatusOK
}

func (h *Host) DeleteProperty(env abi.Env, obj, key abi.Value) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return false, st
	}
	k, st := h.propertyKey(e, key)
	if st != abi.StatusOK {
		return false, st
	}
	return h.deleteProp(o, k), abi.StatusOK
}

func (h *Host) SetNamedProperty(env abi.Env, obj abi.Value, name string, val abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	v, st := h.value(e, val)
	if st != abi.StatusOK {
		return st
	}
	return h.setProp(e, o, name, v)
}

func (h *Host) GetNamedProperty(env abi.Env, obj abi.Value, name string) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return 0, st
	}
	v, st := h.getProp(e, o, name)
	if st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, v)
}

func (h *Host) HasNamedProperty(env abi.Env, obj abi.Value, name string) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return false, st
	}
	return h.hasProp(o, name), abi.StatusOK
}

// ownKeys lists enumerable own string keys, array indices first.
func (h *Host) ownKeys(o *object) []string {
	var keys []string
	if o.class == classArray {
		for i := range o.elems {
			keys = append(keys, strconv.Itoa(i))
		}
	}
	if o.props != nil {
		for _, k := range o.props.keys {
			p := o.props.byKey[k]
			if p.attrs.Has(abi.Enumerable) && !isSymbolKey(k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func isSymbolKey(k string) bool {
	return len(k) > 9 && k[:9] == "@@symbol:"
}

func (h *Host) GetPropertyNames(env abi.Env, obj abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return 0, st
	}
	keys := h.ownKeys(o)
	arr := h.newArray(len(keys))
	for i, k := range keys {
		arr.elems[i] = h.newString(k)
	}
	return h.handle(e, arr)
}

func (h *Host) SetElement(env abi.Env, obj abi.Value, index uint32, val abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	v, st := h.value(e, val)
	if st != abi.StatusOK {
		return st
	}
	return h.setProp(e, o, strconv.FormatUint(uint64(index), 10), v)
}

func (h *Host) GetElement(env abi.Env, obj abi.Value, index uint32) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return 0, st
	}
	v, st := h.getProp(e, o, strconv.FormatUint(uint64(index), 10))
	if st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, v)
}

func (h *Host) HasElement(env abi.Env, obj abi.Value, index uint32) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return false, st
	}
	return h.hasProp(o, strconv.FormatUint(uint64(index), 10)), abi.StatusOK
}

func (h *Host) DeleteElement(env abi.Env, obj abi.Value, index uint32) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return false, st
	}
	return h.deleteProp(o, strconv.FormatUint(uint64(index), 10)), abi.StatusOK
}

// defineOn installs descriptors on o. Method, getter and setter callbacks
// become function objects owned by e.
func (h *Host) defineOn(e *environment, o *object, props []abi.PropertyDescriptor) abi.Status {
	for i := range props {
		d := &props[i]
		key := d.Utf8Name
		if key == "" {
			if d.Name.IsNull() {
				return h.fail(e, abi.StatusNameExpected, "property descriptor without a name")
			}
			k, st := h.propertyKey(e, d.Name)
			if st != abi.StatusOK {
				return st
			}
			key = k
		}

		p := &property{attrs: d.Attributes &^ abi.Static}
		switch {
		case d.Method != nil:
			p.value = h.newFunction(e, key, d.Method, d.Data)
		case d.Getter != nil || d.Setter != nil:
			if d.Getter != nil {
				p.getter = h.newFunction(e, key, d.Getter, d.Data)
			}
			if d.Setter != nil {
				p.setter = h.newFunction(e, key, d.Setter, d.Data)
			}
		default:
			if d.Value.IsNull() {
				p.value = h.undefined
			} else {
				v, st := h.value(e, d.Value)
				if st != abi.StatusOK {
					return st
				}
				p.value = v
			}
		}
		if o.props == nil {
			o.props = newPropMap()
		}
		o.props.set(key, p)
	}
	return abi.StatusOK
}

func (h *Host) DefineProperties(env abi.Env, obj abi.Value, props []abi.PropertyDescriptor) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	if o.frozen || o.sealed {
		return h.fail(e, abi.StatusGenericFailure, "cannot define properties on a sealed object")
	}
	return h.defineOn(e, o, props)
}

func (h *Host) ObjectFreeze(env abi.Env, obj abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	o.frozen = true
	o.sealed = true
	return abi.StatusOK
}

func (h *Host) ObjectSeal(env abi.Env, obj abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	o.sealed = true
	return abi.StatusOK
}

func (h *Host) InstanceOf(env abi.Env, obj, ctor abi.Value) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.value(e, obj)
	if st != abi.StatusOK {
		return false, st
	}
	c, st := h.value(e, ctor)
	if st != abi.StatusOK {
		return false, st
	}
	if c.typ != abi.Function {
		return false, h.fail(e, abi.StatusFunctionExpected, "constructor must be a function")
	}
	if c.fn.prototype == nil {
		return false, abi.StatusOK
	}
	for p := o.proto; p != nil; p = p.proto {
		if p == c.fn.prototype {
			return true, abi.StatusOK
		}
	}
	return false, abi.StatusOK
}
