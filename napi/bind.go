package napi

import (
	"maps"
	"math"
	"reflect"
	"slices"
	"unicode"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// Exporter lets a receiver passed to Bind choose its export names. Each
// value must be a function with a bindable signature.
type Exporter interface {
	Exports() map[string]any
}

var (
	envType   = reflect.TypeFor[Env]()
	errorType = reflect.TypeFor[error]()
	viewType  = reflect.TypeFor[View]()
)

// Bind exports the methods of receiver on exports. Exported methods are
// named in lowerCamelCase ("ParseURL" becomes "parseURL"), unless receiver
// implements Exporter.
//
// Parameters may be Env (injected, consumes no argument), any View, string,
// bool, or a Go integer or float kind. A method returns at most one such
// value followed by an optional error.
func Bind(env Env, exports Object, receiver any) error {
	if receiver == nil {
		return errors.InvalidArg(errors.PhaseProperty, "nil receiver")
	}

	var props []Property
	if ex, ok := receiver.(Exporter); ok {
		funcs := ex.Exports()
		for _, name := range slices.Sorted(maps.Keys(funcs)) {
			m, err := newBoundMethod(name, reflect.ValueOf(funcs[name]))
			if err != nil {
				return err
			}
			props = append(props, Property{name: name, method: m, attrs: abi.DefaultJSProperty})
		}
	} else {
		rv := reflect.ValueOf(receiver)
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			method := rt.Method(i)
			if !method.IsExported() {
				continue
			}
			name := lowerCamel(method.Name)
			m, err := newBoundMethod(name, rv.Method(i))
			if err != nil {
				return err
			}
			props = append(props, Property{name: name, method: m, attrs: abi.DefaultJSProperty})
		}
	}
	if len(props) == 0 {
		return errors.New(errors.PhaseProperty, abi.StatusInvalidArg).
			Op("bind").Value(receiver).Detail("receiver has no exported methods").Build()
	}
	return exports.DefineProperties(props...)
}

type boundMethod struct {
	name   string
	fn     reflect.Value
	in     []reflect.Type
	result reflect.Type
	hasErr bool
}

func newBoundMethod(name string, fn reflect.Value) (*boundMethod, error) {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.PhaseProperty, abi.StatusInvalidArg).
			Op("bind").Path(name).Detail(format, args...).Build()
	}
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, invalid("export is not a function")
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, invalid("variadic functions are not bindable")
	}

	m := &boundMethod{name: name, fn: fn}
	for i := 0; i < ft.NumIn(); i++ {
		t := ft.In(i)
		if t != envType && !bindable(t) {
			return nil, invalid("parameter %d has unsupported type %s", i, t)
		}
		m.in = append(m.in, t)
	}

	outs := ft.NumOut()
	if outs > 0 && ft.Out(outs-1) == errorType {
		m.hasErr = true
		outs--
	}
	switch outs {
	case 0:
	case 1:
		if !bindable(ft.Out(0)) {
			return nil, invalid("result has unsupported type %s", ft.Out(0))
		}
		m.result = ft.Out(0)
	default:
		return nil, invalid("too many results")
	}
	return m, nil
}

func bindable(t reflect.Type) bool {
	if t.Implements(viewType) && t.Kind() == reflect.Struct {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (m *boundMethod) call(c *callContext) (Value, error) {
	in := make([]reflect.Value, len(m.in))
	pos := 0
	for i, t := range m.in {
		if t == envType {
			in[i] = reflect.ValueOf(c.env)
			continue
		}
		v, err := arg[Value](c.env, c.args, pos)
		if err != nil {
			return Value{}, err
		}
		rv, err := decodeReflect(v, t)
		if err != nil {
			return Value{}, errors.Argument(pos, err)
		}
		in[i] = rv
		pos++
	}

	out := m.fn.Call(in)
	if m.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return Value{}, e.Interface().(error)
		}
	}
	if m.result == nil {
		return c.env.Undefined()
	}
	return encodeReflect(c.env, out[0])
}

func decodeReflect(v Value, t reflect.Type) (reflect.Value, error) {
	if t.Implements(viewType) {
		proto := reflect.Zero(t).Interface().(View)
		if err := proto.expect(v); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(proto.wrap(v)), nil
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		s, err := As[String](v)
		if err != nil {
			return reflect.Value{}, err
		}
		str, err := s.UTF8()
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetString(str)
	case reflect.Bool:
		b, err := As[Boolean](v)
		if err != nil {
			return reflect.Value{}, err
		}
		x, err := b.Bool()
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(x)
	case reflect.Float32, reflect.Float64:
		f, err := numberArg(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := numberArg(v)
		if err != nil {
			return reflect.Value{}, err
		}
		i := int64(f)
		if f != math.Trunc(f) || out.OverflowInt(i) {
			return reflect.Value{}, errors.New(errors.PhaseArgument, abi.StatusNumberExpected).
				Value(f).Detail("number does not fit %s", t).Build()
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, err := numberArg(v)
		if err != nil {
			return reflect.Value{}, err
		}
		u := uint64(f)
		if f < 0 || f != math.Trunc(f) || out.OverflowUint(u) {
			return reflect.Value{}, errors.New(errors.PhaseArgument, abi.StatusNumberExpected).
				Value(f).Detail("number does not fit %s", t).Build()
		}
		out.SetUint(u)
	}
	return out, nil
}

func numberArg(v Value) (float64, error) {
	n, err := As[Number](v)
	if err != nil {
		return 0, err
	}
	return n.Float64()
}

func encodeReflect(env Env, rv reflect.Value) (Value, error) {
	if rv.Type().Implements(viewType) {
		return rv.Interface().(View).AsValue(), nil
	}
	var (
		view View
		err  error
	)
	switch rv.Kind() {
	case reflect.String:
		view, err = env.String(rv.String())
	case reflect.Bool:
		view, err = env.Bool(rv.Bool())
	case reflect.Float32, reflect.Float64:
		view, err = env.Float64(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		view, err = env.Int64(rv.Int())
	default:
		view, err = env.Float64(float64(rv.Uint()))
	}
	if err != nil {
		return Value{}, err
	}
	return view.AsValue(), nil
}

// lowerCamel lowers the leading capital run of a Go identifier, keeping
// the last capital of an initialism that starts the next word.
func lowerCamel(s string) string {
	runes := []rune(s)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	if n > 1 && n < len(runes) {
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
