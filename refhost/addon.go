package refhost

import (
	"context"
	"maps"
	"math"
	"math/big"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

const maxConvertDepth = 32

// Addon is a loaded module: an environment plus its exports object.
type Addon struct {
	host    *Host
	env     *environment
	exports abi.Ref
	name    string
}

// Promise is the Go side of a host promise returned from a call.
type Promise struct {
	state *promiseState
}

// Load creates an environment for name and runs entry against a fresh
// exports object. A thrown exception or a null return fails the load.
func (h *Host) Load(ctx context.Context, name string, entry abi.ModuleEntry) (*Addon, error) {
	if entry == nil {
		return nil, errors.InvalidArg(errors.PhaseModule, "nil module entry")
	}
	var a *Addon
	err := h.Do(ctx, func() error {
		e := h.newEnv(name)
		exports := h.newPlain()
		ev, st := h.handle(e, exports)
		if st != abi.StatusOK {
			return errors.Check(errors.PhaseModule, "load "+name, st)
		}

		var ret abi.Value
		h.guard("module "+name, func() {
			ret = entry(h, e.id, ev)
		})
		if ferr := h.Err(); ferr != nil {
			return ferr
		}
		if exc := h.takeException(e); exc != nil {
			return errors.New(errors.PhaseModule, abi.StatusPendingException).
				Op("load " + name).Cause(exc).Build()
		}
		if ret.IsNull() {
			return errors.New(errors.PhaseModule, abi.StatusGenericFailure).
				Op("load " + name).Detail("module entry returned no exports").Build()
		}
		out, ok := h.resolve(ret)
		if !ok {
			return errors.InvalidArg(errors.PhaseModule, "module entry returned a stale handle")
		}
		a = &Addon{host: h, env: e, exports: h.newRef(e, out, 1), name: name}
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.log.Debug("addon loaded", zap.String("addon", name), zap.Uint64("env", uint64(a.env.id)))
	return a, nil
}

func (h *Host) takeException(e *environment) *Exception {
	if e.exception == nil {
		return nil
	}
	exc := h.exceptionFrom(e.exception)
	e.exception = nil
	return exc
}

// Name returns the name the addon was loaded under.
func (a *Addon) Name() string { return a.name }

// Env returns the addon's environment handle.
func (a *Addon) Env() abi.Env { return a.env.id }

func (a *Addon) exportsObject() (*object, error) {
	r, ok := a.host.refs[a.exports]
	if !ok || r.target == nil || a.env.torn {
		return nil, errors.Closing(errors.PhaseModule, "addon "+a.name+" was unloaded")
	}
	return r.target, nil
}

// Exports lists the names of the addon's exported properties.
func (a *Addon) Exports(ctx context.Context) ([]string, error) {
	var names []string
	err := a.host.Do(ctx, func() error {
		o, err := a.exportsObject()
		if err != nil {
			return err
		}
		for _, k := range a.host.ownKeys(o) {
			if !isSymbolKey(k) {
				names = append(names, k)
			}
		}
		return nil
	})
	return names, err
}

// Call invokes the exported function name with args converted to host
// values and converts the result back. A thrown exception is returned as
// *Exception.
func (a *Addon) Call(ctx context.Context, name string, args ...any) (any, error) {
	h := a.host
	var result any
	err := h.Do(ctx, func() error {
		exports, err := a.exportsObject()
		if err != nil {
			return err
		}
		fn, st := h.getProp(a.env, exports, name)
		if st != abi.StatusOK {
			if exc := h.takeException(a.env); exc != nil {
				return exc
			}
			return errors.Check(errors.PhaseHost, "get "+name, st)
		}
		if fn.typ != abi.Function {
			if fn.typ == abi.Undefined {
				return errors.NotFound(errors.PhaseHost, "export", name)
			}
			return errors.New(errors.PhaseHost, abi.StatusFunctionExpected).
				Op("call "+name).Detail("export is a %s", fn.typ).Build()
		}

		argv := make([]*object, len(args))
		for i, arg := range args {
			if argv[i], err = h.fromGo(arg); err != nil {
				return errors.Argument(i, err)
			}
		}

		out, st := h.invoke(a.env, fn, exports, argv, nil)
		if ferr := h.Err(); ferr != nil {
			return ferr
		}
		if st == abi.StatusPendingException {
			if exc := h.takeException(a.env); exc != nil {
				return exc
			}
		}
		if st != abi.StatusOK {
			return errors.New(errors.PhaseHost, st).Op("call "+name).Detail("%s", a.env.lastError.Message).Build()
		}
		result = h.toGo(out, 0)
		return nil
	})
	return result, err
}

// Unload tears the addon's environment down and runs its instance data
// finalizer. Values it created stay alive until collected.
func (a *Addon) Unload(ctx context.Context) error {
	h := a.host
	return h.Do(ctx, func() error {
		delete(h.refs, a.exports)
		h.teardownEnv(a.env)
		return nil
	})
}

// Await blocks until the promise settles. A rejection is returned as
// *Exception.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.state.settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.state.status == promiseRejected {
		return nil, p.state.reason
	}
	return p.state.goValue, nil
}

// Settled reports whether the promise has been resolved or rejected.
func (p *Promise) Settled() bool {
	select {
	case <-p.state.settled:
		return true
	default:
		return false
	}
}

// toGo converts a host value to its Go form. Accessor properties are not
// invoked.
func (h *Host) toGo(o *object, depth int) any {
	if o == nil {
		return nil
	}
	switch o.typ {
	case abi.Undefined, abi.Null:
		return nil
	case abi.Boolean:
		return o.b
	case abi.Number:
		return o.num
	case abi.String:
		return o.str
	case abi.Bigint:
		return new(big.Int).Set(o.big)
	case abi.External:
		return o.ext.data
	case abi.Symbol, abi.Function:
		return h.display(o)
	}

	if depth >= maxConvertDepth {
		return h.display(o)
	}
	switch o.class {
	case classArray:
		out := make([]any, len(o.elems))
		for i, el := range o.elems {
			out[i] = h.toGo(el, depth+1)
		}
		return out
	case classError:
		return h.exceptionFrom(o)
	case classDate:
		return time.UnixMilli(int64(o.num)).UTC()
	case classPromise:
		return &Promise{state: o.promise}
	case classArrayBuffer:
		return append([]byte(nil), o.buf...)
	}

	out := make(map[string]any)
	for _, k := range o.props.keys {
		p := o.props.byKey[k]
		if isSymbolKey(k) || p.accessor() {
			continue
		}
		out[k] = h.toGo(p.value, depth+1)
	}
	return out
}

// fromGo converts a Go value to a new host value.
func (h *Host) fromGo(v any) (*object, error) {
	switch x := v.(type) {
	case nil:
		return h.undefined, nil
	case bool:
		return h.boolean(x), nil
	case string:
		return h.newString(x), nil
	case float64:
		return h.newNumber(x), nil
	case float32:
		return h.newNumber(float64(x)), nil
	case int:
		return h.newNumber(float64(x)), nil
	case int8:
		return h.newNumber(float64(x)), nil
	case int16:
		return h.newNumber(float64(x)), nil
	case int32:
		return h.newNumber(float64(x)), nil
	case int64:
		return h.newNumber(float64(x)), nil
	case uint:
		return h.newNumber(float64(x)), nil
	case uint8:
		return h.newNumber(float64(x)), nil
	case uint16:
		return h.newNumber(float64(x)), nil
	case uint32:
		return h.newNumber(float64(x)), nil
	case uint64:
		if x > 1<<53 {
			return h.newBigInt(new(big.Int).SetUint64(x)), nil
		}
		return h.newNumber(float64(x)), nil
	case *big.Int:
		if x == nil {
			return h.undefined, nil
		}
		return h.newBigInt(new(big.Int).Set(x)), nil
	case time.Time:
		return h.newDate(float64(x.UnixMilli())), nil
	case []byte:
		o := h.newPlain()
		o.class = classArrayBuffer
		o.buf = append([]byte(nil), x...)
		return o, nil
	case []any:
		arr := h.newArray(len(x))
		for i, el := range x {
			conv, err := h.fromGo(el)
			if err != nil {
				return nil, err
			}
			arr.elems[i] = conv
		}
		return arr, nil
	case []string:
		arr := h.newArray(len(x))
		for i, el := range x {
			arr.elems[i] = h.newString(el)
		}
		return arr, nil
	case map[string]any:
		o := h.newPlain()
		for _, k := range slices.Sorted(maps.Keys(x)) {
			conv, err := h.fromGo(x[k])
			if err != nil {
				return nil, err
			}
			o.props.set(k, &property{value: conv, attrs: abi.DefaultJSProperty})
		}
		return o, nil
	}
	return nil, errors.New(errors.PhaseValue, abi.StatusInvalidArg).
		Op("convert").Value(v).Detail("unsupported Go type %T", v).Build()
}

// Number converts a call result to float64, accepting any numeric Go form
// produced by toGo.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, !math.IsInf(f, 0)
	}
	return 0, false
}
