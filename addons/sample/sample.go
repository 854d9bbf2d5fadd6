// Package sample is the built-in addon shipped with addonrun. Importing it
// registers the addon under Name.
package sample

import (
	"fmt"
	"math"
	"strings"

	"github.com/wippyai/addon-runtime/errors"
	"github.com/wippyai/addon-runtime/napi"
)

// Name is the registry name of the addon.
const Name = "sample"

func init() {
	napi.Register(Name, Init)
}

// Init populates exports with the sample functions and the Counter class.
func Init(env napi.Env, exports napi.Object) (napi.Object, error) {
	if err := napi.Bind(env, exports, &arith{}); err != nil {
		return exports, err
	}
	if err := napi.Bind(env, exports, text{}); err != nil {
		return exports, err
	}

	fns := []struct {
		name  string
		build func(napi.Env) (napi.Function, error)
	}{
		{"describe", newDescribe},
		{"fail", newFail},
		{"square", newSquare},
		{"sum", newSum},
		{"Counter", defineCounter},
	}
	for _, f := range fns {
		fn, err := f.build(env)
		if err != nil {
			return exports, err
		}
		if err := exports.Set(f.name, fn); err != nil {
			return exports, err
		}
	}
	return exports, nil
}

// arith is bound method by method.
type arith struct{}

func (*arith) Add(a, b float64) float64 { return a + b }

func (*arith) Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.InvalidArg(errors.PhaseCallback, "division by zero")
	}
	return a / b, nil
}

// text picks its own export names.
type text struct{}

func (text) Exports() map[string]any {
	return map[string]any{
		"upper":  strings.ToUpper,
		"repeat": repeat,
		"words":  func(s string) int { return len(strings.Fields(s)) },
	}
}

func repeat(s string, n int) (string, error) {
	if n < 0 {
		return "", errors.InvalidArg(errors.PhaseCallback, "count must not be negative")
	}
	return strings.Repeat(s, n), nil
}

// sampleError is thrown by fail with its own code.
type sampleError struct {
	msg string
}

func (e *sampleError) Error() string { return e.msg }
func (e *sampleError) Code() string  { return "E_SAMPLE" }

func newFail(env napi.Env) (napi.Function, error) {
	return napi.NewFunction(env, "fail", func(_ napi.Value, args napi.Args1[napi.String]) (napi.Value, error) {
		msg, err := args.A1.UTF8()
		if err != nil {
			return napi.Value{}, err
		}
		return napi.Value{}, &sampleError{msg: msg}
	})
}

// newDescribe returns a function reporting the kind and string form of its
// argument.
func newDescribe(env napi.Env) (napi.Function, error) {
	return napi.NewFunction(env, "describe", func(_ napi.Value, args napi.Args1[napi.Value]) (napi.Object, error) {
		v := args.A1
		kind, err := v.Kind()
		if err != nil {
			return napi.Object{}, err
		}
		out, err := env.Object()
		if err != nil {
			return napi.Object{}, err
		}
		kindStr, err := env.String(kind.String())
		if err != nil {
			return napi.Object{}, err
		}
		if err := out.Set("kind", kindStr); err != nil {
			return napi.Object{}, err
		}
		if obj, err := napi.As[napi.Object](v); err == nil {
			keys, err := obj.Keys()
			if err != nil {
				return napi.Object{}, err
			}
			n, err := env.Int32(int32(len(keys)))
			if err != nil {
				return napi.Object{}, err
			}
			return out, out.Set("keys", n)
		}
		s, err := v.ToString()
		if err != nil {
			return napi.Object{}, err
		}
		str, err := env.String(s)
		if err != nil {
			return napi.Object{}, err
		}
		return out, out.Set("text", str)
	})
}

// newSum adds any number of numeric arguments.
func newSum(env napi.Env) (napi.Function, error) {
	return napi.NewFunction(env, "sum", func(_ napi.Value, args napi.Rest[napi.Number]) (napi.Number, error) {
		total := 0.0
		for _, n := range args.Items {
			f, err := n.Float64()
			if err != nil {
				return napi.Number{}, err
			}
			total += f
		}
		return env.Float64(total)
	})
}

// newSquare squares its argument on a worker and resolves a promise.
func newSquare(env napi.Env) (napi.Function, error) {
	return napi.NewFunction(env, "square", func(_ napi.Value, args napi.Args1[napi.Number]) (napi.Promise, error) {
		x, err := args.A1.Float64()
		if err != nil {
			return napi.Promise{}, err
		}
		return napi.SpawnPromise(env, "square", x,
			func(x *float64) error {
				if math.IsNaN(*x) {
					return errors.InvalidArg(errors.PhaseWork, "NaN input")
				}
				*x *= *x
				return nil
			},
			func(env napi.Env, x float64) (napi.Number, error) { return env.Float64(x) })
	})
}

// counter is the native state behind a Counter instance.
type counter struct {
	n    float64
	step float64
}

func counterOf(this napi.Value) (*counter, error) {
	obj, err := napi.As[napi.Object](this)
	if err != nil {
		return nil, err
	}
	return napi.Unwrap[*counter](obj)
}

func defineCounter(env napi.Env) (napi.Function, error) {
	return napi.DefineClass(env, "Counter",
		func(this napi.Object, args napi.Args2[napi.Value, napi.Value]) error {
			start, err := optionalFloat(args.A1, 0)
			if err != nil {
				return errors.Argument(0, err)
			}
			step, err := optionalFloat(args.A2, 1)
			if err != nil {
				return errors.Argument(1, err)
			}
			return napi.Wrap(this, &counter{n: start, step: step}, nil)
		},
		napi.Method("increment", func(this napi.Value, _ napi.Args0) (napi.Number, error) {
			c, err := counterOf(this)
			if err != nil {
				return napi.Number{}, err
			}
			c.n += c.step
			return env.Float64(c.n)
		}),
		napi.Method("toString", func(this napi.Value, _ napi.Args0) (napi.String, error) {
			c, err := counterOf(this)
			if err != nil {
				return napi.String{}, err
			}
			return env.String(fmt.Sprintf("Counter(%g)", c.n))
		}),
		napi.Accessor("value",
			func(this napi.Value) (napi.Number, error) {
				c, err := counterOf(this)
				if err != nil {
					return napi.Number{}, err
				}
				return env.Float64(c.n)
			},
			func(this napi.Value, v napi.Number) error {
				c, err := counterOf(this)
				if err != nil {
					return err
				}
				c.n, err = v.Float64()
				return err
			}),
	)
}

// optionalFloat reads a number argument, treating undefined as def.
func optionalFloat(v napi.Value, def float64) (float64, error) {
	if v.IsUndefined() {
		return def, nil
	}
	n, err := napi.As[napi.Number](v)
	if err != nil {
		return 0, err
	}
	return n.Float64()
}
