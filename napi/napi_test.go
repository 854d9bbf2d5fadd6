package napi

import (
	"context"
	"math"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
	"github.com/wippyai/addon-runtime/internal/capsule"
	"github.com/wippyai/addon-runtime/refhost"
)

func newHost(t *testing.T, mutate ...func(*refhost.Config)) *refhost.Host {
	t.Helper()
	cfg := refhost.DefaultConfig()
	cfg.Workers = 2
	cfg.DrainTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	h, err := refhost.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func load(t *testing.T, h *refhost.Host, init InitFunc) *refhost.Addon {
	t.Helper()
	a, err := h.Load(context.Background(), t.Name(), Entry(init))
	require.NoError(t, err)
	return a
}

// withEnv runs fn on the loop with an Env for a.
func withEnv(t *testing.T, h *refhost.Host, a *refhost.Addon, fn func(env Env)) {
	t.Helper()
	require.NoError(t, h.Do(context.Background(), func() error {
		fn(NewEnv(h, a.Env()))
		return nil
	}))
}

func emptyAddon(_ Env, exports Object) (Object, error) { return exports, nil }

func requireException(t *testing.T, err error) *refhost.Exception {
	t.Helper()
	var exc *refhost.Exception
	require.ErrorAs(t, err, &exc)
	return exc
}

func TestPrimitiveRoundTrips(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	withEnv(t, h, a, func(env Env) {
		for _, in := range []string{"", "héllo", "a\x00b"} {
			s, err := env.String(in)
			require.NoError(t, err)
			out, err := s.UTF8()
			require.NoError(t, err)
			assert.Equal(t, in, out)
		}

		for _, in := range []float64{0, math.Copysign(0, -1), 1.5, math.MaxFloat64, math.Inf(-1)} {
			n, err := env.Float64(in)
			require.NoError(t, err)
			out, err := n.Float64()
			require.NoError(t, err)
			assert.Equal(t, math.Float64bits(in), math.Float64bits(out))
		}

		for _, in := range []int64{math.MinInt64, -1, 0, math.MaxInt64} {
			b, err := env.BigInt64(in)
			require.NoError(t, err)
			out, lossless, err := b.Int64()
			require.NoError(t, err)
			assert.True(t, lossless)
			assert.Equal(t, in, out)
		}

		b, err := env.BigUint64(math.MaxUint64)
		require.NoError(t, err)
		u, lossless, err := b.Uint64()
		require.NoError(t, err)
		assert.True(t, lossless)
		assert.Equal(t, uint64(math.MaxUint64), u)

		flag, err := env.Bool(true)
		require.NoError(t, err)
		got, err := flag.Bool()
		require.NoError(t, err)
		assert.True(t, got)

		when := time.UnixMilli(1700000000123).UTC()
		d, err := env.Date(when)
		require.NoError(t, err)
		back, err := d.Time()
		require.NoError(t, err)
		assert.True(t, when.Equal(back))
	})
}

func TestKindsAndCasts(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	withEnv(t, h, a, func(env Env) {
		arr, err := env.Array()
		require.NoError(t, err)
		k, err := arr.Kind()
		require.NoError(t, err)
		assert.Equal(t, KindArray, k)

		assert.True(t, Is[Object](arr.Value))
		assert.True(t, Is[Array](arr.Value))
		assert.False(t, Is[Function](arr.Value))

		_, err = As[Number](arr.Value)
		assert.ErrorIs(t, err, errors.ErrNumberExpected)

		s, err := env.String("x")
		require.NoError(t, err)
		_, err = As[Object](s.Value)
		assert.ErrorIs(t, err, errors.ErrObjectExpected)
	})
}

func TestZeroValueCasts(t *testing.T) {
	var v Value

	_, err := As[Object](v)
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
	_, err = As[Array](v)
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
	_, err = As[Error](v)
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
	_, err = v.Kind()
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
	_, err = Unwrap[int](Object{})
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
	assert.ErrorIs(t, Wrap(Object{}, 1, nil), errors.ErrInvalidArg)

	assert.False(t, Is[Date](v))
	assert.False(t, Is[String](v))
	assert.False(t, v.IsUndefined())
}

func TestArgumentDecodeFailureSkipsClosure(t *testing.T) {
	h := newHost(t)
	var calls atomic.Int32
	a := load(t, h, func(env Env, exports Object) (Object, error) {
		greet, err := NewFunction(env, "greet", func(_ Value, args Args1[String]) (String, error) {
			calls.Add(1)
			name, err := args.A1.UTF8()
			if err != nil {
				return String{}, err
			}
			return env.String("hello, " + name)
		})
		if err != nil {
			return exports, err
		}
		return exports, exports.Set("greet", greet)
	})

	ctx := context.Background()
	out, err := a.Call(ctx, "greet", "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello, ada", out)

	_, err = a.Call(ctx, "greet", 42)
	exc := requireException(t, err)
	assert.Equal(t, "TypeError", exc.Name)
	assert.Equal(t, "string_expected", exc.Code)
	assert.Contains(t, exc.Message, "arguments[0]")

	_, err = a.Call(ctx, "greet")
	exc = requireException(t, err)
	assert.Equal(t, "string_expected", exc.Code)

	assert.Equal(t, int32(1), calls.Load())
}

func TestPanicBecomesException(t *testing.T) {
	h := newHost(t)
	a := load(t, h, func(env Env, exports Object) (Object, error) {
		boom, err := NewFunction(env, "boom", func(Value, Args0) (Value, error) {
			panic("kaboom")
		})
		if err != nil {
			return exports, err
		}
		return exports, exports.Set("boom", boom)
	})

	_, err := a.Call(context.Background(), "boom")
	exc := requireException(t, err)
	assert.Equal(t, PanicCode, exc.Code)
	assert.Contains(t, exc.Message, "kaboom")
	assert.NoError(t, h.Err())
}

// recordingHost records what Go callbacks hand back to the host.
type recordingHost struct {
	*refhost.Host
	returned []abi.ValueType
	nulls    int
}

func (r *recordingHost) CreateFunction(env abi.Env, name string, cb abi.Callback, data abi.Data) (abi.Value, abi.Status) {
	wrapped := func(e abi.Env, info abi.CallbackInfo) abi.Value {
		v := cb(e, info)
		if v.IsNull() {
			r.nulls++
			return v
		}
		typ, st := r.Host.TypeOf(e, v)
		if st == abi.StatusOK {
			r.returned = append(r.returned, typ)
		}
		return v
	}
	return r.Host.CreateFunction(env, name, wrapped, data)
}

func TestCallbacksReturnUndefined(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)
	rec := &recordingHost{Host: h}

	withEnv(t, h, a, func(env Env) {
		renv := Env{host: rec, raw: env.raw}
		empty, err := NewFunction(renv, "empty", func(Value, Args0) (Value, error) {
			return Value{}, nil
		})
		require.NoError(t, err)
		echo, err := NewFunction(renv, "echo", func(_ Value, args Args1[String]) (String, error) {
			return args.A1, nil
		})
		require.NoError(t, err)

		out, err := empty.Call(nil)
		require.NoError(t, err)
		assert.True(t, out.IsUndefined())

		_, err = echo.Call(nil)
		assert.ErrorIs(t, err, errors.ErrPendingException)
		_, err = env.GetAndClearLastException()
		require.NoError(t, err)
	})

	assert.Zero(t, rec.nulls)
	assert.Equal(t, []abi.ValueType{abi.Undefined, abi.Undefined}, rec.returned)
}

type codedError struct{}

func (codedError) Error() string { return "quota exceeded" }
func (codedError) Code() string  { return "E_QUOTA" }

func TestPendingExceptionIsPreserved(t *testing.T) {
	h := newHost(t)
	a := load(t, h, func(env Env, exports Object) (Object, error) {
		first, err := NewFunction(env, "first", func(Value, Args0) (Value, error) {
			if err := env.ThrowRangeError("E_FIRST", "first"); err != nil {
				return Value{}, err
			}
			return Value{}, errors.GenericFailure(errors.PhaseCallback, "second")
		})
		if err != nil {
			return exports, err
		}
		coded, err := NewFunction(env, "coded", func(Value, Args0) (Value, error) {
			return Value{}, codedError{}
		})
		if err != nil {
			return exports, err
		}
		if err := exports.Set("first", first); err != nil {
			return exports, err
		}
		return exports, exports.Set("coded", coded)
	})

	ctx := context.Background()
	_, err := a.Call(ctx, "first")
	exc := requireException(t, err)
	assert.Equal(t, "RangeError", exc.Name)
	assert.Equal(t, "E_FIRST", exc.Code)

	_, err = a.Call(ctx, "coded")
	exc = requireException(t, err)
	assert.Equal(t, "Error", exc.Name)
	assert.Equal(t, "E_QUOTA", exc.Code)
	assert.Equal(t, "quota exceeded", exc.Message)
}

// reclaimCounter counts capsule events for values matching pick.
type reclaimCounter struct {
	pick      func(any) bool
	reclaimed atomic.Int32
	stale     atomic.Int32
}

func (c *reclaimCounter) OnCapsuleEvent(ev capsule.Event) {
	switch ev.Type {
	case capsule.EventReclaimed:
		if c.pick(ev.Value) {
			c.reclaimed.Add(1)
		}
	case capsule.EventStaleReclaim:
		c.stale.Add(1)
	}
}

func TestClosureReclaimedOnceAfterCalls(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	counter := &reclaimCounter{pick: func(v any) bool {
		_, ok := v.(*funcBox[Args1[Number], *Args1[Number], Number])
		return ok
	}}
	boxes.Subscribe(counter)
	t.Cleanup(func() { boxes.Unsubscribe(counter) })

	before := boxes.Len()
	withEnv(t, h, a, func(env Env) {
		double, err := NewFunction(env, "double", func(_ Value, args Args1[Number]) (Number, error) {
			f, err := args.A1.Float64()
			if err != nil {
				return Number{}, err
			}
			return env.Float64(f * 2)
		})
		require.NoError(t, err)
		assert.Equal(t, before+1, boxes.Len())

		for i := range 5 {
			n, err := env.Int32(int32(i))
			require.NoError(t, err)
			out, err := double.Call(nil, n)
			require.NoError(t, err)
			f, err := UncheckedAs[Number](out).Float64()
			require.NoError(t, err)
			assert.Equal(t, float64(2*i), f)
		}
	})

	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, int32(1), counter.reclaimed.Load())
	assert.Equal(t, int32(0), counter.stale.Load())
	assert.Equal(t, before, boxes.Len())
}

func TestEscapableScope(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	withEnv(t, h, a, func(env Env) {
		v, err := env.WithEscapableScope(func() (Value, error) {
			s, err := env.String("kept")
			return s.Value, err
		})
		require.NoError(t, err)
		s, err := As[String](v)
		require.NoError(t, err)
		got, err := s.UTF8()
		require.NoError(t, err)
		assert.Equal(t, "kept", got)

		scope, err := env.OpenEscapableScope()
		require.NoError(t, err)
		inner, err := env.String("inner")
		require.NoError(t, err)
		_, err = scope.Escape(inner)
		require.NoError(t, err)
		_, err = scope.Escape(inner)
		assert.ErrorIs(t, err, errors.ErrEscapeCalledTwice)
		require.NoError(t, scope.Close())
		assert.NoError(t, scope.Close())
	})
}

func TestWeakRefAfterCollection(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	var weak, strong *Ref
	withEnv(t, h, a, func(env Env) {
		o1, err := env.Object()
		require.NoError(t, err)
		weak, err = NewRef(o1, 0)
		require.NoError(t, err)

		o2, err := env.Object()
		require.NoError(t, err)
		strong, err = NewRef(o2, 1)
		require.NoError(t, err)
	})

	require.NoError(t, h.GC(context.Background()))

	withEnv(t, h, a, func(env Env) {
		_, ok, err := weak.Deref()
		require.NoError(t, err)
		assert.False(t, ok)

		v, ok, err := strong.Deref()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, Is[Object](v))

		n, err := strong.Dec()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), n)

		require.NoError(t, weak.Delete())
		assert.ErrorIs(t, weak.Delete(), errors.ErrClosing)
	})
}

type widget struct {
	name string
}

func TestWrapLifecycle(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	var finalized atomic.Int32
	withEnv(t, h, a, func(env Env) {
		obj, err := env.Object()
		require.NoError(t, err)
		require.NoError(t, Wrap(obj, &widget{name: "w"}, func(Env, *widget) { finalized.Add(1) }))

		w, err := Unwrap[*widget](obj)
		require.NoError(t, err)
		assert.Equal(t, "w", w.name)

		_, err = Unwrap[string](obj)
		assert.ErrorIs(t, err, errors.ErrInvalidArg)

		w, err = RemoveWrap[*widget](obj)
		require.NoError(t, err)
		assert.Equal(t, "w", w.name)

		_, err = RemoveWrap[*widget](obj)
		assert.Error(t, err)
	})

	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, int32(0), finalized.Load())
}

func TestRemoveWrapTypeMismatchKeepsWrap(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	var finalized atomic.Int32
	withEnv(t, h, a, func(env Env) {
		obj, err := env.Object()
		require.NoError(t, err)
		require.NoError(t, Wrap(obj, 42, func(_ Env, n int) {
			assert.Equal(t, 42, n)
			finalized.Add(1)
		}))

		_, err = RemoveWrap[string](obj)
		assert.ErrorIs(t, err, errors.ErrInvalidArg)

		n, err := Unwrap[int](obj)
		require.NoError(t, err)
		assert.Equal(t, 42, n)
	})

	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, int32(1), finalized.Load())
}

func TestFinalizersRunOnceInOrder(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	var order []string
	withEnv(t, h, a, func(env Env) {
		obj, err := env.Object()
		require.NoError(t, err)
		require.NoError(t, AddFinalizer(obj, func(Env) { order = append(order, "added-1") }))
		require.NoError(t, Wrap(obj, "native", func(Env, string) { order = append(order, "wrap") }))
		require.NoError(t, AddFinalizer(obj, func(Env) { order = append(order, "added-2") }))
	})

	require.NoError(t, h.GC(context.Background()))
	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, []string{"wrap", "added-1", "added-2"}, order)
}

func TestExternalValue(t *testing.T) {
	h := newHost(t)
	a := load(t, h, emptyAddon)

	before := boxes.Len()
	withEnv(t, h, a, func(env Env) {
		x, err := env.External(&widget{name: "ext"})
		require.NoError(t, err)
		w, err := ExternalValue[*widget](x)
		require.NoError(t, err)
		assert.Equal(t, "ext", w.name)

		_, err = ExternalValue[int](x)
		assert.Error(t, err)
	})
	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, before, boxes.Len())
}

func TestInstanceDataAndTeardown(t *testing.T) {
	h := newHost(t)
	var hooks []string
	a := load(t, h, func(env Env, exports Object) (Object, error) {
		if err := SetInstanceData(env, &widget{name: "inst"}); err != nil {
			return exports, err
		}
		if err := env.OnTeardown(func() { hooks = append(hooks, "first") }); err != nil {
			return exports, err
		}
		return exports, env.OnTeardown(func() { hooks = append(hooks, "second") })
	})

	withEnv(t, h, a, func(env Env) {
		w, err := InstanceData[*widget](env)
		require.NoError(t, err)
		assert.Equal(t, "inst", w.name)
	})

	require.NoError(t, a.Unload(context.Background()))
	assert.Equal(t, []string{"second", "first"}, hooks)
	_, ok := lookupEnv(a.Env())
	assert.False(t, ok)
}

func TestInitFailures(t *testing.T) {
	h := newHost(t)
	ctx := context.Background()

	_, err := h.Load(ctx, "failing", Entry(func(_ Env, exports Object) (Object, error) {
		return exports, errors.InvalidArg(errors.PhaseModule, "bad config")
	}))
	assert.ErrorIs(t, err, errors.ErrPendingException)

	_, err = h.Load(ctx, "panicking", Entry(func(Env, Object) (Object, error) {
		panic("init exploded")
	}))
	require.ErrorIs(t, err, errors.ErrPendingException)
	exc := requireException(t, err)
	assert.Equal(t, PanicCode, exc.Code)
	assert.NoError(t, h.Err())
}

func TestBigIntArguments(t *testing.T) {
	h := newHost(t)
	a := load(t, h, func(env Env, exports Object) (Object, error) {
		next, err := NewFunction(env, "next", func(_ Value, args Args1[BigInt]) (BigInt, error) {
			u, lossless, err := args.A1.Uint64()
			if err != nil {
				return BigInt{}, err
			}
			if !lossless {
				return BigInt{}, errors.InvalidArg(errors.PhaseArgument, "bigint out of range")
			}
			return env.BigUint64(u + 1)
		})
		if err != nil {
			return exports, err
		}
		return exports, exports.Set("next", next)
	})

	out, err := a.Call(context.Background(), "next", new(big.Int).SetUint64(math.MaxUint64-1))
	require.NoError(t, err)
	assert.Equal(t, 0, new(big.Int).SetUint64(math.MaxUint64).Cmp(out.(*big.Int)))
}
