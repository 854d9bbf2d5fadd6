package refhost

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/addon-runtime/abi"
)

func newTestHost(t *testing.T, mutate ...func(*Config)) *Host {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.DrainTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// newTestEnv registers a bare environment without loading a module.
func newTestEnv(t *testing.T, h *Host) abi.Env {
	t.Helper()
	var env abi.Env
	require.NoError(t, h.Do(context.Background(), func() error {
		env = h.newEnv(t.Name()).id
		return nil
	}))
	return env
}

func do(t *testing.T, h *Host, fn func()) {
	t.Helper()
	require.NoError(t, h.Do(context.Background(), func() error {
		fn()
		return nil
	}))
}

func TestOffLoopCallsFail(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	_, st := h.CreateObject(env)
	assert.Equal(t, abi.StatusGenericFailure, st)
}

func TestUnknownEnvIsInvalidArg(t *testing.T) {
	h := newTestHost(t)
	do(t, h, func() {
		_, st := h.CreateObject(abi.Env(1 << 40))
		assert.Equal(t, abi.StatusInvalidArg, st)
	})
}

func TestHandleStaleAfterScopeClose(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		scope, st := h.OpenHandleScope(env)
		require.Equal(t, abi.StatusOK, st)
		v, st := h.CreateStringUTF8(env, "hello")
		require.Equal(t, abi.StatusOK, st)

		s, st := h.GetValueStringUTF8(env, v)
		require.Equal(t, abi.StatusOK, st)
		assert.Equal(t, "hello", s)

		require.Equal(t, abi.StatusOK, h.CloseHandleScope(env, scope))
		_, st = h.GetValueStringUTF8(env, v)
		assert.Equal(t, abi.StatusInvalidArg, st)

		info, st := h.GetLastErrorInfo(env)
		require.Equal(t, abi.StatusOK, st)
		assert.Equal(t, abi.StatusInvalidArg, info.Status)
		assert.Contains(t, info.Message, "stale")
	})
}

func TestScopesCloseInReverseOrder(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		outer, _ := h.OpenHandleScope(env)
		inner, _ := h.OpenHandleScope(env)

		assert.Equal(t, abi.StatusHandleScopeMismatch, h.CloseHandleScope(env, outer))
		assert.Equal(t, abi.StatusOK, h.CloseHandleScope(env, inner))
		assert.Equal(t, abi.StatusOK, h.CloseHandleScope(env, outer))
		assert.Equal(t, abi.StatusInvalidArg, h.CloseHandleScope(env, outer))
	})
}

func TestEscapeOnlyOnce(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		scope, st := h.OpenEscapableHandleScope(env)
		require.Equal(t, abi.StatusOK, st)
		v, _ := h.CreateDouble(env, 42)

		escaped, st := h.EscapeHandle(env, scope, v)
		require.Equal(t, abi.StatusOK, st)
		_, st = h.EscapeHandle(env, scope, v)
		assert.Equal(t, abi.StatusEscapeCalledTwice, st)

		require.Equal(t, abi.StatusOK, h.CloseEscapableHandleScope(env, scope))
		f, st := h.GetValueDouble(env, escaped)
		require.Equal(t, abi.StatusOK, st)
		assert.Equal(t, 42.0, f)

		_, st = h.GetValueDouble(env, v)
		assert.Equal(t, abi.StatusInvalidArg, st)
	})
}

func TestLeakedScopeIsFatal(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	err := h.Do(context.Background(), func() error {
		_, _ = h.OpenHandleScope(env)
		return nil
	})
	require.NoError(t, err)

	var fatal *FatalError
	require.ErrorAs(t, h.Err(), &fatal)
	assert.Contains(t, fatal.Message, "open handle scopes")
	assert.ErrorIs(t, h.Do(context.Background(), func() error { return nil }), h.Err())
}

func TestWeakReferenceAndFinalizer(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)
	ctx := context.Background()

	var finalized atomic.Int32
	var ref abi.Ref
	do(t, h, func() {
		obj, _ := h.CreateObject(env)
		require.Equal(t, abi.StatusOK, h.AddFinalizer(env, obj, 7, func(e abi.Env, data, hint abi.Data) {
			assert.Equal(t, env, e)
			assert.Equal(t, abi.Data(7), data)
			finalized.Add(1)
		}, 0))
		var st abi.Status
		ref, st = h.CreateReference(env, obj, 0)
		require.Equal(t, abi.StatusOK, st)
	})

	require.NoError(t, h.GC(ctx))
	require.NoError(t, h.GC(ctx))
	assert.Equal(t, int32(1), finalized.Load())

	do(t, h, func() {
		v, st := h.GetReferenceValue(env, ref)
		require.Equal(t, abi.StatusOK, st)
		assert.True(t, v.IsNull())
		require.Equal(t, abi.StatusOK, h.DeleteReference(env, ref))
		assert.Equal(t, abi.StatusInvalidArg, h.DeleteReference(env, ref))
	})
}

func TestStrongReferenceKeepsAlive(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)
	ctx := context.Background()

	var finalized atomic.Int32
	var ref abi.Ref
	do(t, h, func() {
		obj, _ := h.CreateObject(env)
		require.Equal(t, abi.StatusOK, h.Wrap(env, obj, 1, func(abi.Env, abi.Data, abi.Data) {
			finalized.Add(1)
		}, 0))
		ref, _ = h.CreateReference(env, obj, 1)
	})

	require.NoError(t, h.GC(ctx))
	assert.Zero(t, finalized.Load())

	do(t, h, func() {
		v, st := h.GetReferenceValue(env, ref)
		require.Equal(t, abi.StatusOK, st)
		require.False(t, v.IsNull())
		data, st := h.Unwrap(env, v)
		require.Equal(t, abi.StatusOK, st)
		assert.Equal(t, abi.Data(1), data)

		n, st := h.ReferenceUnref(env, ref)
		require.Equal(t, abi.StatusOK, st)
		assert.Zero(t, n)
		_, st = h.ReferenceUnref(env, ref)
		assert.Equal(t, abi.StatusGenericFailure, st)
	})

	require.NoError(t, h.GC(ctx))
	assert.Equal(t, int32(1), finalized.Load())
}

func TestRemoveWrapSkipsFinalizer(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	var finalized atomic.Int32
	do(t, h, func() {
		obj, _ := h.CreateObject(env)
		require.Equal(t, abi.StatusOK, h.Wrap(env, obj, 3, func(abi.Env, abi.Data, abi.Data) {
			finalized.Add(1)
		}, 0))
		assert.Equal(t, abi.StatusInvalidArg, h.Wrap(env, obj, 4, nil, 0))

		data, st := h.RemoveWrap(env, obj)
		require.Equal(t, abi.StatusOK, st)
		assert.Equal(t, abi.Data(3), data)
		_, st = h.RemoveWrap(env, obj)
		assert.Equal(t, abi.StatusInvalidArg, st)
	})

	require.NoError(t, h.GC(context.Background()))
	assert.Zero(t, finalized.Load())
}

func TestCloseRunsRemainingFinalizersOnce(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)
	env := newTestEnv(t, h)

	var objFin, instFin atomic.Int32
	do(t, h, func() {
		obj, _ := h.CreateObject(env)
		_ = h.AddFinalizer(env, obj, 0, func(abi.Env, abi.Data, abi.Data) { objFin.Add(1) }, 0)
		_, _ = h.CreateReference(env, obj, 1)
		require.Equal(t, abi.StatusOK, h.SetInstanceData(env, 9, func(_ abi.Env, data, _ abi.Data) {
			assert.Equal(t, abi.Data(9), data)
			instFin.Add(1)
		}, 0))
	})

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, int32(1), objFin.Load())
	assert.Equal(t, int32(1), instFin.Load())
	assert.ErrorIs(t, h.Do(context.Background(), func() error { return nil }), ErrClosed)
}

func TestFinalizerOrderWrapThenAdded(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	var order []string
	record := func(name string) abi.Finalize {
		return func(abi.Env, abi.Data, abi.Data) { order = append(order, name) }
	}
	do(t, h, func() {
		obj, _ := h.CreateObject(env)
		_ = h.AddFinalizer(env, obj, 0, record("first"), 0)
		_ = h.Wrap(env, obj, 0, record("wrap"), 0)
		_ = h.AddFinalizer(env, obj, 0, record("second"), 0)
	})

	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, []string{"wrap", "first", "second"}, order)
}

func TestFrozenObjectRejectsWrites(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		obj, _ := h.CreateObject(env)
		one, _ := h.CreateDouble(env, 1)
		require.Equal(t, abi.StatusOK, h.SetNamedProperty(env, obj, "a", one))
		require.Equal(t, abi.StatusOK, h.ObjectFreeze(env, obj))

		assert.Equal(t, abi.StatusPendingException, h.SetNamedProperty(env, obj, "a", one))
		pending, _ := h.IsExceptionPending(env)
		assert.True(t, pending)

		exc, st := h.GetAndClearLastException(env)
		require.Equal(t, abi.StatusOK, st)
		isErr, _ := h.IsError(env, exc)
		assert.True(t, isErr)
	})
}

func TestInstanceOfClass(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		ctor := func(e abi.Env, info abi.CallbackInfo) abi.Value {
			args, _ := h.GetCbInfo(e, info)
			v, _ := h.CreateStringUTF8(e, "built")
			_ = h.SetNamedProperty(e, args.This, "tag", v)
			return args.This
		}
		cls, st := h.DefineClass(env, "Thing", ctor, 0, nil)
		require.Equal(t, abi.StatusOK, st)

		inst, st := h.NewInstance(env, cls, nil)
		require.Equal(t, abi.StatusOK, st)
		ok, st := h.InstanceOf(env, inst, cls)
		require.Equal(t, abi.StatusOK, st)
		assert.True(t, ok)

		tag, _ := h.GetNamedProperty(env, inst, "tag")
		s, _ := h.GetValueStringUTF8(env, tag)
		assert.Equal(t, "built", s)
	})
}

func TestCallDepthLimit(t *testing.T) {
	h := newTestHost(t, func(c *Config) { c.MaxCallDepth = 4 })
	env := newTestEnv(t, h)

	do(t, h, func() {
		var self abi.Ref
		recurse := func(e abi.Env, info abi.CallbackInfo) abi.Value {
			fn, _ := h.GetReferenceValue(e, self)
			_, st := h.CallFunction(e, 0, fn, nil)
			assert.Equal(t, abi.StatusPendingException, st)
			return 0
		}
		fn, _ := h.CreateFunction(env, "recurse", recurse, 0)
		self, _ = h.CreateReference(env, fn, 1)

		_, st := h.CallFunction(env, 0, fn, nil)
		assert.Equal(t, abi.StatusPendingException, st)
		exc, _ := h.GetAndClearLastException(env)
		name, _ := h.GetNamedProperty(env, exc, "name")
		s, _ := h.GetValueStringUTF8(env, name)
		assert.Equal(t, "RangeError", s)
	})
}

func TestCallbackPanicIsFatal(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		fn, _ := h.CreateFunction(env, "boom", func(abi.Env, abi.CallbackInfo) abi.Value {
			panic("boom")
		}, 0)
		_, _ = h.CallFunction(env, 0, fn, nil)
	})

	var fatal *FatalError
	require.ErrorAs(t, h.Err(), &fatal)
	assert.Contains(t, fatal.Message, "boom")
}

func TestStatsCounters(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)
	ctx := context.Background()

	do(t, h, func() {
		for range 5 {
			_, _ = h.CreateObject(env)
		}
	})
	require.NoError(t, h.GC(ctx))

	s, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Allocated, uint64(5))
	assert.GreaterOrEqual(t, s.Collected, uint64(5))
	assert.Equal(t, uint64(1), s.GCRuns)
	assert.Equal(t, 1, s.Environments)
	assert.Zero(t, s.LiveHandles)
}
