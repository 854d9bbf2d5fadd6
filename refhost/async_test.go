package refhost

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/addon-runtime/abi"
)

func TestAsyncWorkCompletes(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)
	ctx := context.Background()

	var executed atomic.Bool
	var status atomic.Int32
	status.Store(-1)
	var id abi.AsyncWork
	do(t, h, func() {
		var st abi.Status
		id, st = h.CreateAsyncWork(env, 0, "job",
			func(abi.Env, abi.Data) { executed.Store(true) },
			func(_ abi.Env, s abi.Status, _ abi.Data) { status.Store(int32(s)) },
			0)
		require.Equal(t, abi.StatusOK, st)
		require.Equal(t, abi.StatusOK, h.QueueAsyncWork(env, id))
		assert.Equal(t, abi.StatusGenericFailure, h.QueueAsyncWork(env, id))
		assert.Equal(t, abi.StatusGenericFailure, h.DeleteAsyncWork(env, id))
	})

	require.NoError(t, h.Drain(ctx))
	assert.True(t, executed.Load())
	assert.Equal(t, int32(abi.StatusOK), status.Load())

	do(t, h, func() {
		assert.Equal(t, abi.StatusGenericFailure, h.CancelAsyncWork(env, id))
		assert.Equal(t, abi.StatusOK, h.DeleteAsyncWork(env, id))
		assert.Equal(t, abi.StatusInvalidArg, h.DeleteAsyncWork(env, id))
	})

	s, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.WorksCompleted)
}

func TestAsyncWorkCancelBeforeStart(t *testing.T) {
	h := newTestHost(t, func(c *Config) { c.Workers = 1 })
	env := newTestEnv(t, h)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var secondRan atomic.Bool
	var secondStatus atomic.Int32
	secondStatus.Store(-1)

	do(t, h, func() {
		first, _ := h.CreateAsyncWork(env, 0, "blocker", func(abi.Env, abi.Data) {
			close(started)
			<-release
		}, nil, 0)
		require.Equal(t, abi.StatusOK, h.QueueAsyncWork(env, first))
	})
	<-started

	do(t, h, func() {
		second, _ := h.CreateAsyncWork(env, 0, "victim",
			func(abi.Env, abi.Data) { secondRan.Store(true) },
			func(_ abi.Env, s abi.Status, _ abi.Data) { secondStatus.Store(int32(s)) },
			0)
		require.Equal(t, abi.StatusOK, h.QueueAsyncWork(env, second))
		require.Equal(t, abi.StatusOK, h.CancelAsyncWork(env, second))
		assert.Equal(t, abi.StatusGenericFailure, h.CancelAsyncWork(env, second))
	})
	close(release)

	require.NoError(t, h.Drain(ctx))
	assert.False(t, secondRan.Load())
	assert.Equal(t, int32(abi.StatusCancelled), secondStatus.Load())
}

func TestCompletionExceptionIsUncaught(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		id, _ := h.CreateAsyncWork(env, 0, "thrower", func(abi.Env, abi.Data) {},
			func(e abi.Env, _ abi.Status, _ abi.Data) {
				_ = h.ThrowError(e, "E_DONE", "completion failed")
			}, 0)
		_ = h.QueueAsyncWork(env, id)
	})
	require.NoError(t, h.Drain(context.Background()))

	uncaught := h.Uncaught()
	require.Len(t, uncaught, 1)
	assert.Equal(t, "E_DONE", uncaught[0].Code)
	assert.Equal(t, "completion failed", uncaught[0].Message)
}

func TestThreadsafeFunctionDelivers(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	var sum atomic.Int64
	var finalized atomic.Int32
	var id abi.ThreadsafeFunction
	do(t, h, func() {
		var st abi.Status
		id, st = h.CreateThreadsafeFunction(env, 0, "sum", 0, 1, 0,
			func(abi.Env, abi.Data, abi.Data) { finalized.Add(1) },
			5,
			func(e abi.Env, _ abi.Value, context, data abi.Data) {
				assert.Equal(t, env, e)
				assert.Equal(t, abi.Data(5), context)
				sum.Add(int64(data))
			})
		require.Equal(t, abi.StatusOK, st)
	})

	ctxData, st := h.GetThreadsafeFunctionContext(id)
	require.Equal(t, abi.StatusOK, st)
	assert.Equal(t, abi.Data(5), ctxData)

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		require.Equal(t, abi.StatusOK, h.AcquireThreadsafeFunction(id))
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.Equal(t, abi.StatusOK, h.CallThreadsafeFunction(id, abi.Data(n), abi.TsfnBlocking))
			assert.Equal(t, abi.StatusOK, h.ReleaseThreadsafeFunction(id, abi.TsfnRelease))
		}(i)
	}
	wg.Wait()
	require.Equal(t, abi.StatusOK, h.ReleaseThreadsafeFunction(id, abi.TsfnRelease))
	require.NoError(t, h.Drain(context.Background()))

	assert.Equal(t, int64(10), sum.Load())
	assert.Equal(t, int32(1), finalized.Load())
	assert.Equal(t, abi.StatusClosing, h.CallThreadsafeFunction(id, 1, abi.TsfnNonBlocking))
}

func TestThreadsafeQueueLimits(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	var calls atomic.Int32
	do(t, h, func() {
		id, st := h.CreateThreadsafeFunction(env, 0, "bounded", 1, 1, 0, nil, 0,
			func(abi.Env, abi.Value, abi.Data, abi.Data) { calls.Add(1) })
		require.Equal(t, abi.StatusOK, st)

		assert.Equal(t, abi.StatusOK, h.CallThreadsafeFunction(id, 1, abi.TsfnNonBlocking))
		assert.Equal(t, abi.StatusQueueFull, h.CallThreadsafeFunction(id, 2, abi.TsfnNonBlocking))
		assert.Equal(t, abi.StatusWouldDeadlock, h.CallThreadsafeFunction(id, 3, abi.TsfnBlocking))
		assert.Equal(t, abi.StatusOK, h.ReleaseThreadsafeFunction(id, abi.TsfnRelease))
		assert.Equal(t, abi.StatusClosing, h.CallThreadsafeFunction(id, 4, abi.TsfnNonBlocking))
	})
	require.NoError(t, h.Drain(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestThreadsafeAbortDiscardsQueue(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	var delivered, discarded, finalized atomic.Int32
	do(t, h, func() {
		id, _ := h.CreateThreadsafeFunction(env, 0, "aborted", 0, 1, 0,
			func(abi.Env, abi.Data, abi.Data) { finalized.Add(1) }, 0,
			func(e abi.Env, _ abi.Value, _, _ abi.Data) {
				if e.IsNull() {
					discarded.Add(1)
					return
				}
				delivered.Add(1)
			})
		_ = h.CallThreadsafeFunction(id, 1, abi.TsfnNonBlocking)
		_ = h.CallThreadsafeFunction(id, 2, abi.TsfnNonBlocking)
		require.Equal(t, abi.StatusOK, h.ReleaseThreadsafeFunction(id, abi.TsfnAbort))
		assert.Equal(t, abi.StatusClosing, h.AcquireThreadsafeFunction(id))
	})
	require.NoError(t, h.Drain(context.Background()))

	assert.Zero(t, delivered.Load())
	assert.Equal(t, int32(2), discarded.Load())
	assert.Equal(t, int32(1), finalized.Load())
}

func TestThreadsafeInvokesFunctionWithoutTranslator(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	var called atomic.Int32
	do(t, h, func() {
		fn, _ := h.CreateFunction(env, "tick", func(abi.Env, abi.CallbackInfo) abi.Value {
			called.Add(1)
			return 0
		}, 0)
		id, st := h.CreateThreadsafeFunction(env, fn, "tick", 0, 1, 0, nil, 0, nil)
		require.Equal(t, abi.StatusOK, st)
		_ = h.CallThreadsafeFunction(id, 0, abi.TsfnNonBlocking)
		_ = h.ReleaseThreadsafeFunction(id, abi.TsfnRelease)
	})
	require.NoError(t, h.Drain(context.Background()))
	require.NoError(t, h.GC(context.Background()))
	assert.Equal(t, int32(1), called.Load())
}

func TestCloseAbortsLiveThreadsafeFunctions(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)
	env := newTestEnv(t, h)

	var finalized atomic.Int32
	var id abi.ThreadsafeFunction
	do(t, h, func() {
		id, _ = h.CreateThreadsafeFunction(env, 0, "open", 0, 1, 0,
			func(abi.Env, abi.Data, abi.Data) { finalized.Add(1) }, 0,
			func(abi.Env, abi.Value, abi.Data, abi.Data) {})
	})

	require.NoError(t, h.Close())
	assert.Equal(t, int32(1), finalized.Load())
	assert.Equal(t, abi.StatusClosing, h.CallThreadsafeFunction(id, 0, abi.TsfnNonBlocking))
}

func TestAsyncContextMakeCallback(t *testing.T) {
	h := newTestHost(t)
	env := newTestEnv(t, h)

	do(t, h, func() {
		res, _ := h.CreateObject(env)
		actx, st := h.AsyncInit(env, res, "resource")
		require.Equal(t, abi.StatusOK, st)

		fn, _ := h.CreateFunction(env, "answer", func(e abi.Env, _ abi.CallbackInfo) abi.Value {
			v, _ := h.CreateInt32(e, 42)
			return v
		}, 0)
		out, st := h.MakeCallback(env, actx, 0, fn, nil)
		require.Equal(t, abi.StatusOK, st)
		n, _ := h.GetValueInt32(env, out)
		assert.Equal(t, int32(42), n)

		require.Equal(t, abi.StatusOK, h.AsyncDestroy(env, actx))
		_, st = h.MakeCallback(env, actx, 0, fn, nil)
		assert.Equal(t, abi.StatusInvalidArg, st)
	})
}
