package napi

import (
	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// TsfnOptions configures NewThreadsafeFunction.
type TsfnOptions struct {
	// MaxQueue bounds queued calls; 0 means unbounded.
	MaxQueue int
	// InitialThreads is the number of initial owners; 0 means 1.
	InitialThreads int
	// Finalize runs on the event loop once the function is released by
	// every owner, or aborted.
	Finalize func(env Env)
}

// ThreadsafeFunction delivers values of type D from any goroutine to a
// host function on the event loop.
type ThreadsafeFunction[D any] struct {
	env   Env
	raw   abi.ThreadsafeFunction
	name  string
	token abi.Data
}

type tsfnBox[D any] struct {
	name       string
	call       func(env Env, cb Function, data D) error
	onFinalize func(env Env)
}

type tsfnDelivery interface {
	deliver(env Env, cb Function, data any) error
	finalize(env Env)
}

func (b *tsfnBox[D]) deliver(env Env, cb Function, data any) error {
	if b.call == nil {
		if cb.IsNull() {
			return nil
		}
		_, err := cb.Call(nil)
		return err
	}
	var d D
	if data != nil {
		var ok bool
		if d, ok = data.(D); !ok {
			return errors.New(errors.PhaseThreadsafe, abi.StatusInvalidArg).
				Op(b.name).Value(data).Detail("queued value is not a %T", d).Build()
		}
	}
	return b.call(env, cb, d)
}

func (b *tsfnBox[D]) finalize(env Env) {
	if b.onFinalize != nil {
		b.onFinalize(env)
	}
}

// callJSTrampoline receives every queued call. A zero env means the queue
// is being discarded and the call only releases its data.
func callJSTrampoline(raw abi.Env, cb abi.Value, context, data abi.Data) {
	item, ok := boxes.Reclaim(data)
	if !ok {
		Logger().Warn("threadsafe call data was already reclaimed", zap.Uint64("token", uint64(data)))
		return
	}
	if raw == 0 {
		return
	}
	env, ok := lookupEnv(raw)
	if !ok {
		return
	}
	v, ok := boxes.Borrow(context)
	if !ok {
		Logger().Warn("threadsafe call after finalization", zap.Uint64("context", uint64(context)))
		return
	}
	d, ok := v.(tsfnDelivery)
	if !ok {
		return
	}

	err := env.WithScope(func() error {
		var fn Function
		if !cb.IsNull() {
			fn = Function{Object{env.value(cb)}}
		}
		err := safeComplete(func() error { return d.deliver(env, fn, item) })
		if err != nil {
			env.ThrowGo(err)
		}
		return nil
	})
	if err != nil {
		Logger().Error("threadsafe call scope", zap.Error(err))
	}
}

func tsfnFinalizeTrampoline(raw abi.Env, data, _ abi.Data) {
	v, ok := boxes.Reclaim(data)
	if !ok {
		return
	}
	d, ok := v.(tsfnDelivery)
	if !ok {
		return
	}
	env, ok := lookupEnv(raw)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("threadsafe finalizer panicked", zap.Any("panic", r))
		}
	}()
	d.finalize(env)
}

// NewThreadsafeFunction creates a threadsafe function over callback,
// which may be the zero Function when call does not need one. call runs
// on the event loop for each queued value; without call the callback is
// invoked with no arguments.
func NewThreadsafeFunction[D any](env Env, name string, callback Function, opts TsfnOptions, call func(env Env, cb Function, data D) error) (*ThreadsafeFunction[D], error) {
	if opts.MaxQueue < 0 {
		return nil, errors.InvalidArg(errors.PhaseThreadsafe, "negative max queue")
	}
	threads := opts.InitialThreads
	if threads == 0 {
		threads = 1
	}
	if callback.IsNull() && call == nil {
		return nil, errors.InvalidArg(errors.PhaseThreadsafe, "threadsafe function needs a callback or a call translator")
	}

	token, err := box(errors.PhaseThreadsafe, &tsfnBox[D]{name: name, call: call, onFinalize: opts.Finalize})
	if err != nil {
		return nil, err
	}
	raw, st := env.host.CreateThreadsafeFunction(env.raw, callback.raw, name, opts.MaxQueue, threads,
		token, tsfnFinalizeTrampoline, token, callJSTrampoline)
	if err := env.check(errors.PhaseThreadsafe, "create threadsafe function "+name, st); err != nil {
		boxes.Reclaim(token)
		return nil, err
	}
	return &ThreadsafeFunction[D]{env: env, raw: raw, name: name, token: token}, nil
}

// Call queues data. Blocking mode waits for room in a full queue; it
// fails with would-deadlock when called on the event loop.
func (t *ThreadsafeFunction[D]) Call(data D, mode abi.TsfnCallMode) error {
	token, err := box(errors.PhaseThreadsafe, data)
	if err != nil {
		return err
	}
	if st := t.env.host.CallThreadsafeFunction(t.raw, token, mode); st != abi.StatusOK {
		boxes.Reclaim(token)
		return errors.FromStatus(errors.PhaseThreadsafe, "call "+t.name, st, "threadsafe call rejected")
	}
	return nil
}

// BlockingCall queues data, waiting for room.
func (t *ThreadsafeFunction[D]) BlockingCall(data D) error {
	return t.Call(data, abi.TsfnBlocking)
}

// NonBlockingCall queues data or fails with queue-full.
func (t *ThreadsafeFunction[D]) NonBlockingCall(data D) error {
	return t.Call(data, abi.TsfnNonBlocking)
}

// Acquire adds an owner.
func (t *ThreadsafeFunction[D]) Acquire() error {
	return errors.Check(errors.PhaseThreadsafe, "acquire "+t.name, t.env.host.AcquireThreadsafeFunction(t.raw))
}

// Release drops an owner. The function finalizes once the last owner is
// gone and the queue has drained.
func (t *ThreadsafeFunction[D]) Release() error {
	return errors.Check(errors.PhaseThreadsafe, "release "+t.name, t.env.host.ReleaseThreadsafeFunction(t.raw, abi.TsfnRelease))
}

// Abort closes the function for every owner and discards queued calls.
func (t *ThreadsafeFunction[D]) Abort() error {
	return errors.Check(errors.PhaseThreadsafe, "abort "+t.name, t.env.host.ReleaseThreadsafeFunction(t.raw, abi.TsfnAbort))
}

// Ref makes the function keep the event loop alive. Event loop only.
func (t *ThreadsafeFunction[D]) Ref() error {
	return t.env.check(errors.PhaseThreadsafe, "ref threadsafe function", t.env.host.RefThreadsafeFunction(t.env.raw, t.raw))
}

// Unref lets the event loop exit while the function is alive. Event loop
// only.
func (t *ThreadsafeFunction[D]) Unref() error {
	return t.env.check(errors.PhaseThreadsafe, "unref threadsafe function", t.env.host.UnrefThreadsafeFunction(t.env.raw, t.raw))
}
