package napi

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// AsyncWork runs execute on a worker goroutine and complete back on the
// event loop. execute may only touch its state; complete receives the
// state by value along with nil, a cancellation error or the failure that
// stopped execute.
//
// After complete returns the work deletes itself.
type AsyncWork[S any] struct {
	env     Env
	raw     abi.AsyncWork
	token   abi.Data
	name    string
	queued  bool
	done    bool
	deleted bool
}

type workBox[S any] struct {
	state    S
	execute  func(*S)
	complete func(env Env, status error, state S) error
	work     *AsyncWork[S]
	failure  error
}

type workRunner interface {
	run()
	finish(env Env, st abi.Status)
}

func (b *workBox[S]) run() {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("async work panicked", zap.String("work", b.work.name), zap.Any("panic", r))
			b.failure = newPanicError(errors.PhaseWork, r)
		}
	}()
	b.execute(&b.state)
}

func (b *workBox[S]) finish(env Env, st abi.Status) {
	w := b.work
	w.done = true

	status := b.failure
	if status == nil {
		status = workStatus(w.name, st)
	}
	if b.complete != nil {
		err := env.WithScope(func() error {
			err := safeComplete(func() error { return b.complete(env, status, b.state) })
			if err != nil {
				reportUncaught(env, err)
			}
			return nil
		})
		if err != nil {
			Logger().Error("async work completion scope", zap.String("work", w.name), zap.Error(err))
		}
	}

	if !w.deleted {
		if err := env.check(errors.PhaseWork, "delete async work", env.host.DeleteAsyncWork(env.raw, w.raw)); err != nil {
			Logger().Warn("deleting completed work", zap.String("work", w.name), zap.Error(err))
		}
		w.deleted = true
		boxes.Reclaim(w.token)
	}
}

func workStatus(name string, st abi.Status) error {
	switch st {
	case abi.StatusOK:
		return nil
	case abi.StatusCancelled:
		return errors.New(errors.PhaseWork, abi.StatusCancelled).Op(name).Detail("work was cancelled").Build()
	default:
		return errors.FromStatus(errors.PhaseWork, name, st, "work failed")
	}
}

func safeComplete(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("work completion panicked", zap.Any("panic", r))
			err = newPanicError(errors.PhaseWork, r)
		}
	}()
	return fn()
}

// reportUncaught hands err to the host as an uncaught exception.
func reportUncaught(env Env, err error) {
	ev, cerr := env.ErrorValue(err)
	if cerr == nil {
		cerr = env.FatalException(ev.Value)
	}
	if cerr != nil {
		Logger().Error("reporting uncaught error", zap.Error(err), zap.NamedError("report", cerr))
	}
}

func executeTrampoline(_ abi.Env, data abi.Data) {
	v, ok := boxes.Borrow(data)
	if !ok {
		Logger().Warn("execute for a reclaimed work", zap.Uint64("token", uint64(data)))
		return
	}
	if r, ok := v.(workRunner); ok {
		r.run()
	}
}

func completeTrampoline(raw abi.Env, st abi.Status, data abi.Data) {
	v, ok := boxes.Borrow(data)
	if !ok {
		Logger().Warn("complete for a reclaimed work", zap.Uint64("token", uint64(data)))
		return
	}
	r, ok := v.(workRunner)
	if !ok {
		return
	}
	env, ok := lookupEnv(raw)
	if !ok {
		boxes.Reclaim(data)
		return
	}
	r.finish(env, st)
}

// NewAsyncWork creates work over state. It does not start until Queue.
func NewAsyncWork[S any](env Env, name string, state S, execute func(*S), complete func(env Env, status error, state S) error) (*AsyncWork[S], error) {
	if execute == nil {
		return nil, errors.InvalidArg(errors.PhaseWork, "nil execute")
	}
	w := &AsyncWork[S]{env: env, name: name}
	b := &workBox[S]{state: state, execute: execute, complete: complete, work: w}
	token, err := box(errors.PhaseWork, b)
	if err != nil {
		return nil, err
	}
	w.token = token

	raw, st := env.host.CreateAsyncWork(env.raw, 0, name, executeTrampoline, completeTrampoline, token)
	if err := env.check(errors.PhaseWork, "create async work "+name, st); err != nil {
		boxes.Reclaim(token)
		return nil, err
	}
	w.raw = raw
	return w, nil
}

func (w *AsyncWork[S]) String() string {
	return fmt.Sprintf("work(%s)", w.name)
}

// Queue schedules the work. A work is queued at most once.
func (w *AsyncWork[S]) Queue() error {
	switch {
	case w.deleted:
		return errors.Closing(errors.PhaseWork, "queue on deleted work")
	case w.queued:
		return errors.New(errors.PhaseWork, abi.StatusGenericFailure).
			Op("queue").Path(w.name).Detail("work already queued").Build()
	}
	if err := w.env.check(errors.PhaseWork, "queue async work", w.env.host.QueueAsyncWork(w.env.raw, w.raw)); err != nil {
		return err
	}
	w.queued = true
	return nil
}

// Cancel stops queued work that has not started. complete then runs
// with a cancellation status.
func (w *AsyncWork[S]) Cancel() error {
	if w.done || w.deleted {
		return errors.New(errors.PhaseWork, abi.StatusGenericFailure).
			Op("cancel").Path(w.name).Detail("work already completed").Build()
	}
	return w.env.check(errors.PhaseWork, "cancel async work", w.env.host.CancelAsyncWork(w.env.raw, w.raw))
}

// Delete releases work that was never queued, or completed work from
// inside its complete callback.
func (w *AsyncWork[S]) Delete() error {
	if w.deleted {
		return errors.Closing(errors.PhaseWork, "work already deleted")
	}
	if w.queued && !w.done {
		return errors.New(errors.PhaseWork, abi.StatusGenericFailure).
			Op("delete").Path(w.name).Detail("work is queued and not yet completed").Build()
	}
	if err := w.env.check(errors.PhaseWork, "delete async work", w.env.host.DeleteAsyncWork(w.env.raw, w.raw)); err != nil {
		return err
	}
	w.deleted = true
	boxes.Reclaim(w.token)
	return nil
}

// Done reports whether complete has run.
func (w *AsyncWork[S]) Done() bool { return w.done }
