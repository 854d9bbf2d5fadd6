package napi

import (
	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// finalizer is implemented by boxed values that run code when reclaimed.
type finalizer interface {
	finalize(env Env)
}

type finalizeFunc func(env Env)

func (f finalizeFunc) finalize(env Env) { f(env) }

type wrapBox[T any] struct {
	value T
	fin   func(env Env, native T)
}

func (w *wrapBox[T]) finalize(env Env) {
	if w.fin != nil {
		w.fin(env, w.value)
	}
}

// reclaimFinalizer is the one static finalizer handed to the host for
// every boxed token. It consumes the capsule and runs its finalizer, if any.
func reclaimFinalizer(raw abi.Env, data, _ abi.Data) {
	v, ok := boxes.Reclaim(data)
	if !ok {
		Logger().Warn("finalizer for a reclaimed capsule", zap.Uint64("token", uint64(data)))
		return
	}
	f, ok := v.(finalizer)
	if !ok {
		return
	}
	env, ok := lookupEnv(raw)
	if !ok {
		Logger().Warn("finalizer for an unknown environment", zap.Uint64("env", uint64(raw)))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("finalizer panicked", zap.Any("panic", r))
		}
	}()
	f.finalize(env)
}

// box stores v and returns its token.
func box(phase errors.Phase, v any) (abi.Data, error) {
	token, err := boxes.Box(v)
	if err != nil {
		return 0, errors.Wrap(phase, abi.StatusGenericFailure, err, "box native value")
	}
	return token, nil
}

// AddFinalizer runs fn once when the host collects obj. Each call adds an
// independent finalizer.
func AddFinalizer(obj Object, fn func(env Env)) error {
	if fn == nil {
		return errors.InvalidArg(errors.PhaseReference, "nil finalizer")
	}
	token, err := box(errors.PhaseReference, finalizeFunc(fn))
	if err != nil {
		return err
	}
	return attachReclaim(obj, token)
}

// attachReclaim makes the host reclaim token when obj is collected. On
// failure the token is reclaimed immediately.
func attachReclaim(obj Object, token abi.Data) error {
	env := obj.env
	st := env.host.AddFinalizer(env.raw, obj.raw, token, reclaimFinalizer, 0)
	if err := env.check(errors.PhaseReference, "add finalizer", st); err != nil {
		boxes.Reclaim(token)
		return err
	}
	return nil
}

// Wrap associates native with obj. finalize, if non-nil, runs once when obj
// is collected unless RemoveWrap took the value back first.
func Wrap[T any](obj Object, native T, finalize func(env Env, native T)) error {
	if err := obj.bound(); err != nil {
		return err
	}
	token, err := box(errors.PhaseReference, &wrapBox[T]{value: native, fin: finalize})
	if err != nil {
		return err
	}
	env := obj.env
	st := env.host.Wrap(env.raw, obj.raw, token, reclaimFinalizer, 0)
	if err := env.check(errors.PhaseReference, "wrap", st); err != nil {
		boxes.Reclaim(token)
		return err
	}
	return nil
}

// Unwrap returns the native value wrapped in obj.
func Unwrap[T any](obj Object) (T, error) {
	var zero T
	if err := obj.bound(); err != nil {
		return zero, err
	}
	env := obj.env
	token, st := env.host.Unwrap(env.raw, obj.raw)
	if err := env.check(errors.PhaseReference, "unwrap", st); err != nil {
		return zero, err
	}
	v, ok := boxes.Borrow(token)
	if !ok {
		return zero, errors.Closing(errors.PhaseReference, "wrapped value was reclaimed")
	}
	w, ok := v.(*wrapBox[T])
	if !ok {
		return zero, wrapMismatch[T](v)
	}
	return w.value, nil
}

// RemoveWrap detaches and returns the native value. Its finalizer never
// runs. Removing twice fails. A type mismatch leaves the wrap in place.
func RemoveWrap[T any](obj Object) (T, error) {
	var zero T
	if _, err := Unwrap[T](obj); err != nil {
		return zero, err
	}
	env := obj.env
	token, st := env.host.RemoveWrap(env.raw, obj.raw)
	if err := env.check(errors.PhaseReference, "remove wrap", st); err != nil {
		return zero, err
	}
	v, ok := boxes.Reclaim(token)
	if !ok {
		return zero, errors.Closing(errors.PhaseReference, "wrapped value was reclaimed")
	}
	return v.(*wrapBox[T]).value, nil
}

func wrapMismatch[T any](v any) error {
	var want T
	return errors.New(errors.PhaseReference, abi.StatusInvalidArg).
		Op("unwrap").Value(v).Detail("wrapped value is not a %T", want).Build()
}
