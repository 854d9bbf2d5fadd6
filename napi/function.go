package napi

import (
	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

type callContext struct {
	env       Env
	this      Value
	newTarget Value
	args      []Value
}

// callable is a boxed closure reached through trampoline.
type callable interface {
	call(c *callContext) (Value, error)
}

// setter is a boxed accessor reached through setterTrampoline.
type setter interface {
	set(c *callContext) error
}

type funcBox[A any, PA Arguments[A], R View] struct {
	fn func(this Value, args A) (R, error)
}

func (b *funcBox[A, PA, R]) call(c *callContext) (Value, error) {
	var a A
	if err := PA(&a).decode(c.env, c.args); err != nil {
		return Value{}, err
	}
	r, err := b.fn(c.this, a)
	if err != nil {
		return Value{}, err
	}
	return r.AsValue(), nil
}

// trampoline is the single static callback handed to the host for every
// Go function, method and getter.
func trampoline(raw abi.Env, info abi.CallbackInfo) abi.Value {
	return dispatch(raw, info, func(boxed any, c *callContext) (Value, error) {
		cb, ok := boxed.(callable)
		if !ok {
			return Value{}, errors.GenericFailure(errors.PhaseCallback, "callback data does not hold a function")
		}
		return cb.call(c)
	})
}

// setterTrampoline is the static callback for accessor setters.
func setterTrampoline(raw abi.Env, info abi.CallbackInfo) abi.Value {
	return dispatch(raw, info, func(boxed any, c *callContext) (Value, error) {
		s, ok := boxed.(setter)
		if !ok {
			return Value{}, errors.GenericFailure(errors.PhaseCallback, "callback data does not hold a setter")
		}
		return Value{}, s.set(c)
	})
}

// dispatch runs one call across the boundary: it opens an escapable scope,
// borrows the boxed closure, converts errors and panics into thrown
// exceptions and escapes the result. A call that throws or produces no
// value returns undefined.
func dispatch(raw abi.Env, info abi.CallbackInfo, run func(boxed any, c *callContext) (Value, error)) abi.Value {
	env, ok := lookupEnv(raw)
	if !ok {
		Logger().Error("callback for an unknown environment", zap.Uint64("env", uint64(raw)))
		return 0
	}

	// Created in the host's callback frame so it outlives the scope below.
	undefined, st := env.host.GetUndefined(raw)
	if st != abi.StatusOK {
		Logger().Error("callback cannot create undefined", zap.Stringer("status", st))
		return 0
	}

	scope, err := env.OpenEscapableScope()
	if err != nil {
		env.ThrowGo(err)
		return undefined
	}
	defer func() {
		if err := scope.Close(); err != nil {
			Logger().Error("closing callback scope", zap.Error(err))
		}
	}()

	cbArgs, st := env.host.GetCbInfo(raw, info)
	if err := env.check(errors.PhaseCallback, "get callback info", st); err != nil {
		env.ThrowGo(err)
		return undefined
	}
	newTarget, st := env.host.GetNewTarget(raw, info)
	if err := env.check(errors.PhaseCallback, "get new target", st); err != nil {
		env.ThrowGo(err)
		return undefined
	}
	boxed, ok := boxes.Borrow(cbArgs.Data)
	if !ok {
		env.ThrowGo(errors.Closing(errors.PhaseCallback, "callback closure was reclaimed"))
		return undefined
	}

	c := &callContext{
		env:       env,
		this:      env.value(cbArgs.This),
		newTarget: env.value(newTarget),
		args:      make([]Value, len(cbArgs.Args)),
	}
	for i, a := range cbArgs.Args {
		c.args[i] = env.value(a)
	}

	result, err := safeRun(func() (Value, error) { return run(boxed, c) })
	if err != nil {
		env.ThrowGo(err)
		return undefined
	}
	if result.IsNull() {
		return undefined
	}
	out, err := scope.Escape(result)
	if err != nil {
		env.ThrowGo(err)
		return undefined
	}
	return out.raw
}

func safeRun(fn func() (Value, error)) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("native callback panicked", zap.Any("panic", r))
			v, err = Value{}, newPanicError(errors.PhaseCallback, r)
		}
	}()
	return fn()
}

// NewFunction creates a host function backed by fn. Arguments are decoded
// into A before fn runs; a decoding failure throws without calling fn. The
// closure is released when the host collects the function.
func NewFunction[A any, PA Arguments[A], R View](env Env, name string, fn func(this Value, args A) (R, error)) (Function, error) {
	if fn == nil {
		return Function{}, errors.InvalidArg(errors.PhaseCallback, "nil function")
	}
	return newFunction(env, name, &funcBox[A, PA, R]{fn: fn})
}

func newFunction(env Env, name string, c callable) (Function, error) {
	token, err := box(errors.PhaseCallback, c)
	if err != nil {
		return Function{}, err
	}
	raw, st := env.host.CreateFunction(env.raw, name, trampoline, token)
	if err := env.check(errors.PhaseCallback, "create function "+name, st); err != nil {
		boxes.Reclaim(token)
		return Function{}, err
	}
	fn := Function{Object{env.value(raw)}}
	if err := attachReclaim(fn.Object, token); err != nil {
		return Function{}, err
	}
	return fn, nil
}

func rawArgs(args []View) []abi.Value {
	out := make([]abi.Value, len(args))
	for i, a := range args {
		out[i] = a.AsValue().raw
	}
	return out
}

// Call calls f with this as the receiver. A nil receiver is undefined.
func (f Function) Call(this View, args ...View) (Value, error) {
	var recv abi.Value
	if this != nil {
		recv = this.AsValue().raw
	}
	v, st := f.env.host.CallFunction(f.env.raw, recv, f.raw, rawArgs(args))
	return f.env.value(v), f.env.check(errors.PhaseCallback, "call function", st)
}

// New constructs an instance with f as the constructor.
func (f Function) New(args ...View) (Object, error) {
	v, st := f.env.host.NewInstance(f.env.raw, f.raw, rawArgs(args))
	return Object{f.env.value(v)}, f.env.check(errors.PhaseCallback, "new instance", st)
}
