package refhost

import (
	"github.com/wippyai/addon-runtime/abi"
)

func (h *Host) newFunction(e *environment, name string, cb abi.Callback, data abi.Data) *object {
	o := h.alloc(abi.Function, classFunction)
	o.props = newPropMap()
	o.fn = &function{name: name, cb: cb, data: data, env: e}
	return o
}

func (h *Host) CreateFunction(env abi.Env, name string, cb abi.Callback, data abi.Data) (abi.Value, abi.Status) {
	return h.create(env, func(e *environment) (*object, abi.Status) {
		if cb == nil {
			return nil, h.fail(e, abi.StatusInvalidArg, "nil callback")
		}
		return h.newFunction(e, name, cb, data), abi.StatusOK
	})
}

func (h *Host) DefineClass(env abi.Env, name string, ctor abi.Callback, data abi.Data, props []abi.PropertyDescriptor) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if ctor == nil {
		return 0, h.fail(e, abi.StatusInvalidArg, "nil constructor")
	}

	cls := h.newFunction(e, name, ctor, data)
	cls.fn.class = true
	cls.fn.prototype = h.newPlain()
	cls.fn.prototype.props.set("constructor", &property{value: cls, attrs: abi.Writable | abi.Configurable})

	var static, instance []abi.PropertyDescriptor
	for _, p := range props {
		if p.Attributes.Has(abi.Static) {
			static = append(static, p)
		} else {
			instance = append(instance, p)
		}
	}
	if st := h.defineOn(e, cls, static); st != abi.StatusOK {
		return 0, st
	}
	if st := h.defineOn(e, cls.fn.prototype, instance); st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, cls)
}

func (h *Host) GetCbInfo(env abi.Env, info abi.CallbackInfo) (abi.CallbackArgs, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return abi.CallbackArgs{}, st
	}
	ci, ok := h.infos[info]
	if !ok {
		return abi.CallbackArgs{}, h.fail(e, abi.StatusInvalidArg, "callback info is not active")
	}

	out := abi.CallbackArgs{Data: ci.data, Args: make([]abi.Value, len(ci.args))}
	for i, a := range ci.args {
		if out.Args[i], st = h.handle(e, a); st != abi.StatusOK {
			return abi.CallbackArgs{}, st
		}
	}
	if out.This, st = h.handle(e, ci.this); st != abi.StatusOK {
		return abi.CallbackArgs{}, st
	}
	return out, abi.StatusOK
}

func (h *Host) GetNewTarget(env abi.Env, info abi.CallbackInfo) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	ci, ok := h.infos[info]
	if !ok {
		return 0, h.fail(e, abi.StatusInvalidArg, "callback info is not active")
	}
	if ci.newTarget == nil {
		return 0, abi.StatusOK
	}
	return h.handle(e, ci.newTarget)
}

// invoke calls a native function object. The callback runs in its own host
// frame; its return handle is resolved before the frame closes.
func (h *Host) invoke(caller *environment, fnObj, this *object, args []*object, newTarget *object) (*object, abi.Status) {
	if fnObj.typ != abi.Function {
		return nil, h.fail(caller, abi.StatusFunctionExpected, "value is not a function")
	}
	fn := fnObj.fn
	callee := fn.env
	if callee == nil || callee.torn {
		return nil, h.fail(caller, abi.StatusGenericFailure, "function environment was torn down")
	}
	if h.depth >= h.cfg.MaxCallDepth {
		h.throwNew(caller, "RangeError", "", "Maximum call stack size exceeded")
		return nil, h.fail(caller, abi.StatusPendingException, "call depth exceeded")
	}
	if this == nil {
		this = h.undefined
	}

	h.depth++
	defer func() { h.depth-- }()

	f := h.pushFrame(false, false)
	defer h.popFrame(f)

	h.seq++
	info := abi.CallbackInfo(h.seq)
	h.infos[info] = &callInfo{this: this, newTarget: newTarget, args: args, data: fn.data}
	defer delete(h.infos, info)

	var ret abi.Value
	h.guard("callback "+fn.name, func() {
		ret = fn.cb(callee.id, info)
	})

	if h.unwindTo(f) {
		h.fatalf("callback "+fn.name, "returned with open handle scopes")
	}

	if callee.exception != nil {
		if callee != caller {
			caller.exception = callee.exception
			callee.exception = nil
		}
		return nil, h.fail(caller, abi.StatusPendingException, "callback threw")
	}
	if ret.IsNull() {
		return h.undefined, abi.StatusOK
	}
	result, ok := h.resolve(ret)
	if !ok {
		h.fatalf("callback "+fn.name, "returned a stale handle")
		return nil, h.fail(caller, abi.StatusGenericFailure, "callback returned a stale handle")
	}
	return result, abi.StatusOK
}

func (h *Host) resolveArgs(e *environment, args []abi.Value) ([]*object, abi.Status) {
	out := make([]*object, len(args))
	for i, a := range args {
		o, st := h.value(e, a)
		if st != abi.StatusOK {
			return nil, st
		}
		out[i] = o
	}
	return out, abi.StatusOK
}

func (h *Host) CallFunction(env abi.Env, recv, fn abi.Value, args []abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if e.exception != nil {
		return 0, h.fail(e, abi.StatusPendingException, "an exception is pending")
	}
	this := h.undefined
	if !recv.IsNull() {
		if this, st = h.value(e, recv); st != abi.StatusOK {
			return 0, st
		}
	}
	f, st := h.value(e, fn)
	if st != abi.StatusOK {
		return 0, st
	}
	argv, st := h.resolveArgs(e, args)
	if st != abi.StatusOK {
		return 0, st
	}
	result, st := h.invoke(e, f, this, argv, nil)
	if st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, result)
}

// construct runs a class constructor against a fresh instance.
func (h *Host) construct(e *environment, ctor *object, argv []*object) (*object, abi.Status) {
	if ctor.typ != abi.Function {
		return nil, h.fail(e, abi.StatusFunctionExpected, "constructor is not a function")
	}
	instance := h.newPlain()
	instance.proto = ctor.fn.prototype
	result, st := h.invoke(e, ctor, instance, argv, ctor)
	if st != abi.StatusOK {
		return nil, st
	}
	if result.typ == abi.Object || result.typ == abi.Function {
		return result, abi.StatusOK
	}
	return instance, abi.StatusOK
}

func (h *Host) NewInstance(env abi.Env, ctor abi.Value, args []abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if e.exception != nil {
		return 0, h.fail(e, abi.StatusPendingException, "an exception is pending")
	}
	c, st := h.value(e, ctor)
	if st != abi.StatusOK {
		return 0, st
	}
	argv, st := h.resolveArgs(e, args)
	if st != abi.StatusOK {
		return 0, st
	}
	result, st := h.construct(e, c, argv)
	if st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, result)
}
