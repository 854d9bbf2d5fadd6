package refhost

import (
	"slices"

	"github.com/wippyai/addon-runtime/abi"
)

type promiseStatus uint8

const (
	promisePending promiseStatus = iota
	promiseFulfilled
	promiseRejected
)

// promiseState is settled on the loop. The Go view of the outcome is
// captured at settle time so waiters never touch the heap.
type promiseState struct {
	value   *object
	goValue any
	reason  *Exception
	settled chan struct{}
	status  promiseStatus
}

type asyncContext struct {
	resource *object
	name     string
}

func (h *Host) newPromise() *object {
	o := h.newPlain()
	o.class = classPromise
	o.promise = &promiseState{settled: make(chan struct{})}
	return o
}

func (h *Host) CreatePromise(env abi.Env) (abi.Deferred, abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, 0, st
	}
	p := h.newPromise()
	v, st := h.handle(e, p)
	if st != abi.StatusOK {
		return 0, 0, st
	}
	h.seq++
	d := abi.Deferred(h.seq)
	h.deferreds[d] = p
	return d, v, abi.StatusOK
}

func (h *Host) settle(env abi.Env, d abi.Deferred, v abi.Value, status promiseStatus) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	p, ok := h.deferreds[d]
	if !ok {
		return h.fail(e, abi.StatusInvalidArg, "unknown or already settled deferred")
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return st
	}
	delete(h.deferreds, d)

	ps := p.promise
	ps.status = status
	ps.value = o
	if status == promiseRejected {
		ps.reason = h.exceptionFrom(o)
	} else {
		ps.goValue = h.toGo(o, 0)
	}
	close(ps.settled)
	h.stats.promisesSettled++
	return abi.StatusOK
}

func (h *Host) ResolveDeferred(env abi.Env, d abi.Deferred, v abi.Value) abi.Status {
	return h.settle(env, d, v, promiseFulfilled)
}

func (h *Host) RejectDeferred(env abi.Env, d abi.Deferred, v abi.Value) abi.Status {
	return h.settle(env, d, v, promiseRejected)
}

func (h *Host) IsPromise(env abi.Env, v abi.Value) (bool, abi.Status) {
	return h.classCheck(env, v, classPromise)
}

func (h *Host) AsyncInit(env abi.Env, resource abi.Value, name string) (abi.AsyncContext, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	res := h.newPlain()
	if !resource.IsNull() {
		if res, st = h.target(e, resource); st != abi.StatusOK {
			return 0, st
		}
	}
	h.seq++
	id := abi.AsyncContext(h.seq)
	h.asyncContexts[id] = &asyncContext{resource: res, name: name}
	return id, abi.StatusOK
}

func (h *Host) AsyncDestroy(env abi.Env, ctx abi.AsyncContext) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	if _, ok := h.asyncContexts[ctx]; !ok {
		return h.fail(e, abi.StatusInvalidArg, "unknown async context")
	}
	delete(h.asyncContexts, ctx)
	return abi.StatusOK
}

// MakeCallback calls fn on behalf of an async context. A zero context is
// accepted and behaves like CallFunction.
func (h *Host) MakeCallback(env abi.Env, ctx abi.AsyncContext, recv, fn abi.Value, args []abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if !ctx.IsNull() {
		if _, ok := h.asyncContexts[ctx]; !ok {
			return 0, h.fail(e, abi.StatusInvalidArg, "unknown async context")
		}
	}
	return h.CallFunction(env, recv, fn, args)
}

func (h *Host) OpenCallbackScope(env abi.Env, resource abi.Value, ctx abi.AsyncContext) (abi.CallbackScope, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if _, ok := h.asyncContexts[ctx]; !ok {
		return 0, h.fail(e, abi.StatusInvalidArg, "unknown async context")
	}
	if !resource.IsNull() {
		if _, st := h.target(e, resource); st != abi.StatusOK {
			return 0, st
		}
	}
	h.seq++
	id := abi.CallbackScope(h.seq)
	h.cbScopes = append(h.cbScopes, id)
	return id, abi.StatusOK
}

func (h *Host) CloseCallbackScope(env abi.Env, scope abi.CallbackScope) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	n := len(h.cbScopes)
	if !slices.Contains(h.cbScopes, scope) {
		return h.fail(e, abi.StatusInvalidArg, "unknown or closed callback scope")
	}
	if h.cbScopes[n-1] != scope {
		return h.fail(e, abi.StatusCallbackScopeMismatch, "callback scopes must be closed in reverse order of opening")
	}
	h.cbScopes = h.cbScopes[:n-1]
	return abi.StatusOK
}
