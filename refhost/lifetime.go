package refhost

import (
	"github.com/wippyai/addon-runtime/abi"
)

type reference struct {
	target *object
	env    *environment
	id     abi.Ref
	count  uint32
}

func (h *Host) OpenHandleScope(env abi.Env) (abi.HandleScope, abi.Status) {
	if _, st := h.enter(env); st != abi.StatusOK {
		return 0, st
	}
	return abi.HandleScope(h.pushFrame(true, false).id), abi.StatusOK
}

func (h *Host) OpenEscapableHandleScope(env abi.Env) (abi.EscapableHandleScope, abi.Status) {
	if _, st := h.enter(env); st != abi.StatusOK {
		return 0, st
	}
	return abi.EscapableHandleScope(h.pushFrame(true, true).id), abi.StatusOK
}

func (h *Host) closeScope(env abi.Env, id uint64, escapable bool) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	idx := h.findFrame(id)
	if idx < 0 {
		return h.fail(e, abi.StatusInvalidArg, "unknown or closed handle scope")
	}
	f := h.frames[idx]
	if !f.native || f.escapable != escapable {
		return h.fail(e, abi.StatusInvalidArg, "handle scope kind mismatch")
	}
	if idx != len(h.frames)-1 {
		return h.fail(e, abi.StatusHandleScopeMismatch, "handle scopes must be closed in reverse order of opening")
	}
	h.popFrame(f)
	return abi.StatusOK
}

func (h *Host) CloseHandleScope(env abi.Env, scope abi.HandleScope) abi.Status {
	return h.closeScope(env, uint64(scope), false)
}

func (h *Host) CloseEscapableHandleScope(env abi.Env, scope abi.EscapableHandleScope) abi.Status {
	return h.closeScope(env, uint64(scope), true)
}

func (h *Host) EscapeHandle(env abi.Env, scope abi.EscapableHandleScope, v abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	idx := h.findFrame(uint64(scope))
	if idx < 0 || !h.frames[idx].escapable {
		return 0, h.fail(e, abi.StatusInvalidArg, "unknown escapable handle scope")
	}
	f := h.frames[idx]
	if f.escaped {
		return 0, h.fail(e, abi.StatusEscapeCalledTwice, "escape already called on this scope")
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return 0, st
	}
	if idx == 0 {
		return 0, h.fail(e, abi.StatusGenericFailure, "no parent scope to escape into")
	}
	f.escaped = true

	parent := h.frames[idx-1]
	h.seq++
	out := abi.Value(h.seq)
	h.handles[out] = o
	parent.handles = append(parent.handles, out)
	return out, abi.StatusOK
}

func (h *Host) CreateReference(env abi.Env, v abi.Value, initial uint32) (abi.Ref, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return 0, st
	}
	return h.newRef(e, o, initial), abi.StatusOK
}

func (h *Host) newRef(e *environment, o *object, initial uint32) abi.Ref {
	h.seq++
	r := &reference{id: abi.Ref(h.seq), env: e, target: o, count: initial}
	h.refs[r.id] = r
	return r.id
}

func (h *Host) reference(e *environment, ref abi.Ref) (*reference, abi.Status) {
	r, ok := h.refs[ref]
	if !ok {
		return nil, h.fail(e, abi.StatusInvalidArg, "unknown or deleted reference")
	}
	return r, abi.StatusOK
}

func (h *Host) DeleteReference(env abi.Env, ref abi.Ref) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	if _, st := h.reference(e, ref); st != abi.StatusOK {
		return st
	}
	delete(h.refs, ref)
	return abi.StatusOK
}

func (h *Host) ReferenceRef(env abi.Env, ref abi.Ref) (uint32, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	r, st := h.reference(e, ref)
	if st != abi.StatusOK {
		return 0, st
	}
	r.count++
	return r.count, abi.StatusOK
}

func (h *Host) ReferenceUnref(env abi.Env, ref abi.Ref) (uint32, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	r, st := h.reference(e, ref)
	if st != abi.StatusOK {
		return 0, st
	}
	if r.count == 0 {
		return 0, h.fail(e, abi.StatusGenericFailure, "reference count is already zero")
	}
	r.count--
	return r.count, abi.StatusOK
}

func (h *Host) GetReferenceValue(env abi.Env, ref abi.Ref) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	r, st := h.reference(e, ref)
	if st != abi.StatusOK {
		return 0, st
	}
	if r.target == nil {
		return 0, abi.StatusOK
	}
	return h.handle(e, r.target)
}

func (h *Host) Wrap(env abi.Env, obj abi.Value, data abi.Data, fin abi.Finalize, hint abi.Data) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	if o.wrap != nil {
		return h.fail(e, abi.StatusInvalidArg, "object is already wrapped")
	}
	o.wrap = &finalizerRecord{env: e, fin: fin, data: data, hint: hint}
	return abi.StatusOK
}

func (h *Host) Unwrap(env abi.Env, obj abi.Value) (abi.Data, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return 0, st
	}
	if o.wrap == nil {
		return 0, h.fail(e, abi.StatusInvalidArg, "object is not wrapped")
	}
	return o.wrap.data, abi.StatusOK
}

func (h *Host) RemoveWrap(env abi.Env, obj abi.Value) (abi.Data, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return 0, st
	}
	if o.wrap == nil {
		return 0, h.fail(e, abi.StatusInvalidArg, "object is not wrapped")
	}
	data := o.wrap.data
	o.wrap = nil
	return data, abi.StatusOK
}

func (h *Host) AddFinalizer(env abi.Env, obj abi.Value, data abi.Data, fin abi.Finalize, hint abi.Data) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.target(e, obj)
	if st != abi.StatusOK {
		return st
	}
	if fin == nil {
		return h.fail(e, abi.StatusInvalidArg, "nil finalizer")
	}
	o.fins = append(o.fins, &finalizerRecord{env: e, fin: fin, data: data, hint: hint})
	return abi.StatusOK
}

func (h *Host) SetInstanceData(env abi.Env, data abi.Data, fin abi.Finalize, hint abi.Data) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	e.instance = &finalizerRecord{env: e, fin: fin, data: data, hint: hint}
	return abi.StatusOK
}

func (h *Host) GetInstanceData(env abi.Env) (abi.Data, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if e.instance == nil {
		return 0, abi.StatusOK
	}
	return e.instance.data, abi.StatusOK
}
