package refhost

import (
	"math/big"
	"slices"

	"github.com/wippyai/addon-runtime/abi"
)

type objClass uint8

const (
	classPlain objClass = iota
	classArray
	classFunction
	classError
	classDate
	classPromise
	classArrayBuffer
)

// object is a host value. Primitives are objects too so every handle
// resolves the same way.
type object struct {
	big      *big.Int
	props    *propMap
	fn       *function
	ext      *finalizerRecord
	promise  *promiseState
	wrap     *finalizerRecord
	proto    *object
	str      string
	elems    []*object
	buf      []byte
	fins     []*finalizerRecord
	id       uint64
	num      float64
	typ      abi.ValueType
	class    objClass
	b        bool
	detached bool
	frozen   bool
	sealed   bool
	marked   bool
	pinned   bool
}

type property struct {
	value  *object
	getter *object
	setter *object
	attrs  abi.PropertyAttributes
}

func (p *property) accessor() bool { return p.getter != nil || p.setter != nil }

// propMap keeps insertion order for key enumeration.
type propMap struct {
	byKey map[string]*property
	keys  []string
}

func newPropMap() *propMap {
	return &propMap{byKey: make(map[string]*property)}
}

func (m *propMap) get(key string) (*property, bool) {
	if m == nil {
		return nil, false
	}
	p, ok := m.byKey[key]
	return p, ok
}

func (m *propMap) set(key string, p *property) {
	if _, ok := m.byKey[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.byKey[key] = p
}

func (m *propMap) remove(key string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.byKey[key]; !ok {
		return false
	}
	delete(m.byKey, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

type function struct {
	cb        abi.Callback
	env       *environment
	prototype *object
	name      string
	data      abi.Data
	class     bool
}

type finalizerRecord struct {
	env  *environment
	fin  abi.Finalize
	data abi.Data
	hint abi.Data
}

type frame struct {
	handles   []abi.Value
	id        uint64
	native    bool
	escapable bool
	escaped   bool
}

func (h *Host) alloc(typ abi.ValueType, class objClass) *object {
	h.seq++
	o := &object{id: h.seq, typ: typ, class: class}
	h.objects[o.id] = o
	h.stats.allocated++
	return o
}

func (h *Host) newPlain() *object {
	o := h.alloc(abi.Object, classPlain)
	o.props = newPropMap()
	return o
}

func (h *Host) pushFrame(native, escapable bool) *frame {
	h.seq++
	f := &frame{id: h.seq, native: native, escapable: escapable}
	h.frames = append(h.frames, f)
	return f
}

func (h *Host) topFrame() *frame {
	if len(h.frames) == 0 {
		return nil
	}
	return h.frames[len(h.frames)-1]
}

func (h *Host) findFrame(id uint64) int {
	for i := len(h.frames) - 1; i >= 0; i-- {
		if h.frames[i].id == id {
			return i
		}
	}
	return -1
}

// popFrame removes f, which must be the top frame, and invalidates its handles.
func (h *Host) popFrame(f *frame) {
	top := h.topFrame()
	if top != f {
		return
	}
	for _, v := range f.handles {
		delete(h.handles, v)
	}
	h.frames = h.frames[:len(h.frames)-1]
}

// unwindTo pops every frame above f, reporting whether any were left open.
func (h *Host) unwindTo(f *frame) bool {
	leaked := false
	for top := h.topFrame(); top != nil && top != f; top = h.topFrame() {
		leaked = true
		h.popFrame(top)
	}
	return leaked
}

func (h *Host) newHandle(o *object) (abi.Value, abi.Status) {
	f := h.topFrame()
	if f == nil || o == nil {
		return 0, abi.StatusGenericFailure
	}
	h.seq++
	v := abi.Value(h.seq)
	h.handles[v] = o
	f.handles = append(f.handles, v)
	return v, abi.StatusOK
}

func (h *Host) resolve(v abi.Value) (*object, bool) {
	o, ok := h.handles[v]
	return o, ok
}

// gc marks from the roots and sweeps everything else. Finalizers of swept
// objects are returned in collection order and must be run by the caller.
func (h *Host) gc() []*finalizerRecord {
	for _, o := range h.objects {
		o.marked = false
	}

	var stack []*object
	push := func(o *object) {
		if o != nil && !o.marked {
			o.marked = true
			stack = append(stack, o)
		}
	}

	for _, o := range h.objects {
		if o.pinned {
			push(o)
		}
	}
	for _, o := range h.handles {
		push(o)
	}
	for _, r := range h.refs {
		if r.count > 0 {
			push(r.target)
		}
	}
	for _, e := range h.envs {
		push(e.exception)
	}
	for _, p := range h.deferreds {
		push(p)
	}
	for _, c := range h.asyncContexts {
		push(c.resource)
	}
	for _, w := range h.works {
		push(w.resource)
	}
	for _, t := range h.liveTsfns() {
		push(t.callback)
	}

	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if o.props != nil {
			for _, k := range o.props.keys {
				p := o.props.byKey[k]
				push(p.value)
				push(p.getter)
				push(p.setter)
			}
		}
		for _, e := range o.elems {
			push(e)
		}
		push(o.proto)
		if o.fn != nil {
			push(o.fn.prototype)
		}
		if o.promise != nil {
			push(o.promise.value)
		}
	}

	var dead []uint64
	for id, o := range h.objects {
		if !o.marked {
			dead = append(dead, id)
		}
	}
	slices.Sort(dead)

	var fins []*finalizerRecord
	for _, id := range dead {
		o := h.objects[id]
		delete(h.objects, id)
		h.stats.collected++
		fins = append(fins, detachFinalizers(o)...)
	}

	for _, r := range h.refs {
		if r.target != nil && !r.target.marked {
			r.target = nil
		}
	}
	return fins
}

func detachFinalizers(o *object) []*finalizerRecord {
	var fins []*finalizerRecord
	if o.wrap != nil {
		fins = append(fins, o.wrap)
		o.wrap = nil
	}
	fins = append(fins, o.fins...)
	o.fins = nil
	if o.ext != nil && o.ext.fin != nil {
		fins = append(fins, o.ext)
		o.ext = &finalizerRecord{data: o.ext.data}
	}
	return fins
}
