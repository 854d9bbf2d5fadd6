package refhost

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
)

// tsfn is a threadsafe function. Its queue is shared with producer
// goroutines; everything else runs on the loop.
type tsfn struct {
	host         *Host
	env          *environment
	callback     *object
	callJS       abi.ThreadsafeCallJS
	finalize     abi.Finalize
	cond         *sync.Cond
	name         string
	queue        []abi.Data
	id           abi.ThreadsafeFunction
	context      abi.Data
	finalizeData abi.Data
	maxQueue     int
	threads      int
	mu           sync.Mutex
	closing      bool
	aborted      bool
	finalized    bool
	scheduled    bool
	refed        bool
}

func (t *tsfn) isFinalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// schedule posts a drain to the loop unless one is already pending.
// Callers hold t.mu.
func (t *tsfn) schedule() {
	if t.scheduled || t.finalized {
		return
	}
	t.scheduled = true
	t.host.busy.add()
	err := t.host.loop.submit(func() {
		defer t.host.busy.done()
		t.drain()
	})
	if err != nil {
		t.scheduled = false
		t.host.busy.done()
	}
}

func (t *tsfn) call(data abi.Data, mode abi.TsfnCallMode) abi.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.closing {
			return abi.StatusClosing
		}
		if t.maxQueue == 0 || len(t.queue) < t.maxQueue {
			break
		}
		if mode == abi.TsfnNonBlocking {
			return abi.StatusQueueFull
		}
		if t.host.loop.onLoop() {
			return abi.StatusWouldDeadlock
		}
		t.cond.Wait()
	}

	t.queue = append(t.queue, data)
	t.schedule()
	return abi.StatusOK
}

func (t *tsfn) acquire() abi.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return abi.StatusClosing
	}
	t.threads++
	return abi.StatusOK
}

func (t *tsfn) release(mode abi.TsfnReleaseMode) abi.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.threads == 0 {
		return abi.StatusInvalidArg
	}
	t.threads--
	if mode == abi.TsfnAbort {
		t.aborted = true
	}
	if t.threads == 0 || t.aborted {
		t.closing = true
		t.cond.Broadcast()
		t.schedule()
	}
	return abi.StatusOK
}

// abort closes t regardless of its thread count.
func (t *tsfn) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.aborted = true
	t.closing = true
	t.cond.Broadcast()
	t.schedule()
}

// drain runs on the loop. Items dequeued after an abort are handed to
// callJS with a zero env so their data can be released.
func (t *tsfn) drain() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.scheduled = false
			done := t.closing && !t.finalized
			if done {
				t.finalized = true
			}
			t.mu.Unlock()
			if done {
				t.runFinalize()
			}
			return
		}
		data := t.queue[0]
		t.queue = t.queue[1:]
		aborted := t.aborted
		t.cond.Broadcast()
		t.mu.Unlock()

		if aborted {
			t.discard(data)
			continue
		}
		t.dispatch(data)
	}
}

func (t *tsfn) discard(data abi.Data) {
	if t.callJS == nil {
		return
	}
	t.host.guard("threadsafe function "+t.name, func() {
		t.callJS(0, 0, t.context, data)
	})
}

func (t *tsfn) dispatch(data abi.Data) {
	h := t.host
	e := t.env
	if e.torn {
		t.discard(data)
		return
	}
	h.stats.tsfnCalls++

	f := h.pushFrame(false, false)
	if t.callJS == nil {
		if _, st := h.invoke(e, t.callback, h.undefined, nil, nil); st != abi.StatusOK && st != abi.StatusPendingException {
			h.log.Warn("threadsafe call failed", zap.String("tsfn", t.name), zap.Stringer("status", st))
		}
	} else {
		var cb abi.Value
		if t.callback != nil {
			cb, _ = h.newHandle(t.callback)
		}
		h.guard("threadsafe function "+t.name, func() {
			t.callJS(e.id, cb, t.context, data)
		})
	}
	if h.unwindTo(f) {
		h.fatalf("threadsafe function "+t.name, "call returned with open handle scopes")
	}
	h.popFrame(f)
	h.flushException(e)
}

func (t *tsfn) runFinalize() {
	h := t.host
	h.mu.Lock()
	delete(h.tsfns, t.id)
	h.mu.Unlock()

	if t.finalize != nil {
		h.runFinalizers([]*finalizerRecord{{env: t.env, fin: t.finalize, data: t.finalizeData, hint: t.context}})
	}
}

func (h *Host) lookupTsfn(id abi.ThreadsafeFunction) (*tsfn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tsfns[id]
	return t, ok
}

func (h *Host) CreateThreadsafeFunction(env abi.Env, fn abi.Value, name string, maxQueue, initialThreads int, finalizeData abi.Data, finalize abi.Finalize, context abi.Data, callJS abi.ThreadsafeCallJS) (abi.ThreadsafeFunction, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if maxQueue < 0 || initialThreads < 1 {
		return 0, h.fail(e, abi.StatusInvalidArg, "invalid queue size or thread count")
	}

	var cb *object
	if !fn.IsNull() {
		if cb, st = h.value(e, fn); st != abi.StatusOK {
			return 0, st
		}
		if cb.typ != abi.Function {
			return 0, h.fail(e, abi.StatusFunctionExpected, "threadsafe function target is not a function")
		}
	}
	if cb == nil && callJS == nil {
		return 0, h.fail(e, abi.StatusInvalidArg, "either a function or a call_js callback is required")
	}

	h.seq++
	t := &tsfn{
		host:         h,
		env:          e,
		callback:     cb,
		callJS:       callJS,
		finalize:     finalize,
		name:         name,
		id:           abi.ThreadsafeFunction(h.seq),
		context:      context,
		finalizeData: finalizeData,
		maxQueue:     maxQueue,
		threads:      initialThreads,
		refed:        true,
	}
	t.cond = sync.NewCond(&t.mu)

	h.mu.Lock()
	h.tsfns[t.id] = t
	h.mu.Unlock()
	return t.id, abi.StatusOK
}

func (h *Host) GetThreadsafeFunctionContext(id abi.ThreadsafeFunction) (abi.Data, abi.Status) {
	t, ok := h.lookupTsfn(id)
	if !ok {
		return 0, abi.StatusInvalidArg
	}
	return t.context, abi.StatusOK
}

func (h *Host) CallThreadsafeFunction(id abi.ThreadsafeFunction, data abi.Data, mode abi.TsfnCallMode) abi.Status {
	t, ok := h.lookupTsfn(id)
	if !ok {
		return abi.StatusClosing
	}
	return t.call(data, mode)
}

func (h *Host) AcquireThreadsafeFunction(id abi.ThreadsafeFunction) abi.Status {
	t, ok := h.lookupTsfn(id)
	if !ok {
		return abi.StatusClosing
	}
	return t.acquire()
}

func (h *Host) ReleaseThreadsafeFunction(id abi.ThreadsafeFunction, mode abi.TsfnReleaseMode) abi.Status {
	t, ok := h.lookupTsfn(id)
	if !ok {
		return abi.StatusInvalidArg
	}
	return t.release(mode)
}

func (h *Host) setTsfnRef(env abi.Env, id abi.ThreadsafeFunction, refed bool) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	t, ok := h.lookupTsfn(id)
	if !ok {
		return h.fail(e, abi.StatusInvalidArg, "unknown threadsafe function")
	}
	t.mu.Lock()
	t.refed = refed
	t.mu.Unlock()
	return abi.StatusOK
}

func (h *Host) RefThreadsafeFunction(env abi.Env, id abi.ThreadsafeFunction) abi.Status {
	return h.setTsfnRef(env, id, true)
}

func (h *Host) UnrefThreadsafeFunction(env abi.Env, id abi.ThreadsafeFunction) abi.Status {
	return h.setTsfnRef(env, id, false)
}
