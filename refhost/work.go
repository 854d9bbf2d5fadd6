package refhost

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
)

const (
	workCreated int32 = iota
	workQueued
	workRunning
	workDone
	workCancelled
)

type work struct {
	env       *environment
	resource  *object
	execute   abi.AsyncExecute
	complete  abi.AsyncComplete
	name      string
	id        abi.AsyncWork
	data      abi.Data
	state     atomic.Int32
	completed bool
}

func (h *Host) CreateAsyncWork(env abi.Env, resource abi.Value, name string, execute abi.AsyncExecute, complete abi.AsyncComplete, data abi.Data) (abi.AsyncWork, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if execute == nil {
		return 0, h.fail(e, abi.StatusInvalidArg, "nil execute callback")
	}
	res := h.newPlain()
	if !resource.IsNull() {
		if res, st = h.target(e, resource); st != abi.StatusOK {
			return 0, st
		}
	}

	h.seq++
	w := &work{
		id:       abi.AsyncWork(h.seq),
		env:      e,
		resource: res,
		name:     name,
		execute:  execute,
		complete: complete,
		data:     data,
	}
	h.works[w.id] = w
	return w.id, abi.StatusOK
}

func (h *Host) work(e *environment, id abi.AsyncWork) (*work, abi.Status) {
	w, ok := h.works[id]
	if !ok {
		return nil, h.fail(e, abi.StatusInvalidArg, "unknown or deleted async work")
	}
	return w, abi.StatusOK
}

func (h *Host) DeleteAsyncWork(env abi.Env, id abi.AsyncWork) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	w, st := h.work(e, id)
	if st != abi.StatusOK {
		return st
	}
	if w.state.Load() != workCreated && !w.completed {
		return h.fail(e, abi.StatusGenericFailure, "async work is queued and not yet completed")
	}
	delete(h.works, id)
	return abi.StatusOK
}

func (h *Host) QueueAsyncWork(env abi.Env, id abi.AsyncWork) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	w, st := h.work(e, id)
	if st != abi.StatusOK {
		return st
	}
	if !w.state.CompareAndSwap(workCreated, workQueued) {
		return h.fail(e, abi.StatusGenericFailure, "async work was already queued")
	}
	h.busy.add()
	go h.runWork(w)
	return abi.StatusOK
}

func (h *Host) CancelAsyncWork(env abi.Env, id abi.AsyncWork) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	w, st := h.work(e, id)
	if st != abi.StatusOK {
		return st
	}
	if !w.state.CompareAndSwap(workQueued, workCancelled) {
		return h.fail(e, abi.StatusGenericFailure, "async work is not queued or already started")
	}
	h.submitCompletion(w, abi.StatusCancelled)
	return abi.StatusOK
}

// runWork executes w on a pool slot and posts its completion to the loop.
func (h *Host) runWork(w *work) {
	if err := h.sem.Acquire(h.ctx, 1); err != nil {
		if w.state.CompareAndSwap(workQueued, workCancelled) {
			h.submitCompletion(w, abi.StatusCancelled)
		}
		return
	}

	if !w.state.CompareAndSwap(workQueued, workRunning) {
		// cancelled while waiting; the cancel path owns the completion
		h.sem.Release(1)
		return
	}

	status := abi.StatusOK
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("async work panicked", zap.String("work", w.name), zap.Any("panic", r))
				status = abi.StatusGenericFailure
			}
		}()
		w.execute(w.env.id, w.data)
	}()
	h.sem.Release(1)

	w.state.Store(workDone)
	h.submitCompletion(w, status)
}

// submitCompletion posts w's completion. It consumes one busy count.
func (h *Host) submitCompletion(w *work, status abi.Status) {
	err := h.loop.submit(func() {
		defer h.busy.done()
		h.runComplete(w, status)
	})
	if err != nil {
		h.log.Warn("dropping async completion", zap.String("work", w.name), zap.Error(err))
		h.busy.done()
	}
}

func (h *Host) runComplete(w *work, status abi.Status) {
	if w.completed {
		return
	}
	w.completed = true
	switch status {
	case abi.StatusOK:
		h.stats.worksCompleted++
	case abi.StatusCancelled:
		h.stats.worksCancelled++
	}
	if w.complete == nil || w.env.torn {
		return
	}

	f := h.pushFrame(false, false)
	h.guard(fmt.Sprintf("async work %q completion", w.name), func() {
		w.complete(w.env.id, status, w.data)
	})
	if h.unwindTo(f) {
		h.fatalf("async work "+w.name, "completion returned with open handle scopes")
	}
	h.popFrame(f)
	h.flushException(w.env)
}
