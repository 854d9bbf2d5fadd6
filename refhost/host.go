package refhost

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

var envSeq atomic.Uint64

// Host implements abi.Host in process.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc
	loop   *loop
	sem    *semaphore.Weighted
	log    *zap.Logger

	// loop-owned state
	objects       map[uint64]*object
	handles       map[abi.Value]*object
	refs          map[abi.Ref]*reference
	envs          map[abi.Env]*environment
	infos         map[abi.CallbackInfo]*callInfo
	deferreds     map[abi.Deferred]*object
	asyncContexts map[abi.AsyncContext]*asyncContext
	cbScopes      []abi.CallbackScope
	works         map[abi.AsyncWork]*work
	frames        []*frame
	global        *object
	undefined     *object
	null          *object
	trueObj       *object
	falseObj      *object
	stats         counters
	seq           uint64
	depth         int

	// shared state
	tsfns    map[abi.ThreadsafeFunction]*tsfn
	uncaught []*Exception
	fatal    error
	busy     tracker
	cfg      Config
	mu       sync.Mutex
	closed   atomic.Bool
}

type environment struct {
	exception *object
	instance  *finalizerRecord
	lastError abi.ExtendedErrorInfo
	name      string
	id        abi.Env
	torn      bool
}

type callInfo struct {
	this      *object
	newTarget *object
	args      []*object
	data      abi.Data
}

var _ abi.Host = (*Host)(nil)

// New creates a host and starts its event loop.
func New(cfg Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		ctx:           ctx,
		cancel:        cancel,
		cfg:           cfg,
		sem:           semaphore.NewWeighted(int64(cfg.Workers)),
		log:           Logger(),
		objects:       make(map[uint64]*object),
		handles:       make(map[abi.Value]*object),
		refs:          make(map[abi.Ref]*reference),
		envs:          make(map[abi.Env]*environment),
		infos:         make(map[abi.CallbackInfo]*callInfo),
		deferreds:     make(map[abi.Deferred]*object),
		asyncContexts: make(map[abi.AsyncContext]*asyncContext),
		works:         make(map[abi.AsyncWork]*work),
		tsfns:         make(map[abi.ThreadsafeFunction]*tsfn),
	}

	h.undefined = h.alloc(abi.Undefined, classPlain)
	h.null = h.alloc(abi.Null, classPlain)
	h.trueObj = h.alloc(abi.Boolean, classPlain)
	h.trueObj.b = true
	h.falseObj = h.alloc(abi.Boolean, classPlain)
	h.global = h.newPlain()
	for _, o := range []*object{h.undefined, h.null, h.trueObj, h.falseObj, h.global} {
		o.pinned = true
	}

	h.loop = newLoop()
	return h, nil
}

// Do runs fn on the event loop inside a fresh handle scope frame.
func (h *Host) Do(ctx context.Context, fn func() error) error {
	if h.closed.Load() && !h.loop.onLoop() {
		return ErrClosed
	}
	var fnErr error
	err := h.loop.call(ctx, func() {
		if ferr := h.Err(); ferr != nil {
			fnErr = ferr
			return
		}
		f := h.pushFrame(false, false)
		defer func() {
			if h.unwindTo(f) {
				h.fatalf("scope", "native code returned with open handle scopes")
			}
			h.popFrame(f)
		}()
		fnErr = fn()
	})
	if err != nil {
		return err
	}
	return fnErr
}

// Drain waits until no background work, threadsafe call or completion is
// outstanding.
func (h *Host) Drain(ctx context.Context) error {
	for {
		if err := h.busy.wait(ctx); err != nil {
			return err
		}
		if h.busy.pending() == 0 {
			return nil
		}
	}
}

// GC runs a full collection and the finalizers of everything collected.
func (h *Host) GC(ctx context.Context) error {
	return h.loop.call(ctx, func() {
		h.runFinalizers(h.gc())
		h.stats.gcRuns++
	})
}

// Err returns the fatal error that stopped the host, if any.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatal
}

// Uncaught returns exceptions reported through FatalException or left
// pending by completion callbacks.
func (h *Host) Uncaught() []*Exception {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Exception(nil), h.uncaught...)
}

// Close aborts threadsafe functions, waits for workers, runs every
// remaining finalizer once and stops the loop.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs error
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DrainTimeout)
	defer cancel()

	_ = h.loop.call(ctx, func() {
		for _, t := range h.liveTsfns() {
			t.abort()
		}
	})
	if err := h.Drain(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("drain: %w", err))
	}
	h.cancel()

	err := h.loop.call(context.Background(), func() {
		if h.cfg.GCOnClose {
			h.runFinalizers(h.gc())
		}
		h.teardown()
	})
	errs = multierr.Append(errs, err)
	h.loop.stop()

	for _, w := range h.works {
		if w.state.Load() == workQueued {
			errs = multierr.Append(errs, errors.GenericFailure(errors.PhaseHost,
				fmt.Sprintf("work %q still queued at close", w.name)))
		}
	}
	errs = multierr.Append(errs, h.Err())
	return errs
}

// teardown runs finalizers of every object still alive and then each
// environment's instance data finalizer.
func (h *Host) teardown() {
	var fins []*finalizerRecord
	for _, id := range h.sortedObjectIDs() {
		fins = append(fins, detachFinalizers(h.objects[id])...)
	}
	h.runFinalizers(fins)

	for _, e := range h.sortedEnvs() {
		h.teardownEnv(e)
	}
	h.refs = make(map[abi.Ref]*reference)
}

func (h *Host) teardownEnv(e *environment) {
	if e.torn {
		return
	}
	e.torn = true
	if rec := e.instance; rec != nil {
		e.instance = nil
		h.runFinalizers([]*finalizerRecord{rec})
	}
}

func (h *Host) runFinalizers(fins []*finalizerRecord) {
	if len(fins) == 0 {
		return
	}
	f := h.pushFrame(false, false)
	defer func() {
		h.unwindTo(f)
		h.popFrame(f)
	}()

	for _, rec := range fins {
		if rec.fin == nil {
			continue
		}
		h.stats.finalizers++
		h.guard("finalizer", func() {
			rec.fin(rec.env.id, rec.data, rec.hint)
		})
		h.flushException(rec.env)
	}
}

// guard runs native code and converts an escaping panic into a fatal error.
func (h *Host) guard(where string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.fatalf(where, fmt.Sprintf("panic crossed the embedding boundary: %v", r))
		}
	}()
	fn()
}

// flushException reports a pending exception left by a top-level callback.
func (h *Host) flushException(e *environment) {
	if e == nil || e.exception == nil {
		return
	}
	exc := h.exceptionFrom(e.exception)
	e.exception = nil
	h.reportUncaught(exc)
}

func (h *Host) reportUncaught(exc *Exception) {
	h.log.Warn("uncaught exception", zap.String("message", exc.Message), zap.String("code", exc.Code))
	h.mu.Lock()
	h.uncaught = append(h.uncaught, exc)
	h.mu.Unlock()
}

func (h *Host) fatalf(location, message string) {
	h.log.Error("fatal error", zap.String("location", location), zap.String("message", message))
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fatal == nil {
		h.fatal = &FatalError{Location: location, Message: message}
	}
}

// newEnv registers a fresh environment.
func (h *Host) newEnv(name string) *environment {
	e := &environment{id: abi.Env(envSeq.Add(1)), name: name}
	h.envs[e.id] = e
	return e
}

// enter validates the calling goroutine and env and clears the last error.
func (h *Host) enter(env abi.Env) (*environment, abi.Status) {
	if !h.loop.onLoop() {
		return nil, abi.StatusGenericFailure
	}
	e, ok := h.envs[env]
	if !ok || e.torn {
		return nil, abi.StatusInvalidArg
	}
	e.lastError = abi.ExtendedErrorInfo{}
	return e, abi.StatusOK
}

// fail records status as the env's last error and returns it.
func (h *Host) fail(e *environment, status abi.Status, msg string) abi.Status {
	if e != nil {
		e.lastError = abi.ExtendedErrorInfo{Message: msg, Status: status}
	}
	return status
}

// value resolves a handle, recording InvalidArg for stale handles.
func (h *Host) value(e *environment, v abi.Value) (*object, abi.Status) {
	o, ok := h.resolve(v)
	if !ok {
		return nil, h.fail(e, abi.StatusInvalidArg, fmt.Sprintf("invalid or stale handle %s", v))
	}
	return o, abi.StatusOK
}

// handle creates a handle for o in the current frame.
func (h *Host) handle(e *environment, o *object) (abi.Value, abi.Status) {
	v, st := h.newHandle(o)
	if st != abi.StatusOK {
		return 0, h.fail(e, st, "no open handle scope")
	}
	return v, abi.StatusOK
}

func (h *Host) liveTsfns() []*tsfn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*tsfn, 0, len(h.tsfns))
	for _, t := range h.tsfns {
		if !t.isFinalized() {
			out = append(out, t)
		}
	}
	return out
}

func (h *Host) sortedObjectIDs() []uint64 {
	ids := make([]uint64, 0, len(h.objects))
	for id := range h.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *Host) sortedEnvs() []*environment {
	envs := make([]*environment, 0, len(h.envs))
	for _, e := range h.envs {
		envs = append(envs, e)
	}
	slices.SortFunc(envs, func(a, b *environment) int { return cmp.Compare(a.id, b.id) })
	return envs
}

// GetVersion implements abi.ErrorHost.
func (h *Host) GetVersion(env abi.Env) (uint32, abi.Status) {
	if _, st := h.enter(env); st != abi.StatusOK {
		return 0, st
	}
	return abi.Version, abi.StatusOK
}

// FatalError implements abi.ErrorHost. The host stops accepting work.
func (h *Host) FatalError(location, message string) {
	h.fatalf(location, message)
}
