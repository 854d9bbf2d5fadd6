package napi

import (
	stderrors "errors"
	"io"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
	"github.com/wippyai/addon-runtime/internal/capsule"
)

// PanicCode is the code of errors thrown for recovered panics.
const PanicCode = "ERR_NATIVE_PANIC"

// boxes holds every Go value handed to a host as an opaque token.
var boxes = capsule.New()

// Env is an environment handle paired with the host function table.
// It is only valid on the host's event loop.
type Env struct {
	host abi.Host
	raw  abi.Env
}

type envState struct {
	instance any
	cleanup  []func()
	host     abi.Host
}

var (
	envs   = make(map[abi.Env]*envState)
	envsMu sync.RWMutex
)

func registerEnv(host abi.Host, raw abi.Env) *envState {
	envsMu.Lock()
	defer envsMu.Unlock()
	st, ok := envs[raw]
	if !ok {
		st = &envState{host: host}
		envs[raw] = st
	}
	return st
}

func lookupEnv(raw abi.Env) (Env, bool) {
	envsMu.RLock()
	defer envsMu.RUnlock()
	st, ok := envs[raw]
	if !ok {
		return Env{}, false
	}
	return Env{host: st.host, raw: raw}, true
}

func stateOf(raw abi.Env) (*envState, bool) {
	envsMu.RLock()
	defer envsMu.RUnlock()
	st, ok := envs[raw]
	return st, ok
}

// teardownEnv is installed as the host's instance data finalizer.
func teardownEnv(raw abi.Env, _, _ abi.Data) {
	envsMu.Lock()
	st, ok := envs[raw]
	delete(envs, raw)
	envsMu.Unlock()
	if !ok {
		return
	}

	for _, fn := range slices.Backward(st.cleanup) {
		fn()
	}
	if c, ok := st.instance.(io.Closer); ok {
		if err := c.Close(); err != nil {
			Logger().Warn("closing instance data", zap.Uint64("env", uint64(raw)), zap.Error(err))
		}
	}
}

// NewEnv wraps a raw environment. Entry does this for module init; hosts
// that drive addons directly use it to build an Env for their own calls.
func NewEnv(host abi.Host, raw abi.Env) Env {
	registerEnv(host, raw)
	return Env{host: host, raw: raw}
}

// Raw returns the environment handle.
func (env Env) Raw() abi.Env { return env.raw }

// Host returns the host function table.
func (env Env) Host() abi.Host { return env.host }

// IsValid reports whether env is still registered.
func (env Env) IsValid() bool {
	_, ok := stateOf(env.raw)
	return ok && env.host != nil
}

// check converts a host status into an error, filling the detail from the
// host's last error info.
func (env Env) check(phase errors.Phase, op string, st abi.Status) error {
	if st == abi.StatusOK {
		return nil
	}
	b := errors.New(phase, st).Op(op)
	if info, ist := env.host.GetLastErrorInfo(env.raw); ist == abi.StatusOK && info.Status == st && info.Message != "" {
		b.Detail("%s", info.Message)
	}
	return b.Build()
}

func (env Env) value(raw abi.Value) Value {
	return Value{env: env, raw: raw}
}

// GetVersion returns the version of the embedding interface.
func (env Env) GetVersion() (uint32, error) {
	v, st := env.host.GetVersion(env.raw)
	return v, env.check(errors.PhaseModule, "get version", st)
}

// FatalError stops the host. It does not return control to the addon in a
// real engine; the reference host records it and refuses further work.
func (env Env) FatalError(location, message string) {
	Logger().Error("fatal error", zap.String("location", location), zap.String("message", message))
	env.host.FatalError(location, message)
}

// OnTeardown registers fn to run when the environment is torn down. Hooks
// run in reverse order of registration.
func (env Env) OnTeardown(fn func()) error {
	if fn == nil {
		return errors.InvalidArg(errors.PhaseModule, "nil teardown hook")
	}
	envsMu.Lock()
	defer envsMu.Unlock()
	st, ok := envs[env.raw]
	if !ok {
		return errors.Closing(errors.PhaseModule, "environment was torn down")
	}
	st.cleanup = append(st.cleanup, fn)
	return nil
}

// SetInstanceData stores per-environment data. A value implementing
// io.Closer is closed at teardown.
func SetInstanceData(env Env, v any) error {
	envsMu.Lock()
	defer envsMu.Unlock()
	st, ok := envs[env.raw]
	if !ok {
		return errors.Closing(errors.PhaseModule, "environment was torn down")
	}
	st.instance = v
	return nil
}

// InstanceData returns the per-environment data stored by SetInstanceData.
func InstanceData[T any](env Env) (T, error) {
	var zero T
	st, ok := stateOf(env.raw)
	if !ok {
		return zero, errors.Closing(errors.PhaseModule, "environment was torn down")
	}
	if st.instance == nil {
		return zero, errors.NotFound(errors.PhaseModule, "instance data", "")
	}
	v, ok := st.instance.(T)
	if !ok {
		return zero, errors.New(errors.PhaseModule, abi.StatusInvalidArg).
			Op("instance data").Value(st.instance).Detail("stored value is %T", st.instance).Build()
	}
	return v, nil
}

// Throw throws v.
func (env Env) Throw(v Value) error {
	return env.check(errors.PhaseCallback, "throw", env.host.Throw(env.raw, v.raw))
}

// ThrowError throws a new Error with code and message. An empty code is
// omitted.
func (env Env) ThrowError(code, msg string) error {
	return env.check(errors.PhaseCallback, "throw error", env.host.ThrowError(env.raw, code, msg))
}

// ThrowTypeError throws a new TypeError.
func (env Env) ThrowTypeError(code, msg string) error {
	return env.check(errors.PhaseCallback, "throw type error", env.host.ThrowTypeError(env.raw, code, msg))
}

// ThrowRangeError throws a new RangeError.
func (env Env) ThrowRangeError(code, msg string) error {
	return env.check(errors.PhaseCallback, "throw range error", env.host.ThrowRangeError(env.raw, code, msg))
}

// IsExceptionPending reports whether an exception is pending.
func (env Env) IsExceptionPending() (bool, error) {
	b, st := env.host.IsExceptionPending(env.raw)
	return b, env.check(errors.PhaseCallback, "is exception pending", st)
}

// GetAndClearLastException returns and clears the pending exception. The
// result is undefined when nothing is pending.
func (env Env) GetAndClearLastException() (Value, error) {
	v, st := env.host.GetAndClearLastException(env.raw)
	if err := env.check(errors.PhaseCallback, "get and clear exception", st); err != nil {
		return Value{}, err
	}
	if v.IsNull() {
		return env.Undefined()
	}
	return env.value(v), nil
}

// FatalException reports err as uncaught without unwinding.
func (env Env) FatalException(err Value) error {
	return env.check(errors.PhaseCallback, "fatal exception", env.host.FatalException(env.raw, err.raw))
}

// ThrowGo throws err as a host error unless an exception is already
// pending. The error code comes from a Code() string method when err has
// one and from its status otherwise.
func (env Env) ThrowGo(err error) {
	if err == nil {
		return
	}
	if pending, perr := env.IsExceptionPending(); perr != nil || pending {
		return
	}
	code, status := errorCode(err)
	var st abi.Status
	if status.Valid() && expectationStatus(status) {
		st = env.host.ThrowTypeError(env.raw, code, err.Error())
	} else {
		st = env.host.ThrowError(env.raw, code, err.Error())
	}
	if st != abi.StatusOK {
		Logger().Warn("throwing error failed", zap.Error(err), zap.Stringer("status", st))
	}
}

// ErrorValue builds a host Error object for err without throwing it.
func (env Env) ErrorValue(err error) (Error, error) {
	code, status := errorCode(err)
	if expectationStatus(status) {
		return env.NewTypeError(code, err.Error())
	}
	return env.NewError(code, err.Error())
}

func errorCode(err error) (string, abi.Status) {
	status := errors.StatusOf(err)
	var coded interface{ Code() string }
	if stderrors.As(err, &coded) {
		return coded.Code(), status
	}
	return status.String(), status
}

func expectationStatus(st abi.Status) bool {
	switch st {
	case abi.StatusObjectExpected, abi.StatusStringExpected, abi.StatusNameExpected,
		abi.StatusFunctionExpected, abi.StatusNumberExpected, abi.StatusBooleanExpected,
		abi.StatusArrayExpected, abi.StatusBigintExpected, abi.StatusDateExpected,
		abi.StatusArraybufferExpected, abi.StatusDetachableArraybufferExpected:
		return true
	}
	return false
}

// panicError is a recovered panic crossing the boundary.
type panicError struct {
	err *errors.Error
}

func newPanicError(phase errors.Phase, recovered any) *panicError {
	return &panicError{err: errors.Panic(phase, recovered)}
}

func (p *panicError) Error() string { return p.err.Error() }
func (p *panicError) Unwrap() error { return p.err }
func (p *panicError) Code() string  { return PanicCode }
