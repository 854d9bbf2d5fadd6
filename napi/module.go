package napi

import (
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// InitFunc initialises an addon. It returns the object to use as the
// module's exports, usually exports itself.
type InitFunc func(env Env, exports Object) (Object, error)

var (
	modules   = make(map[string]InitFunc)
	modulesMu sync.RWMutex
)

// Register makes an addon available by name, typically from an init
// function. It panics on an empty name, a nil init or a duplicate.
func Register(name string, init InitFunc) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	if name == "" {
		panic("napi: Register with an empty name")
	}
	if init == nil {
		panic("napi: Register " + name + " with a nil init")
	}
	if _, dup := modules[name]; dup {
		panic("napi: Register called twice for " + name)
	}
	modules[name] = init
}

// Lookup returns the registered addon entry for name.
func Lookup(name string) (abi.ModuleEntry, bool) {
	modulesMu.RLock()
	init, ok := modules[name]
	modulesMu.RUnlock()
	if !ok {
		return nil, false
	}
	return Entry(init), true
}

// Modules lists registered addon names in order.
func Modules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	return slices.Sorted(maps.Keys(modules))
}

// Entry adapts init into the function a host calls to load the addon.
// The environment is registered before init runs and torn down through
// the host's instance data finalizer.
func Entry(init InitFunc) abi.ModuleEntry {
	return func(host abi.Host, raw abi.Env, exports abi.Value) abi.Value {
		env := NewEnv(host, raw)
		if err := env.check(errors.PhaseModule, "set instance data", host.SetInstanceData(raw, 0, teardownEnv, 0)); err != nil {
			env.ThrowGo(err)
			return 0
		}

		out, err := safeInit(func() (Object, error) {
			return init(env, Object{env.value(exports)})
		})
		if err != nil {
			Logger().Debug("addon init failed", zap.Uint64("env", uint64(raw)), zap.Error(err))
			env.ThrowGo(err)
			return 0
		}
		if out.IsNull() {
			return exports
		}
		return out.raw
	}
}

func safeInit(fn func() (Object, error)) (o Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("addon init panicked", zap.Any("panic", r))
			o, err = Object{}, newPanicError(errors.PhaseModule, r)
		}
	}()
	return fn()
}
