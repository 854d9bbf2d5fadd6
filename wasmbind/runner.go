package wasmbind

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

const wasiModuleName = "wasi_snapshot_preview1"

const (
	ebadf     = 8          // POSIX EBADF error code
	invalidFD = 0xFFFFFFFF // -1 as uint32
)

// Config holds configuration for a Runner.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 keeps the
	// wazero default.
	MemoryLimitPages uint32

	// Stdout and Stderr receive guest output through WASI. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Args are the guest's WASI command line arguments.
	Args []string
}

// Runner owns a wazero runtime with WASI and the addon bridge installed.
type Runner struct {
	runtime wazero.Runtime
	bridge  *Bridge
	cfg     Config

	wasiMu   sync.Mutex
	wasiDone atomic.Bool
}

// NewRunner creates a runtime whose guests can call addon.
func NewRunner(ctx context.Context, addon Caller, cfg Config) (*Runner, error) {
	rc := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := &Runner{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		bridge:  New(addon),
		cfg:     cfg,
	}
	if err := r.initWASI(ctx); err != nil {
		_ = r.runtime.Close(ctx)
		return nil, err
	}
	if _, err := r.bridge.Instantiate(ctx, r.runtime); err != nil {
		_ = r.runtime.Close(ctx)
		return nil, err
	}
	return r, nil
}

// Bridge returns the bridge guests are linked against.
func (r *Runner) Bridge() *Bridge {
	return r.bridge
}

// initWASI instantiates WASI preview1 once per runtime.
func (r *Runner) initWASI(ctx context.Context) error {
	if r.wasiDone.Load() {
		return nil
	}
	r.wasiMu.Lock()
	defer r.wasiMu.Unlock()
	if r.wasiDone.Load() {
		return nil
	}
	if r.runtime.Module(wasiModuleName) != nil {
		r.wasiDone.Store(true)
		return nil
	}
	if _, err := instantiateWASI(ctx, r.runtime); err != nil {
		if r.runtime.Module(wasiModuleName) == nil {
			return errors.Wrap(errors.PhaseWasm, abi.StatusGenericFailure, err, "instantiate WASI")
		}
	}
	r.wasiDone.Store(true)
	return nil
}

// instantiateWASI registers WASI preview1 plus the adapter stubs emitted
// by toolchains that target the component model adapter.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasiModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {}), nil, nil).
		Export("reset_adapter_state")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = ebadf
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export("adapter_close_badfd")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = invalidFD
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export("adapter_open_badfd")

	return builder.Instantiate(ctx)
}

// Run compiles and instantiates wasm, calls its entry export with params
// and closes the instance. A guest that exits through proc_exit with code
// zero counts as success.
func (r *Runner) Run(ctx context.Context, wasm []byte, entry string, params ...uint64) ([]uint64, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWasm, abi.StatusInvalidArg, err, "compile guest")
	}
	defer compiled.Close(ctx)

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithArgs(r.cfg.Args...)
	if r.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(r.cfg.Stdout)
	}
	if r.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(r.cfg.Stderr)
	}

	mod, err := r.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWasm, abi.StatusGenericFailure, err, "instantiate guest")
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return nil, errors.New(errors.PhaseWasm, abi.StatusInvalidArg).
			Op("run").Path(entry).Detail("guest exports no function %q", entry).Build()
	}

	Logger().Debug("running guest", zap.String("entry", entry), zap.Int("params", len(params)))
	out, err := fn.Call(ctx, params...)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
			return nil, nil
		}
		return nil, errors.Wrap(errors.PhaseWasm, abi.StatusGenericFailure, err, "call "+entry)
	}
	return out, nil
}

// Close releases the runtime and every module in it.
func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
