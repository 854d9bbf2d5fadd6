package wasmbind

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// ModuleName is the import module guests use for addon calls.
const ModuleName = "addon"

// Result codes of call_str and last_error.
const (
	resultException = -1
)

// Caller calls an addon export by name. *refhost.Addon satisfies it.
type Caller interface {
	Call(ctx context.Context, name string, args ...any) (any, error)
}

// Bridge exposes an addon's exports to WebAssembly guests:
//
//	call_f64(name_ptr, name_len, argv_ptr, argc i32) f64
//	call_str(name_ptr, name_len, arg_ptr, arg_len, out_ptr, out_cap i32) i32
//	last_error(out_ptr, out_cap i32) i32
//
// call_f64 reads argc little-endian f64 arguments at argv_ptr and returns
// NaN when the call fails. call_str passes one string argument and writes
// the result to out_ptr, returning its length, the negated length when
// out_cap is too small, or -1 when the call fails. last_error copies the
// message of the last failure the same way.
type Bridge struct {
	addon   Caller
	mu      sync.Mutex
	lastErr string
}

// New returns a bridge for addon.
func New(addon Caller) *Bridge {
	return &Bridge{addon: addon}
}

// Instantiate registers the host module in r.
func (b *Bridge) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	i32, f64 := api.ValueTypeI32, api.ValueTypeF64
	mod, err := r.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.callF64), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{f64}).
		WithParameterNames("name_ptr", "name_len", "argv_ptr", "argc").
		Export("call_f64").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.callStr), []api.ValueType{i32, i32, i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("name_ptr", "name_len", "arg_ptr", "arg_len", "out_ptr", "out_cap").
		Export("call_str").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.lastError), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("out_ptr", "out_cap").
		Export("last_error").
		Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWasm, abi.StatusGenericFailure, err, "instantiate host module "+ModuleName)
	}
	return mod, nil
}

// LastError returns the message of the last failed call.
func (b *Bridge) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Bridge) fail(name string, err error) {
	Logger().Debug("guest call failed", zap.String("export", name), zap.Error(err))
	b.mu.Lock()
	b.lastErr = err.Error()
	b.mu.Unlock()
}

func (b *Bridge) callF64(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr, nameLen := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	argvPtr, argc := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
	stack[0] = api.EncodeF64(math.NaN())

	mem, err := memoryOf(mod)
	if err != nil {
		b.fail("", err)
		return
	}
	name, err := readString(mem, namePtr, nameLen)
	if err != nil {
		b.fail("", err)
		return
	}
	args := make([]any, argc)
	for i := range args {
		f, ok := mem.ReadFloat64Le(argvPtr + uint32(i)*8)
		if !ok {
			b.fail(name, outOfRange("argument", argvPtr+uint32(i)*8, 8))
			return
		}
		args[i] = f
	}

	out, err := b.addon.Call(ctx, name, args...)
	if err != nil {
		b.fail(name, err)
		return
	}
	f, ok := toFloat(out)
	if !ok {
		b.fail(name, errors.New(errors.PhaseWasm, abi.StatusInvalidArg).
			Op("call_f64").Path(name).Value(out).Detail("result %T is not numeric", out).Build())
		return
	}
	stack[0] = api.EncodeF64(f)
}

func (b *Bridge) callStr(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr, nameLen := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	argPtr, argLen := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
	outPtr, outCap := api.DecodeU32(stack[4]), api.DecodeU32(stack[5])
	stack[0] = api.EncodeI32(resultException)

	mem, err := memoryOf(mod)
	if err != nil {
		b.fail("", err)
		return
	}
	name, err := readString(mem, namePtr, nameLen)
	if err != nil {
		b.fail("", err)
		return
	}
	arg, err := readString(mem, argPtr, argLen)
	if err != nil {
		b.fail(name, err)
		return
	}

	out, err := b.addon.Call(ctx, name, arg)
	if err != nil {
		b.fail(name, err)
		return
	}
	s, ok := out.(string)
	if !ok {
		s = fmt.Sprint(out)
	}
	n, err := writeIfFits(mem, []byte(s), outPtr, outCap)
	if err != nil {
		b.fail(name, err)
		return
	}
	stack[0] = api.EncodeI32(n)
}

func (b *Bridge) lastError(_ context.Context, mod api.Module, stack []uint64) {
	outPtr, outCap := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	stack[0] = api.EncodeI32(resultException)
	mem, err := memoryOf(mod)
	if err != nil {
		Logger().Warn("guest has no memory", zap.Error(err))
		return
	}
	n, err := writeIfFits(mem, []byte(b.LastError()), outPtr, outCap)
	if err != nil {
		Logger().Warn("writing last error", zap.Error(err))
		n = resultException
	}
	stack[0] = api.EncodeI32(n)
}

func memoryOf(mod api.Module) (api.Memory, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, errors.New(errors.PhaseWasm, abi.StatusGenericFailure).
			Op("memory").Detail("module %q exports no memory", mod.Name()).Build()
	}
	return mem, nil
}

func readString(mem api.Memory, ptr, n uint32) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf, ok := mem.Read(ptr, n)
	if !ok {
		return "", outOfRange("string", ptr, n)
	}
	return string(buf), nil
}

// writeIfFits writes data at ptr when it fits in capacity and returns its
// length, or the negated length without writing when it does not.
func writeIfFits(mem api.Memory, data []byte, ptr, capacity uint32) (int32, error) {
	if uint32(len(data)) > capacity {
		return -int32(len(data)), nil
	}
	if len(data) > 0 && !mem.Write(ptr, data) {
		return 0, outOfRange("output", ptr, uint32(len(data)))
	}
	return int32(len(data)), nil
}

func outOfRange(what string, ptr, n uint32) error {
	return errors.New(errors.PhaseWasm, abi.StatusInvalidArg).
		Op("memory").Detail("%s [%d, %d) is out of guest memory", what, ptr, uint64(ptr)+uint64(n)).Build()
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case nil:
		return math.NaN(), true
	}
	return 0, false
}
