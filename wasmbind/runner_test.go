package wasmbind

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/addon-runtime/errors"
	"github.com/wippyai/addon-runtime/napi"
	"github.com/wippyai/addon-runtime/refhost"
)

func loadMathAddon(t *testing.T) *refhost.Addon {
	t.Helper()
	ctx := context.Background()
	cfg := refhost.DefaultConfig()
	cfg.Workers = 1
	h, err := refhost.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	a, err := h.Load(ctx, "math", napi.Entry(func(env napi.Env, exports napi.Object) (napi.Object, error) {
		add, err := napi.NewFunction(env, "add", func(_ napi.Value, args napi.Args2[napi.Number, napi.Number]) (napi.Number, error) {
			x, err := args.A1.Float64()
			if err != nil {
				return napi.Number{}, err
			}
			y, err := args.A2.Float64()
			if err != nil {
				return napi.Number{}, err
			}
			return env.Float64(x + y)
		})
		if err != nil {
			return exports, err
		}
		upper, err := napi.NewFunction(env, "upper", func(_ napi.Value, args napi.Args1[napi.String]) (napi.String, error) {
			s, err := args.A1.UTF8()
			if err != nil {
				return napi.String{}, err
			}
			return env.String(strings.ToUpper(s))
		})
		if err != nil {
			return exports, err
		}
		if err := exports.Set("add", add); err != nil {
			return exports, err
		}
		return exports, exports.Set("upper", upper)
	}))
	require.NoError(t, err)
	return a
}

func TestRunnerCallsAddon(t *testing.T) {
	ctx := context.Background()
	r, err := NewRunner(ctx, loadMathAddon(t), Config{MemoryLimitPages: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(ctx) })

	out, err := r.Run(ctx, buildGuest(), "f64", guestName, 3, guestArgv, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 5.0, api.DecodeF64(out[0]))

	// Runs are independent instances of the same guest. The second pair
	// reads 3 followed by zeroed memory.
	out, err = r.Run(ctx, buildGuest(), "f64", guestName, 3, guestArgv+8, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, api.DecodeF64(out[0]))
	assert.Empty(t, r.Bridge().LastError())
}

func TestRunnerReportsAddonExceptions(t *testing.T) {
	ctx := context.Background()
	r, err := NewRunner(ctx, loadMathAddon(t), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(ctx) })

	// With argc 0 both operands are undefined.
	out, err := r.Run(ctx, buildGuest(), "f64", guestName, 3, guestArgv, 0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(api.DecodeF64(out[0])))
	assert.Contains(t, r.Bridge().LastError(), "number_expected")
}

func TestRunnerErrors(t *testing.T) {
	ctx := context.Background()
	r, err := NewRunner(ctx, loadMathAddon(t), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(ctx) })

	_, err = r.Run(ctx, buildGuest(), "missing")
	assert.ErrorIs(t, err, errors.ErrInvalidArg)

	_, err = r.Run(ctx, []byte("not wasm"), "f64")
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
}

func TestRunnerInitWASIIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, err := NewRunner(ctx, fakeAddon{}, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(ctx) })

	require.NoError(t, r.initWASI(ctx))
	assert.NotNil(t, r.runtime.Module(wasiModuleName))
	assert.NotNil(t, r.runtime.Module(ModuleName))
}
