package wasmbind

import (
	"context"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/addon-runtime/errors"
)

type fakeAddon map[string]func(args ...any) (any, error)

func (f fakeAddon) Call(_ context.Context, name string, args ...any) (any, error) {
	fn, ok := f[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseHost, "export", name)
	}
	return fn(args...)
}

var testAddon = fakeAddon{
	"add": func(args ...any) (any, error) {
		sum := 0.0
		for _, a := range args {
			sum += a.(float64)
		}
		return sum, nil
	},
	"shout": func(args ...any) (any, error) {
		return strings.ToUpper(args[0].(string)), nil
	},
	"count": func(args ...any) (any, error) {
		return len(args[0].(string)), nil
	},
	"object": func(...any) (any, error) {
		return map[string]any{"a": 1.0}, nil
	},
}

type guest struct {
	t      *testing.T
	bridge *Bridge
	mod    api.Module
}

func newGuest(t *testing.T, addon Caller) *guest {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })

	b := New(addon)
	_, err := b.Instantiate(ctx, r)
	require.NoError(t, err)
	mod, err := r.Instantiate(ctx, buildGuest())
	require.NoError(t, err)
	return &guest{t: t, bridge: b, mod: mod}
}

func (g *guest) write(ptr uint32, s string) uint32 {
	g.t.Helper()
	require.True(g.t, g.mod.Memory().Write(ptr, []byte(s)))
	return uint32(len(s))
}

func (g *guest) read(ptr, n uint32) string {
	g.t.Helper()
	buf, ok := g.mod.Memory().Read(ptr, n)
	require.True(g.t, ok)
	return string(buf)
}

func (g *guest) call(name string, params ...uint64) uint64 {
	g.t.Helper()
	out, err := g.mod.ExportedFunction(name).Call(context.Background(), params...)
	require.NoError(g.t, err)
	require.Len(g.t, out, 1)
	return out[0]
}

func (g *guest) callF64(name string, argc uint32) float64 {
	g.t.Helper()
	n := g.write(guestScratch, name)
	return api.DecodeF64(g.call("f64", guestScratch, uint64(n), guestArgv, uint64(argc)))
}

func (g *guest) callStr(name, arg string, outCap uint32) int32 {
	g.t.Helper()
	n := g.write(guestScratch, name)
	argPtr := uint32(guestScratch + 32)
	argLen := g.write(argPtr, arg)
	return api.DecodeI32(g.call("str", guestScratch, uint64(n), uint64(argPtr), uint64(argLen), guestOut, uint64(outCap)))
}

func (g *guest) lastError() string {
	g.t.Helper()
	n := api.DecodeI32(g.call("err", guestOut, 1024))
	require.GreaterOrEqual(g.t, n, int32(0))
	return g.read(guestOut, uint32(n))
}

func TestCallF64(t *testing.T) {
	g := newGuest(t, testAddon)

	assert.Equal(t, 5.0, g.callF64("add", 2))
	assert.Equal(t, 2.0, g.callF64("add", 1))
	assert.Equal(t, 0.0, g.callF64("add", 0))
	assert.Empty(t, g.bridge.LastError())
}

func TestCallF64Failures(t *testing.T) {
	g := newGuest(t, testAddon)

	assert.True(t, math.IsNaN(g.callF64("missing", 0)))
	assert.Contains(t, g.lastError(), `export "missing" not found`)
	assert.Equal(t, g.bridge.LastError(), g.lastError())

	assert.True(t, math.IsNaN(g.callF64("object", 0)))
	assert.Contains(t, g.lastError(), "is not numeric")

	out := api.DecodeF64(g.call("f64", guestScratch, 1<<20, guestArgv, 0))
	assert.True(t, math.IsNaN(out))
	assert.Contains(t, g.lastError(), "out of guest memory")

	out = api.DecodeF64(g.call("f64", guestName, 3, 65536-8, 2))
	assert.True(t, math.IsNaN(out))
	assert.Contains(t, g.lastError(), "argument")
}

func TestCallStr(t *testing.T) {
	g := newGuest(t, testAddon)

	n := g.callStr("shout", "hey", 16)
	require.Equal(t, int32(3), n)
	assert.Equal(t, "HEY", g.read(guestOut, 3))

	require.True(t, g.mod.Memory().Write(guestOut, []byte("....")))
	assert.Equal(t, int32(-5), g.callStr("shout", "hello", 4))
	assert.Equal(t, "....", g.read(guestOut, 4))

	assert.Equal(t, int32(1), g.callStr("count", "abcde", 4))
	assert.Equal(t, "5", g.read(guestOut, 1))

	assert.Equal(t, int32(0), g.callStr("shout", "", 0))
}

func TestCallStrFailure(t *testing.T) {
	g := newGuest(t, testAddon)

	assert.Equal(t, int32(resultException), g.callStr("nope", "x", 16))
	msg := g.bridge.LastError()
	assert.Contains(t, msg, "nope")

	n := api.DecodeI32(g.call("err", guestOut, 2))
	assert.Equal(t, -int32(len(msg)), n)
}

func TestFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	g := newGuest(t, testAddon)
	assert.True(t, math.IsNaN(g.callF64("missing", 0)))

	entries := logs.FilterMessage("guest call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "missing", entries[0].ContextMap()["export"])
}

func TestToFloat(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 1.5, want: 1.5, ok: true},
		{in: true, want: 1, ok: true},
		{in: false, want: 0, ok: true},
		{in: big.NewInt(-7), want: -7, ok: true},
		{in: "1", ok: false},
	} {
		got, ok := toFloat(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "%v", tc.in)
		}
	}

	got, ok := toFloat(nil)
	assert.True(t, ok)
	assert.True(t, math.IsNaN(got))
}
