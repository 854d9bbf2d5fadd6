package sample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/addon-runtime/napi"
	"github.com/wippyai/addon-runtime/refhost"
)

func loadSample(t *testing.T) (*refhost.Host, *refhost.Addon) {
	t.Helper()
	cfg := refhost.DefaultConfig()
	cfg.Workers = 2
	cfg.DrainTimeout = 2 * time.Second
	h, err := refhost.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	entry, ok := napi.Lookup(Name)
	require.True(t, ok)
	a, err := h.Load(context.Background(), Name, entry)
	require.NoError(t, err)
	return h, a
}

func requireException(t *testing.T, err error) *refhost.Exception {
	t.Helper()
	var exc *refhost.Exception
	require.ErrorAs(t, err, &exc)
	return exc
}

func TestExports(t *testing.T) {
	_, a := loadSample(t)
	names, err := a.Exports(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"add", "divide", "upper", "repeat", "words",
		"describe", "fail", "square", "sum", "Counter",
	}, names)
}

func TestCalls(t *testing.T) {
	_, a := loadSample(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		args []any
		want any
	}{
		{name: "add", args: []any{2, 3}, want: 5.0},
		{name: "divide", args: []any{9, 2}, want: 4.5},
		{name: "upper", args: []any{"hey"}, want: "HEY"},
		{name: "repeat", args: []any{"ab", 3}, want: "ababab"},
		{name: "words", args: []any{" one two  three "}, want: 3.0},
		{name: "sum", args: []any{1, 2, 3, 4}, want: 10.0},
		{name: "sum", args: nil, want: 0.0},
		{name: "describe", args: []any{"x"}, want: map[string]any{"kind": "string", "text": "x"}},
		{name: "describe", args: []any{map[string]any{"a": 1, "b": 2}}, want: map[string]any{"kind": "object", "keys": 2.0}},
	} {
		got, err := a.Call(ctx, tc.name, tc.args...)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestCallErrors(t *testing.T) {
	_, a := loadSample(t)
	ctx := context.Background()

	_, err := a.Call(ctx, "fail", "boom")
	exc := requireException(t, err)
	assert.Equal(t, "E_SAMPLE", exc.Code)
	assert.Equal(t, "boom", exc.Message)

	_, err = a.Call(ctx, "divide", 1, 0)
	exc = requireException(t, err)
	assert.Equal(t, "invalid_arg", exc.Code)

	_, err = a.Call(ctx, "repeat", "x", -1)
	exc = requireException(t, err)
	assert.Contains(t, exc.Message, "must not be negative")

	_, err = a.Call(ctx, "upper", 1)
	exc = requireException(t, err)
	assert.Equal(t, "TypeError", exc.Name)
	assert.Equal(t, "string_expected", exc.Code)
}

func TestSquareResolves(t *testing.T) {
	_, a := loadSample(t)
	ctx := context.Background()

	out, err := a.Call(ctx, "square", 12)
	require.NoError(t, err)
	p, ok := out.(*refhost.Promise)
	require.True(t, ok)
	got, err := p.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 144.0, got)
}

func TestCounter(t *testing.T) {
	h, a := loadSample(t)

	require.NoError(t, h.Do(context.Background(), func() error {
		env := napi.NewEnv(h, a.Env())
		cls, err := defineCounter(env)
		require.NoError(t, err)

		start, err := env.Int32(10)
		require.NoError(t, err)
		step, err := env.Int32(5)
		require.NoError(t, err)
		obj, err := cls.New(start, step)
		require.NoError(t, err)

		incV, err := obj.Get("increment")
		require.NoError(t, err)
		inc, err := napi.As[napi.Function](incV)
		require.NoError(t, err)
		_, err = inc.Call(obj)
		require.NoError(t, err)

		v, err := obj.Get("value")
		require.NoError(t, err)
		n, err := napi.As[napi.Number](v)
		require.NoError(t, err)
		f, err := n.Float64()
		require.NoError(t, err)
		assert.Equal(t, 15.0, f)

		strV, err := obj.Get("toString")
		require.NoError(t, err)
		toString, err := napi.As[napi.Function](strV)
		require.NoError(t, err)
		sv, err := toString.Call(obj)
		require.NoError(t, err)
		str, err := napi.As[napi.String](sv)
		require.NoError(t, err)
		s, err := str.UTF8()
		require.NoError(t, err)
		assert.Equal(t, "Counter(15)", s)

		bad, err := env.String("x")
		require.NoError(t, err)
		_, err = cls.New(bad)
		assert.Error(t, err)
		_, err = env.GetAndClearLastException()
		return err
	}))
}
