package capsule

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []EventType
}

func (r *recorder) OnCapsuleEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
}

type dropper struct{ dropped int }

func (d *dropper) Drop() { d.dropped++ }

func TestTable_BoxBorrowReclaim(t *testing.T) {
	tbl := New()

	token, err := tbl.Box("hello")
	require.NoError(t, err)
	require.False(t, token.IsNull())

	for i := 0; i < 3; i++ {
		v, ok := tbl.Borrow(token)
		require.True(t, ok)
		assert.Equal(t, "hello", v)
	}
	assert.Equal(t, 1, tbl.Len())

	v, ok := tbl.Reclaim(token)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, 0, tbl.Len())

	_, ok = tbl.Reclaim(token)
	assert.False(t, ok, "second reclaim must fail")
	_, ok = tbl.Borrow(token)
	assert.False(t, ok, "borrow after reclaim must fail")
}

func TestTable_StaleTokenDoesNotResolveReusedSlot(t *testing.T) {
	tbl := New()

	first, err := tbl.Box(1)
	require.NoError(t, err)
	_, ok := tbl.Reclaim(first)
	require.True(t, ok)

	second, err := tbl.Box(2)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, ok = tbl.Borrow(first)
	assert.False(t, ok)
	_, ok = tbl.Reclaim(first)
	assert.False(t, ok)

	v, ok := Get[int](tbl, second)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTable_NullToken(t *testing.T) {
	tbl := New()
	_, ok := tbl.Borrow(0)
	assert.False(t, ok)
	_, ok = tbl.Reclaim(0)
	assert.False(t, ok)
}

func TestTable_TypedHelpers(t *testing.T) {
	tbl := New()
	token, err := tbl.Box(func() int { return 7 })
	require.NoError(t, err)

	fn, ok := Get[func() int](tbl, token)
	require.True(t, ok)
	assert.Equal(t, 7, fn())

	_, ok = Get[string](tbl, token)
	assert.False(t, ok, "wrong type must not borrow")

	_, ok = Take[string](tbl, token)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len(), "take consumes even on type mismatch")
}

func TestTable_Observer(t *testing.T) {
	tbl := New()
	rec := &recorder{}
	tbl.Subscribe(rec)

	token, err := tbl.Box("x")
	require.NoError(t, err)
	tbl.Reclaim(token)
	tbl.Reclaim(token)

	tbl.Unsubscribe(rec)
	_, err = tbl.Box("y")
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventBoxed, EventReclaimed, EventStaleReclaim}, rec.events)
}

func TestTable_Close(t *testing.T) {
	tbl := New()
	d := &dropper{}
	_, err := tbl.Box(d)
	require.NoError(t, err)

	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())
	assert.Equal(t, 1, d.dropped)

	_, err = tbl.Box("late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTable_Concurrent(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				token, err := tbl.Box(g*1000 + i)
				if err != nil {
					t.Error(err)
					return
				}
				v, ok := Take[int](tbl, token)
				if !ok || v != g*1000+i {
					t.Errorf("reclaimed %v, %v", v, ok)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, tbl.Len())
}
