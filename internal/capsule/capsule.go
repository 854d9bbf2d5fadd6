package capsule

import (
	"errors"
	"sync"

	"github.com/wippyai/addon-runtime/abi"
)

var ErrClosed = errors.New("capsule table closed")

// EventType identifies a capsule lifecycle event.
type EventType uint8

const (
	EventBoxed EventType = iota
	EventReclaimed
	EventStaleReclaim
)

// Event represents a capsule lifecycle event.
type Event struct {
	Value any
	Token abi.Data
	Type  EventType
}

// Observer receives notifications about capsule lifecycle events.
type Observer interface {
	OnCapsuleEvent(Event)
}

// Dropper is optionally implemented by boxed values that need cleanup when
// the table is closed with the capsule still live.
type Dropper interface {
	Drop()
}

// Table is a generation-checked slot table of boxed values.
// Token 0 is reserved and always invalid.
type Table struct {
	entries   []entry
	freeList  []uint32
	observers []Observer
	mu        sync.RWMutex
	closed    bool
}

type entry struct {
	value any
	gen   uint32
	valid bool
}

// New creates an empty table.
func New() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

func makeToken(index, gen uint32) abi.Data {
	return abi.Data(uint64(gen)<<32 | uint64(index+1))
}

func splitToken(d abi.Data) (index, gen uint32, ok bool) {
	lo := uint32(uint64(d) & 0xffffffff)
	if lo == 0 {
		return 0, 0, false
	}
	return lo - 1, uint32(uint64(d) >> 32), true
}

// Box stores v and returns its token.
func (t *Table) Box(v any) (abi.Data, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}

	var idx uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		t.entries = append(t.entries, entry{})
		idx = uint32(len(t.entries) - 1)
	}

	e := &t.entries[idx]
	e.gen++
	e.value = v
	e.valid = true
	token := makeToken(idx, e.gen)
	observers := t.observers
	t.mu.Unlock()

	notify(observers, Event{Type: EventBoxed, Token: token, Value: v})
	return token, nil
}

// Borrow returns the value behind token without consuming it.
func (t *Table) Borrow(token abi.Data) (any, bool) {
	idx, gen, ok := splitToken(token)
	if !ok {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(idx) >= len(t.entries) {
		return nil, false
	}
	e := t.entries[idx]
	if !e.valid || e.gen != gen {
		return nil, false
	}
	return e.value, true
}

// Reclaim removes the value behind token and returns it. Only the first
// reclaim of a token succeeds.
func (t *Table) Reclaim(token abi.Data) (any, bool) {
	idx, gen, ok := splitToken(token)
	if !ok {
		return nil, false
	}

	t.mu.Lock()
	if int(idx) >= len(t.entries) {
		t.mu.Unlock()
		return nil, false
	}
	e := &t.entries[idx]
	if !e.valid || e.gen != gen {
		observers := t.observers
		t.mu.Unlock()
		notify(observers, Event{Type: EventStaleReclaim, Token: token})
		return nil, false
	}

	value := e.value
	e.value = nil
	e.valid = false
	t.freeList = append(t.freeList, idx)
	observers := t.observers
	t.mu.Unlock()

	notify(observers, Event{Type: EventReclaimed, Token: token, Value: value})
	return value, true
}

// Len returns the number of live capsules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(append([]Observer(nil), t.observers...), o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]Observer, 0, len(t.observers))
	for _, existing := range t.observers {
		if existing != o {
			next = append(next, existing)
		}
	}
	t.observers = next
}

// Close drops every live capsule and rejects further boxing.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	var dropped []any
	for i := range t.entries {
		if t.entries[i].valid {
			dropped = append(dropped, t.entries[i].value)
			t.entries[i].valid = false
			t.entries[i].value = nil
		}
	}
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	for _, v := range dropped {
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

// Get borrows the value behind token as a T.
func Get[T any](t *Table, token abi.Data) (T, bool) {
	v, ok := t.Borrow(token)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Take reclaims the value behind token as a T. The capsule is consumed even
// when the stored value has a different type.
func Take[T any](t *Table, token abi.Data) (T, bool) {
	v, ok := t.Reclaim(token)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

func notify(observers []Observer, ev Event) {
	for _, o := range observers {
		o.OnCapsuleEvent(ev)
	}
}
