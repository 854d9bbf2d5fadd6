package napi

import (
	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// Ref is a persistent reference. With a count above zero it keeps its
// target alive; at zero it is weak and Deref may report the target gone.
type Ref struct {
	env     Env
	raw     abi.Ref
	deleted bool
}

// NewRef creates a reference to v with an initial count.
func NewRef(v View, count uint32) (*Ref, error) {
	val := v.AsValue()
	raw, st := val.env.host.CreateReference(val.env.raw, val.raw, count)
	if err := val.env.check(errors.PhaseReference, "create reference", st); err != nil {
		return nil, err
	}
	return &Ref{env: val.env, raw: raw}, nil
}

// Raw returns the reference handle.
func (r *Ref) Raw() abi.Ref { return r.raw }

func (r *Ref) live(op string) error {
	if r.deleted {
		return errors.Closing(errors.PhaseReference, op+" on a deleted reference")
	}
	return nil
}

// Inc increments the count and returns the new value.
func (r *Ref) Inc() (uint32, error) {
	if err := r.live("inc"); err != nil {
		return 0, err
	}
	n, st := r.env.host.ReferenceRef(r.env.raw, r.raw)
	return n, r.env.check(errors.PhaseReference, "reference ref", st)
}

// Dec decrements the count and returns the new value. Decrementing at zero
// fails.
func (r *Ref) Dec() (uint32, error) {
	if err := r.live("dec"); err != nil {
		return 0, err
	}
	n, st := r.env.host.ReferenceUnref(r.env.raw, r.raw)
	return n, r.env.check(errors.PhaseReference, "reference unref", st)
}

// Deref returns the target in the current scope. ok is false when a weak
// target was collected.
func (r *Ref) Deref() (v Value, ok bool, err error) {
	if err := r.live("deref"); err != nil {
		return Value{}, false, err
	}
	raw, st := r.env.host.GetReferenceValue(r.env.raw, r.raw)
	if err := r.env.check(errors.PhaseReference, "reference value", st); err != nil {
		return Value{}, false, err
	}
	if raw.IsNull() {
		return Value{}, false, nil
	}
	return r.env.value(raw), true, nil
}

// Delete releases the reference. A second Delete fails.
func (r *Ref) Delete() error {
	if err := r.live("delete"); err != nil {
		return err
	}
	if err := r.env.check(errors.PhaseReference, "delete reference", r.env.host.DeleteReference(r.env.raw, r.raw)); err != nil {
		return err
	}
	r.deleted = true
	return nil
}
