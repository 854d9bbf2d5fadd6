package napi

import (
	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// HandleScope bounds the lifetime of handles created while it is open.
// Scopes must be closed in reverse order of opening.
type HandleScope struct {
	env    Env
	raw    abi.HandleScope
	closed bool
}

// OpenScope opens a handle scope.
func (env Env) OpenScope() (*HandleScope, error) {
	raw, st := env.host.OpenHandleScope(env.raw)
	if err := env.check(errors.PhaseScope, "open scope", st); err != nil {
		return nil, err
	}
	return &HandleScope{env: env, raw: raw}, nil
}

// Close closes the scope. Closing twice is a no-op.
func (s *HandleScope) Close() error {
	if s.closed {
		return nil
	}
	if err := s.env.check(errors.PhaseScope, "close scope", s.env.host.CloseHandleScope(s.env.raw, s.raw)); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// EscapableScope is a handle scope that can promote one value to its
// parent.
type EscapableScope struct {
	env     Env
	raw     abi.EscapableHandleScope
	closed  bool
	escaped bool
}

// OpenEscapableScope opens an escapable handle scope.
func (env Env) OpenEscapableScope() (*EscapableScope, error) {
	raw, st := env.host.OpenEscapableHandleScope(env.raw)
	if err := env.check(errors.PhaseScope, "open escapable scope", st); err != nil {
		return nil, err
	}
	return &EscapableScope{env: env, raw: raw}, nil
}

// Escape returns a handle to v that stays valid in the parent scope. It
// succeeds at most once per scope.
func (s *EscapableScope) Escape(v View) (Value, error) {
	if s.closed {
		return Value{}, errors.Closing(errors.PhaseScope, "escape on a closed scope")
	}
	if s.escaped {
		return Value{}, errors.New(errors.PhaseScope, abi.StatusEscapeCalledTwice).
			Op("escape").Detail("escape already called on this scope").Build()
	}
	out, st := s.env.host.EscapeHandle(s.env.raw, s.raw, v.AsValue().raw)
	if err := s.env.check(errors.PhaseScope, "escape", st); err != nil {
		return Value{}, err
	}
	s.escaped = true
	return s.env.value(out), nil
}

// Close closes the scope. Closing twice is a no-op.
func (s *EscapableScope) Close() error {
	if s.closed {
		return nil
	}
	st := s.env.host.CloseEscapableHandleScope(s.env.raw, s.raw)
	if err := s.env.check(errors.PhaseScope, "close escapable scope", st); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// WithScope runs fn inside a handle scope that is closed when fn returns,
// even on error.
func (env Env) WithScope(fn func() error) (err error) {
	scope, err := env.OpenScope()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := scope.Close(); err == nil {
			err = cerr
		}
	}()
	return fn()
}

// WithEscapableScope runs fn inside an escapable scope and escapes the
// value it returns.
func (env Env) WithEscapableScope(fn func() (Value, error)) (out Value, err error) {
	scope, err := env.OpenEscapableScope()
	if err != nil {
		return Value{}, err
	}
	defer func() {
		if cerr := scope.Close(); err == nil {
			err = cerr
		}
	}()

	v, err := fn()
	if err != nil || v.IsNull() {
		return Value{}, err
	}
	return scope.Escape(v)
}
