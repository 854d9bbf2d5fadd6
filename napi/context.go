package napi

import (
	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// AsyncContext attributes callbacks made later, outside any host call, to
// the operation that scheduled them.
type AsyncContext struct {
	env       Env
	raw       abi.AsyncContext
	destroyed bool
}

// NewAsyncContext opens a context. A zero resource makes the host create
// one.
func NewAsyncContext(env Env, resource Object, name string) (*AsyncContext, error) {
	raw, st := env.host.AsyncInit(env.raw, resource.raw, name)
	if err := env.check(errors.PhaseCallback, "async init "+name, st); err != nil {
		return nil, err
	}
	return &AsyncContext{env: env, raw: raw}, nil
}

// MakeCallback calls fn within the context.
func (c *AsyncContext) MakeCallback(this View, fn Function, args ...View) (Value, error) {
	if c.destroyed {
		return Value{}, errors.Closing(errors.PhaseCallback, "make callback on a destroyed context")
	}
	var recv abi.Value
	if this != nil {
		recv = this.AsValue().raw
	}
	v, st := c.env.host.MakeCallback(c.env.raw, c.raw, recv, fn.raw, rawArgs(args))
	return c.env.value(v), c.env.check(errors.PhaseCallback, "make callback", st)
}

// Destroy closes the context. A second Destroy fails.
func (c *AsyncContext) Destroy() error {
	if c.destroyed {
		return errors.Closing(errors.PhaseCallback, "context already destroyed")
	}
	if err := c.env.check(errors.PhaseCallback, "async destroy", c.env.host.AsyncDestroy(c.env.raw, c.raw)); err != nil {
		return err
	}
	c.destroyed = true
	return nil
}

// CallbackScope marks native code running inside an AsyncContext outside
// any host callback.
type CallbackScope struct {
	env    Env
	raw    abi.CallbackScope
	closed bool
}

// OpenCallbackScope enters the context. Scopes close in reverse order of
// opening.
func (c *AsyncContext) OpenCallbackScope() (*CallbackScope, error) {
	if c.destroyed {
		return nil, errors.Closing(errors.PhaseCallback, "callback scope on a destroyed context")
	}
	raw, st := c.env.host.OpenCallbackScope(c.env.raw, 0, c.raw)
	if err := c.env.check(errors.PhaseCallback, "open callback scope", st); err != nil {
		return nil, err
	}
	return &CallbackScope{env: c.env, raw: raw}, nil
}

// Close leaves the scope. Closing out of order fails with
// ErrCallbackScopeMismatch and leaves the scope open.
func (s *CallbackScope) Close() error {
	if s.closed {
		return errors.Closing(errors.PhaseCallback, "callback scope already closed")
	}
	if err := s.env.check(errors.PhaseCallback, "close callback scope", s.env.host.CloseCallbackScope(s.env.raw, s.raw)); err != nil {
		return err
	}
	s.closed = true
	return nil
}
