package napi

import (
	"go.uber.org/zap"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// Deferred settles the promise it was created with. It settles at most
// once.
type Deferred struct {
	env     Env
	raw     abi.Deferred
	settled bool
}

// NewPromise creates a pending promise and its deferred.
func NewPromise(env Env) (Promise, *Deferred, error) {
	d, v, st := env.host.CreatePromise(env.raw)
	if err := env.check(errors.PhasePromise, "create promise", st); err != nil {
		return Promise{}, nil, err
	}
	return Promise{Object{env.value(v)}}, &Deferred{env: env, raw: d}, nil
}

func (d *Deferred) settle(op string, v View, fn func(abi.Env, abi.Deferred, abi.Value) abi.Status) error {
	if d.settled {
		return errors.Closing(errors.PhasePromise, op+" on a settled deferred")
	}
	var raw abi.Value
	if v != nil {
		raw = v.AsValue().raw
	}
	if raw.IsNull() {
		u, err := d.env.Undefined()
		if err != nil {
			return err
		}
		raw = u.raw
	}
	if err := d.env.check(errors.PhasePromise, op, fn(d.env.raw, d.raw, raw)); err != nil {
		return err
	}
	d.settled = true
	return nil
}

// Resolve fulfils the promise with v. A nil v is undefined.
func (d *Deferred) Resolve(v View) error {
	return d.settle("resolve", v, d.env.host.ResolveDeferred)
}

// Reject rejects the promise with v.
func (d *Deferred) Reject(v View) error {
	return d.settle("reject", v, d.env.host.RejectDeferred)
}

// RejectError rejects the promise with an Error built from err.
func (d *Deferred) RejectError(err error) error {
	if d.settled {
		return errors.Closing(errors.PhasePromise, "reject on a settled deferred")
	}
	ev, cerr := d.env.ErrorValue(err)
	if cerr != nil {
		return cerr
	}
	return d.Reject(ev)
}

// Settled reports whether the deferred was used.
func (d *Deferred) Settled() bool { return d.settled }

type spawned[S any] struct {
	state S
	err   error
}

// SpawnPromise runs execute on a worker and settles the returned promise
// on the event loop: rejected when execute fails or the work is
// cancelled, otherwise resolved with the result of resolve.
func SpawnPromise[S any, R View](env Env, name string, state S, execute func(*S) error, resolve func(env Env, state S) (R, error)) (Promise, error) {
	if execute == nil {
		return Promise{}, errors.InvalidArg(errors.PhasePromise, "nil execute")
	}
	p, d, err := NewPromise(env)
	if err != nil {
		return Promise{}, err
	}

	work, err := NewAsyncWork(env, name, spawned[S]{state: state},
		func(s *spawned[S]) { s.err = execute(&s.state) },
		func(env Env, status error, s spawned[S]) error {
			switch {
			case status != nil:
				return d.RejectError(status)
			case s.err != nil:
				return d.RejectError(s.err)
			case resolve == nil:
				return d.Resolve(nil)
			}
			r, err := resolve(env, s.state)
			if err != nil {
				return d.RejectError(err)
			}
			return d.Resolve(r)
		})
	if err != nil {
		return Promise{}, err
	}
	if err := work.Queue(); err != nil {
		if derr := work.Delete(); derr != nil {
			Logger().Warn("deleting unqueued work", zap.Error(derr))
		}
		return Promise{}, err
	}
	return p, nil
}
