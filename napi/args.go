package napi

import (
	"github.com/wippyai/addon-runtime/errors"
)

// Arguments is satisfied by pointers to the argument tuple types of this
// package: Args0 to Args6, Rest and RawArgs.
type Arguments[A any] interface {
	*A
	decode(env Env, args []Value) error
}

// arg decodes positional argument i as a T. Missing arguments read as
// undefined.
func arg[T View](env Env, args []Value, i int) (T, error) {
	var v Value
	if i < len(args) {
		v = args[i]
	} else {
		u, err := env.Undefined()
		if err != nil {
			var zero T
			return zero, errors.Argument(i, err)
		}
		v = u
	}
	out, err := As[T](v)
	if err != nil {
		return out, errors.Argument(i, err)
	}
	return out, nil
}

// Args0 accepts any arguments and decodes none.
type Args0 struct{}

func (*Args0) decode(Env, []Value) error { return nil }

type Args1[A1 View] struct {
	A1 A1
}

func (a *Args1[A1]) decode(env Env, args []Value) (err error) {
	a.A1, err = arg[A1](env, args, 0)
	return err
}

type Args2[A1, A2 View] struct {
	A1 A1
	A2 A2
}

func (a *Args2[A1, A2]) decode(env Env, args []Value) (err error) {
	if a.A1, err = arg[A1](env, args, 0); err != nil {
		return err
	}
	a.A2, err = arg[A2](env, args, 1)
	return err
}

type Args3[A1, A2, A3 View] struct {
	A1 A1
	A2 A2
	A3 A3
}

func (a *Args3[A1, A2, A3]) decode(env Env, args []Value) (err error) {
	if a.A1, err = arg[A1](env, args, 0); err != nil {
		return err
	}
	if a.A2, err = arg[A2](env, args, 1); err != nil {
		return err
	}
	a.A3, err = arg[A3](env, args, 2)
	return err
}

type Args4[A1, A2, A3, A4 View] struct {
	A1 A1
	A2 A2
	A3 A3
	A4 A4
}

func (a *Args4[A1, A2, A3, A4]) decode(env Env, args []Value) (err error) {
	if a.A1, err = arg[A1](env, args, 0); err != nil {
		return err
	}
	if a.A2, err = arg[A2](env, args, 1); err != nil {
		return err
	}
	if a.A3, err = arg[A3](env, args, 2); err != nil {
		return err
	}
	a.A4, err = arg[A4](env, args, 3)
	return err
}

type Args5[A1, A2, A3, A4, A5 View] struct {
	A1 A1
	A2 A2
	A3 A3
	A4 A4
	A5 A5
}

func (a *Args5[A1, A2, A3, A4, A5]) decode(env Env, args []Value) (err error) {
	if a.A1, err = arg[A1](env, args, 0); err != nil {
		return err
	}
	if a.A2, err = arg[A2](env, args, 1); err != nil {
		return err
	}
	if a.A3, err = arg[A3](env, args, 2); err != nil {
		return err
	}
	if a.A4, err = arg[A4](env, args, 3); err != nil {
		return err
	}
	a.A5, err = arg[A5](env, args, 4)
	return err
}

type Args6[A1, A2, A3, A4, A5, A6 View] struct {
	A1 A1
	A2 A2
	A3 A3
	A4 A4
	A5 A5
	A6 A6
}

func (a *Args6[A1, A2, A3, A4, A5, A6]) decode(env Env, args []Value) (err error) {
	if a.A1, err = arg[A1](env, args, 0); err != nil {
		return err
	}
	if a.A2, err = arg[A2](env, args, 1); err != nil {
		return err
	}
	if a.A3, err = arg[A3](env, args, 2); err != nil {
		return err
	}
	if a.A4, err = arg[A4](env, args, 3); err != nil {
		return err
	}
	if a.A5, err = arg[A5](env, args, 4); err != nil {
		return err
	}
	a.A6, err = arg[A6](env, args, 5)
	return err
}

// Rest decodes every argument as a T.
type Rest[T View] struct {
	Items []T
}

func (r *Rest[T]) decode(env Env, args []Value) error {
	r.Items = make([]T, len(args))
	for i := range args {
		v, err := arg[T](env, args, i)
		if err != nil {
			return err
		}
		r.Items[i] = v
	}
	return nil
}

// RawArgs passes the arguments through undecoded.
type RawArgs struct {
	Args []Value
}

func (r *RawArgs) decode(_ Env, args []Value) error {
	r.Args = args
	return nil
}

// Arg returns argument i, or undefined when fewer were passed.
func (r RawArgs) Arg(env Env, i int) (Value, error) {
	if i < len(r.Args) {
		return r.Args[i], nil
	}
	return env.Undefined()
}
