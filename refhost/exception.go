package refhost

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/addon-runtime/abi"
)

var ErrClosed = stderrors.New("refhost: host closed")

// FatalError is recorded when native code reports an unrecoverable
// condition or violates a host invariant.
type FatalError struct {
	Location string
	Message  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("FATAL ERROR: %s %s", e.Location, e.Message)
}

// Exception is a thrown host value surfaced to Go.
type Exception struct {
	Value   any
	Name    string
	Code    string
	Message string
}

func (e *Exception) Error() string {
	name := e.Name
	if name == "" {
		name = "Uncaught"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", name, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", name, e.Message)
}

func (h *Host) newError(name string, code, msg *object) *object {
	o := h.newPlain()
	o.class = classError
	o.props.set("name", &property{value: h.newString(name), attrs: abi.Writable | abi.Configurable})
	o.props.set("message", &property{value: msg, attrs: abi.Writable | abi.Configurable})
	if code != nil && code.typ != abi.Undefined && code.typ != abi.Null {
		o.props.set("code", &property{value: code, attrs: abi.DefaultJSProperty})
	}
	return o
}

func (h *Host) exceptionFrom(o *object) *Exception {
	if o.class == classError {
		exc := &Exception{Name: "Error"}
		if p, ok := o.props.get("name"); ok && p.value != nil {
			exc.Name = h.display(p.value)
		}
		if p, ok := o.props.get("message"); ok && p.value != nil {
			exc.Message = h.display(p.value)
		}
		if p, ok := o.props.get("code"); ok && p.value != nil {
			exc.Code = h.display(p.value)
		}
		return exc
	}
	return &Exception{Message: h.display(o), Value: h.toGo(o, 0)}
}

func (h *Host) throwNew(e *environment, name, code, msg string) abi.Status {
	var codeObj *object
	if code != "" {
		codeObj = h.newString(code)
	}
	e.exception = h.newError(name, codeObj, h.newString(msg))
	return abi.StatusOK
}

func (h *Host) GetLastErrorInfo(env abi.Env) (abi.ExtendedErrorInfo, abi.Status) {
	if !h.loop.onLoop() {
		return abi.ExtendedErrorInfo{}, abi.StatusGenericFailure
	}
	e, ok := h.envs[env]
	if !ok {
		return abi.ExtendedErrorInfo{}, abi.StatusInvalidArg
	}
	info := e.lastError
	if info.Message == "" && info.Status != abi.StatusOK {
		info.Message = info.Status.String()
	}
	return info, abi.StatusOK
}

func (h *Host) Throw(env abi.Env, err abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.value(e, err)
	if st != abi.StatusOK {
		return st
	}
	e.exception = o
	return abi.StatusOK
}

func (h *Host) ThrowError(env abi.Env, code, msg string) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	return h.throwNew(e, "Error", code, msg)
}

func (h *Host) ThrowTypeError(env abi.Env, code, msg string) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	return h.throwNew(e, "TypeError", code, msg)
}

func (h *Host) ThrowRangeError(env abi.Env, code, msg string) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	return h.throwNew(e, "RangeError", code, msg)
}

func (h *Host) IsError(env abi.Env, v abi.Value) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return false, st
	}
	return o.class == classError, abi.StatusOK
}

func (h *Host) IsExceptionPending(env abi.Env) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	return e.exception != nil, abi.StatusOK
}

func (h *Host) GetAndClearLastException(env abi.Env) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	if e.exception == nil {
		return h.handle(e, h.undefined)
	}
	o := e.exception
	e.exception = nil
	return h.handle(e, o)
}

func (h *Host) createError(env abi.Env, name string, code, msg abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	m, st := h.value(e, msg)
	if st != abi.StatusOK {
		return 0, st
	}
	if m.typ != abi.String {
		return 0, h.fail(e, abi.StatusStringExpected, "error message must be a string")
	}
	var c *object
	if !code.IsNull() {
		if c, st = h.value(e, code); st != abi.StatusOK {
			return 0, st
		}
		if c.typ != abi.String && c.typ != abi.Undefined {
			return 0, h.fail(e, abi.StatusStringExpected, "error code must be a string")
		}
	}
	return h.handle(e, h.newError(name, c, m))
}

func (h *Host) CreateError(env abi.Env, code, msg abi.Value) (abi.Value, abi.Status) {
	return h.createError(env, "Error", code, msg)
}

func (h *Host) CreateTypeError(env abi.Env, code, msg abi.Value) (abi.Value, abi.Status) {
	return h.createError(env, "TypeError", code, msg)
}

func (h *Host) CreateRangeError(env abi.Env, code, msg abi.Value) (abi.Value, abi.Status) {
	return h.createError(env, "RangeError", code, msg)
}

func (h *Host) FatalException(env abi.Env, err abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.value(e, err)
	if st != abi.StatusOK {
		return st
	}
	h.reportUncaught(h.exceptionFrom(o))
	return abi.StatusOK
}
