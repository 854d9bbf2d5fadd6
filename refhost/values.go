package refhost

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/wippyai/addon-runtime/abi"
)

func (h *Host) newString(s string) *object {
	o := h.alloc(abi.String, classPlain)
	o.str = s
	return o
}

func (h *Host) newNumber(f float64) *object {
	o := h.alloc(abi.Number, classPlain)
	o.num = f
	return o
}

func (h *Host) newBigInt(v *big.Int) *object {
	o := h.alloc(abi.Bigint, classPlain)
	o.big = v
	return o
}

func (h *Host) boolean(b bool) *object {
	if b {
		return h.trueObj
	}
	return h.falseObj
}

func (h *Host) newDate(ms float64) *object {
	o := h.newPlain()
	o.class = classDate
	o.num = ms
	return o
}

// create is the common body of every zero-input constructor.
func (h *Host) create(env abi.Env, build func(e *environment) (*object, abi.Status)) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := build(e)
	if st != abi.StatusOK {
		return 0, st
	}
	return h.handle(e, o)
}

// read resolves a handle for a reader and checks its type.
func (h *Host) read(env abi.Env, v abi.Value, want abi.ValueType, mismatch abi.Status) (*object, *environment, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return nil, nil, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return nil, e, st
	}
	if o.typ != want {
		return nil, e, h.fail(e, mismatch, "expected "+want.String()+", got "+o.typ.String())
	}
	return o, e, abi.StatusOK
}

func (h *Host) GetUndefined(env abi.Env) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.undefined, abi.StatusOK })
}

func (h *Host) GetNull(env abi.Env) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.null, abi.StatusOK })
}

func (h *Host) GetGlobal(env abi.Env) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.global, abi.StatusOK })
}

func (h *Host) GetBoolean(env abi.Env, b bool) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.boolean(b), abi.StatusOK })
}

func (h *Host) CreateDouble(env abi.Env, f float64) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.newNumber(f), abi.StatusOK })
}

func (h *Host) CreateInt32(env abi.Env, i int32) (abi.Value, abi.Status) {
	return h.CreateDouble(env, float64(i))
}

func (h *Host) CreateUint32(env abi.Env, u uint32) (abi.Value, abi.Status) {
	return h.CreateDouble(env, float64(u))
}

func (h *Host) CreateInt64(env abi.Env, i int64) (abi.Value, abi.Status) {
	return h.CreateDouble(env, float64(i))
}

func (h *Host) CreateStringUTF8(env abi.Env, s string) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.newString(s), abi.StatusOK })
}

func (h *Host) CreateSymbol(env abi.Env, description abi.Value) (abi.Value, abi.Status) {
	return h.create(env, func(e *environment) (*object, abi.Status) {
		o := h.alloc(abi.Symbol, classPlain)
		if description.IsNull() {
			return o, abi.StatusOK
		}
		d, st := h.value(e, description)
		if st != abi.StatusOK {
			return nil, st
		}
		if d.typ != abi.String {
			return nil, h.fail(e, abi.StatusStringExpected, "symbol description must be a string")
		}
		o.str = d.str
		return o, abi.StatusOK
	})
}

func (h *Host) CreateBigintInt64(env abi.Env, i int64) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) {
		return h.newBigInt(new(big.Int).SetInt64(i)), abi.StatusOK
	})
}

func (h *Host) CreateBigintUint64(env abi.Env, u uint64) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) {
		return h.newBigInt(new(big.Int).SetUint64(u)), abi.StatusOK
	})
}

func (h *Host) CreateDate(env abi.Env, ms float64) (abi.Value, abi.Status) {
	return h.create(env, func(*environment) (*object, abi.Status) { return h.newDate(ms), abi.StatusOK })
}

func (h *Host) CreateExternal(env abi.Env, data abi.Data, fin abi.Finalize, hint abi.Data) (abi.Value, abi.Status) {
	return h.create(env, func(e *environment) (*object, abi.Status) {
		o := h.alloc(abi.External, classPlain)
		o.ext = &finalizerRecord{env: e, fin: fin, data: data, hint: hint}
		return o, abi.StatusOK
	})
}

func (h *Host) CreateArrayBuffer(env abi.Env, size int) (abi.Value, []byte, abi.Status) {
	var buf []byte
	v, st := h.create(env, func(e *environment) (*object, abi.Status) {
		if size < 0 {
			return nil, h.fail(e, abi.StatusInvalidArg, "negative array buffer size")
		}
		o := h.newPlain()
		o.class = classArrayBuffer
		o.buf = make([]byte, size)
		buf = o.buf
		return o, abi.StatusOK
	})
	if st != abi.StatusOK {
		return 0, nil, st
	}
	return v, buf, abi.StatusOK
}

func (h *Host) TypeOf(env abi.Env, v abi.Value) (abi.ValueType, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return 0, st
	}
	return o.typ, abi.StatusOK
}

func (h *Host) GetValueDouble(env abi.Env, v abi.Value) (float64, abi.Status) {
	o, _, st := h.read(env, v, abi.Number, abi.StatusNumberExpected)
	if st != abi.StatusOK {
		return 0, st
	}
	return o.num, abi.StatusOK
}

func (h *Host) GetValueInt32(env abi.Env, v abi.Value) (int32, abi.Status) {
	o, _, st := h.read(env, v, abi.Number, abi.StatusNumberExpected)
	if st != abi.StatusOK {
		return 0, st
	}
	return int32(uint32(toUint32(o.num))), abi.StatusOK
}

func (h *Host) GetValueUint32(env abi.Env, v abi.Value) (uint32, abi.Status) {
	o, _, st := h.read(env, v, abi.Number, abi.StatusNumberExpected)
	if st != abi.StatusOK {
		return 0, st
	}
	return toUint32(o.num), abi.StatusOK
}

func (h *Host) GetValueInt64(env abi.Env, v abi.Value) (int64, abi.Status) {
	o, _, st := h.read(env, v, abi.Number, abi.StatusNumberExpected)
	if st != abi.StatusOK {
		return 0, st
	}
	f := o.num
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, abi.StatusOK
	case f >= math.MaxInt64:
		return math.MaxInt64, abi.StatusOK
	case f <= math.MinInt64:
		return math.MinInt64, abi.StatusOK
	}
	return int64(f), abi.StatusOK
}

// toUint32 applies modular conversion; non-finite values become zero.
func toUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	t := math.Mod(math.Trunc(f), 1<<32)
	if t < 0 {
		t += 1 << 32
	}
	return uint32(t)
}

func (h *Host) GetValueBool(env abi.Env, v abi.Value) (bool, abi.Status) {
	o, _, st := h.read(env, v, abi.Boolean, abi.StatusBooleanExpected)
	if st != abi.StatusOK {
		return false, st
	}
	return o.b, abi.StatusOK
}

func (h *Host) GetValueStringUTF8(env abi.Env, v abi.Value) (string, abi.Status) {
	o, _, st := h.read(env, v, abi.String, abi.StatusStringExpected)
	if st != abi.StatusOK {
		return "", st
	}
	return o.str, abi.StatusOK
}

var two64 = new(big.Int).Lsh(big.NewInt(1), 64)

func (h *Host) GetValueBigintInt64(env abi.Env, v abi.Value) (int64, bool, abi.Status) {
	o, _, st := h.read(env, v, abi.Bigint, abi.StatusBigintExpected)
	if st != abi.StatusOK {
		return 0, false, st
	}
	if o.big.IsInt64() {
		return o.big.Int64(), true, abi.StatusOK
	}
	wrapped := new(big.Int).Mod(o.big, two64)
	return int64(wrapped.Uint64()), false, abi.StatusOK
}

func (h *Host) GetValueBigintUint64(env abi.Env, v abi.Value) (uint64, bool, abi.Status) {
	o, _, st := h.read(env, v, abi.Bigint, abi.StatusBigintExpected)
	if st != abi.StatusOK {
		return 0, false, st
	}
	if o.big.IsUint64() {
		return o.big.Uint64(), true, abi.StatusOK
	}
	wrapped := new(big.Int).Mod(o.big, two64)
	return wrapped.Uint64(), false, abi.StatusOK
}

func (h *Host) GetValueExternal(env abi.Env, v abi.Value) (abi.Data, abi.Status) {
	o, _, st := h.read(env, v, abi.External, abi.StatusInvalidArg)
	if st != abi.StatusOK {
		return 0, st
	}
	return o.ext.data, abi.StatusOK
}

func (h *Host) GetDateValue(env abi.Env, v abi.Value) (float64, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return 0, st
	}
	if o.class != classDate {
		return 0, h.fail(e, abi.StatusDateExpected, "value is not a date")
	}
	return o.num, abi.StatusOK
}

func (h *Host) GetArrayBufferInfo(env abi.Env, v abi.Value) ([]byte, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return nil, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return nil, st
	}
	if o.class != classArrayBuffer {
		return nil, h.fail(e, abi.StatusArraybufferExpected, "value is not an array buffer")
	}
	return o.buf, abi.StatusOK
}

func (h *Host) CoerceToString(env abi.Env, v abi.Value) (abi.Value, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return 0, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return 0, st
	}
	if o.typ == abi.Symbol {
		return 0, h.fail(e, abi.StatusStringExpected, "cannot convert a symbol to a string")
	}
	return h.handle(e, h.newString(h.display(o)))
}

func (h *Host) classCheck(env abi.Env, v abi.Value, class objClass) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return false, st
	}
	return o.class == class && o.typ == abi.Object, abi.StatusOK
}

func (h *Host) IsArray(env abi.Env, v abi.Value) (bool, abi.Status) {
	return h.classCheck(env, v, classArray)
}

func (h *Host) IsDate(env abi.Env, v abi.Value) (bool, abi.Status) {
	return h.classCheck(env, v, classDate)
}

func (h *Host) IsArrayBuffer(env abi.Env, v abi.Value) (bool, abi.Status) {
	return h.classCheck(env, v, classArrayBuffer)
}

func (h *Host) DetachArrayBuffer(env abi.Env, v abi.Value) abi.Status {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return st
	}
	if o.class != classArrayBuffer {
		return h.fail(e, abi.StatusDetachableArraybufferExpected, "value is not a detachable array buffer")
	}
	o.buf = nil
	o.detached = true
	return abi.StatusOK
}

func (h *Host) IsDetachedArrayBuffer(env abi.Env, v abi.Value) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	o, st := h.value(e, v)
	if st != abi.StatusOK {
		return false, st
	}
	return o.class == classArrayBuffer && o.detached, abi.StatusOK
}

func (h *Host) StrictEquals(env abi.Env, a, b abi.Value) (bool, abi.Status) {
	e, st := h.enter(env)
	if st != abi.StatusOK {
		return false, st
	}
	x, st := h.value(e, a)
	if st != abi.StatusOK {
		return false, st
	}
	y, st := h.value(e, b)
	if st != abi.StatusOK {
		return false, st
	}
	return strictEquals(x, y), abi.StatusOK
}

func strictEquals(x, y *object) bool {
	if x == y {
		return x.typ != abi.Number || !math.IsNaN(x.num)
	}
	if x.typ != y.typ {
		return false
	}
	switch x.typ {
	case abi.Undefined, abi.Null:
		return true
	case abi.Boolean:
		return x.b == y.b
	case abi.Number:
		return x.num == y.num
	case abi.String:
		return x.str == y.str
	case abi.Bigint:
		return x.big.Cmp(y.big) == 0
	}
	return false
}

// display converts a value to its string form.
func (h *Host) display(o *object) string {
	switch o.typ {
	case abi.Undefined:
		return "undefined"
	case abi.Null:
		return "null"
	case abi.Boolean:
		return strconv.FormatBool(o.b)
	case abi.Number:
		return formatNumber(o.num)
	case abi.String:
		return o.str
	case abi.Bigint:
		return o.big.String()
	case abi.Symbol:
		return "Symbol(" + o.str + ")"
	case abi.External:
		return "[object External]"
	case abi.Function:
		return "function " + o.fn.name + "() { [native code] }"
	}

	switch o.class {
	case classArray:
		parts := make([]string, len(o.elems))
		for i, el := range o.elems {
			if el != nil && el.typ != abi.Undefined && el.typ != abi.Null {
				parts[i] = h.display(el)
			}
		}
		return strings.Join(parts, ",")
	case classError:
		exc := h.exceptionFrom(o)
		return exc.Name + ": " + exc.Message
	case classDate:
		return time.UnixMilli(int64(o.num)).UTC().Format(time.RFC3339Nano)
	case classPromise:
		return "[object Promise]"
	case classArrayBuffer:
		return "[object ArrayBuffer]"
	}
	return "[object Object]"
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
