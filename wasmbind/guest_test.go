package wasmbind

import (
	"encoding/binary"
	"math"
)

// Guest memory layout used by the tests.
const (
	guestName    = 0 // "add"
	guestArgv    = 8 // two f64 arguments
	guestScratch = 64
	guestOut     = 256
)

// buildGuest assembles a module that imports the bridge and re-exports
// each import as f64, str and err. It exports one page of memory holding
// "add" at guestName and the f64 values 2 and 3 at guestArgv.
func buildGuest() []byte {
	module := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
	}

	appendSection := func(sectionID byte, payload []byte) {
		module = append(module, sectionID)
		module = append(module, encodeULEB128(uint32(len(payload)))...)
		module = append(module, payload...)
	}

	// Type section:
	// 0: (i32, i32, i32, i32) -> f64
	// 1: (i32, i32, i32, i32, i32, i32) -> i32
	// 2: (i32, i32) -> i32
	appendSection(0x01, []byte{
		0x03,
		0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7c,
		0x60, 0x06, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
		0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	})

	imports := []byte{0x03}
	for i, name := range []string{"call_f64", "call_str", "last_error"} {
		imports = append(imports, encodeName(ModuleName)...)
		imports = append(imports, encodeName(name)...)
		imports = append(imports, 0x00, byte(i))
	}
	appendSection(0x02, imports)

	// Function section: one forwarder per import.
	appendSection(0x03, []byte{0x03, 0x00, 0x01, 0x02})

	// Memory section: one page.
	appendSection(0x05, []byte{0x01, 0x00, 0x01})

	exports := []byte{0x04}
	exports = append(exports, encodeName("memory")...)
	exports = append(exports, 0x02, 0x00)
	for i, name := range []string{"f64", "str", "err"} {
		exports = append(exports, encodeName(name)...)
		exports = append(exports, 0x00, byte(3+i))
	}
	appendSection(0x07, exports)

	code := []byte{0x03}
	for i, params := range []int{4, 6, 2} {
		body := []byte{0x00}
		for p := range params {
			body = append(body, 0x20, byte(p)) // local.get p
		}
		body = append(body, 0x10, byte(i), 0x0b) // call i; end
		code = append(code, encodeULEB128(uint32(len(body)))...)
		code = append(code, body...)
	}
	appendSection(0x0a, code)

	seed := make([]byte, guestArgv+16)
	copy(seed[guestName:], "add")
	binary.LittleEndian.PutUint64(seed[guestArgv:], math.Float64bits(2))
	binary.LittleEndian.PutUint64(seed[guestArgv+8:], math.Float64bits(3))
	data := []byte{0x01, 0x00, 0x41, 0x00, 0x0b} // active, memory 0, i32.const 0
	data = append(data, encodeULEB128(uint32(len(seed)))...)
	data = append(data, seed...)
	appendSection(0x0b, data)

	return module
}

func encodeName(s string) []byte {
	return append(encodeULEB128(uint32(len(s))), s...)
}

func encodeULEB128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}
