package wasmbin

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Value type encodings.
const (
	ValI32     byte = 0x7F
	ValI64     byte = 0x7E
	ValF32     byte = 0x7D
	ValF64     byte = 0x7C
	ValV128    byte = 0x7B
	ValFuncRef byte = 0x70
	ValExtern  byte = 0x6F
)

// EncodeULEB128 encodes an unsigned value in LEB128 format.
func EncodeULEB128(v uint32) []byte {
	return AppendULEB128(nil, v)
}

// AppendULEB128 appends the LEB128 encoding of v to dst.
func AppendULEB128(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// EncodeSLEB128 encodes a signed value in LEB128 format.
func EncodeSLEB128[T int32 | int64](v T) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(result, b)
		}
		result = append(result, b|0x80)
	}
}

// DecodeULEB128 decodes an unsigned LEB128 value and returns the number of
// bytes consumed. n is 0 when data ends mid-value or the value overflows.
func DecodeULEB128(data []byte) (v uint32, n int) {
	var shift uint32
	for i, b := range data {
		if shift == 28 && b&0x70 != 0 {
			return 0, 0
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
		if shift > 28 {
			return 0, 0
		}
	}
	return 0, 0
}

// ValTypeToWasm converts a wazero value type to its binary encoding. wazero
// value types already carry the encoding byte.
func ValTypeToWasm(t api.ValueType) byte {
	return t
}

// ParseValType converts a binary encoding to a wazero value type.
func ParseValType(b byte) (api.ValueType, bool) {
	switch b {
	case ValI32:
		return api.ValueTypeI32, true
	case ValI64:
		return api.ValueTypeI64, true
	case ValF32:
		return api.ValueTypeF32, true
	case ValF64:
		return api.ValueTypeF64, true
	case ValV128, ValExtern, ValFuncRef:
		return b, true
	default:
		return 0, false
	}
}

// reader walks a byte slice, remembering the first failure.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("offset %d: "+format, append([]any{r.pos}, args...)...)
	}
}

func (r *reader) done() bool {
	return r.err != nil || r.pos >= len(r.data)
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.data) {
		r.fail("unexpected end of data")
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, n := DecodeULEB128(r.data[r.pos:])
	if n == 0 {
		r.fail("malformed LEB128")
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) bytes(n uint32) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.data)) {
		r.fail("length %d overruns data", n)
		return nil
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b
}

func (r *reader) name() string {
	return string(r.bytes(r.u32()))
}

// limits skips a table or memory limits entry and returns the minimum.
func (r *reader) limits() uint32 {
	flag := r.byte()
	initial := r.u32()
	if flag&0x01 != 0 {
		r.u32()
	}
	return initial
}
