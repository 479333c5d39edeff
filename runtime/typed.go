package runtime

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/emhost/errors"
)

// flatKind returns the core type a WIT primitive travels as in a C
// signature. Strings are char pointers.
func flatKind(t wit.Type) (api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char, wit.String:
		return api.ValueTypeI32, true
	case wit.U64, wit.S64:
		return api.ValueTypeI64, true
	case wit.F32:
		return api.ValueTypeF32, true
	case wit.F64:
		return api.ValueTypeF64, true
	default:
		return 0, false
	}
}

// lower converts a Go value to a stack word. Integers of any Go width are
// accepted as long as they fit the target type.
func lower(t wit.Type, v any) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return 0, errMismatch
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case wit.F32:
		switch f := v.(type) {
		case float32:
			return api.EncodeF32(f), nil
		case float64:
			return api.EncodeF32(float32(f)), nil
		}
		return 0, errMismatch
	case wit.F64:
		switch f := v.(type) {
		case float64:
			return api.EncodeF64(f), nil
		case float32:
			return api.EncodeF64(float64(f)), nil
		}
		return 0, errMismatch
	case wit.Char:
		r, ok := v.(rune)
		if !ok || !utf8.ValidRune(r) {
			return 0, errMismatch
		}
		return uint64(uint32(r)), nil
	case wit.U8:
		return lowerUnsigned(v, math.MaxUint8)
	case wit.U16:
		return lowerUnsigned(v, math.MaxUint16)
	case wit.U32:
		return lowerUnsigned(v, math.MaxUint32)
	case wit.U64:
		return lowerUnsigned(v, math.MaxUint64)
	case wit.S8:
		return lowerSigned(v, math.MinInt8, math.MaxInt8, 32)
	case wit.S16:
		return lowerSigned(v, math.MinInt16, math.MaxInt16, 32)
	case wit.S32:
		return lowerSigned(v, math.MinInt32, math.MaxInt32, 32)
	case wit.S64:
		return lowerSigned(v, math.MinInt64, math.MaxInt64, 64)
	default:
		return 0, errMismatch
	}
}

var errMismatch = errors.InvalidInput(errors.PhaseRuntime, "value does not fit type")

func lowerUnsigned(v any, max uint64) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case uint:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	default:
		s, ok := asInt64(v)
		if !ok || s < 0 {
			return 0, errMismatch
		}
		u = uint64(s)
	}
	if u > max {
		return 0, errMismatch
	}
	return u, nil
}

// lowerSigned range checks v and encodes it in a stack word of the given
// width. Narrow types are sign extended to i32.
func lowerSigned(v any, min, max int64, width int) (uint64, error) {
	s, ok := asInt64(v)
	if !ok {
		switch n := v.(type) {
		case uint:
			if uint64(n) > math.MaxInt64 {
				return 0, errMismatch
			}
			s = int64(n)
		case uint8:
			s = int64(n)
		case uint16:
			s = int64(n)
		case uint32:
			s = int64(n)
		case uint64:
			if n > math.MaxInt64 {
				return 0, errMismatch
			}
			s = int64(n)
		default:
			return 0, errMismatch
		}
	}
	if s < min || s > max {
		return 0, errMismatch
	}
	if width == 32 {
		return api.EncodeI32(int32(s)), nil
	}
	return api.EncodeI64(s), nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// lift converts a stack word to the Go value of a WIT primitive.
func lift(t wit.Type, word uint64) any {
	switch t.(type) {
	case wit.Bool:
		return uint32(word) != 0
	case wit.U8:
		return uint8(word)
	case wit.S8:
		return int8(word)
	case wit.U16:
		return uint16(word)
	case wit.S16:
		return int16(word)
	case wit.U32:
		return uint32(word)
	case wit.S32:
		return int32(word)
	case wit.U64:
		return word
	case wit.S64:
		return int64(word)
	case wit.F32:
		return api.DecodeF32(word)
	case wit.F64:
		return api.DecodeF64(word)
	case wit.Char:
		return rune(uint32(word))
	default:
		return word
	}
}

func witTypeName(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// TypeName returns the WIT spelling of a type.
func TypeName(t wit.Type) string {
	return witTypeName(t)
}
