package abi

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// InvokePrefix is the naming convention of Emscripten dynamic call imports.
//
// All invoke_ functions take an initial i32 "index" into the module's only
// table. The letters after the prefix give the callee type: the first is
// the result ('v' for none) and the rest are the parameters, so
//
//	(import "env" "invoke_viji" (func (param i32 i32 i64 i32)))
//
// calls the table entry of type (i32, i64, i32) -> () at the given index.
const InvokePrefix = "invoke_"

// MaxArity is the largest parameter count a trampoline dispatches. Wider
// trampolines resolve to the unsupported-arity fallback.
const MaxArity = 12

// ValueKind is one letter of a trampoline signature code.
type ValueKind byte

const (
	Void ValueKind = 'v'
	I32  ValueKind = 'i'
	I64  ValueKind = 'j'
	F32  ValueKind = 'f'
	F64  ValueKind = 'd'
)

func (k ValueKind) String() string {
	switch k {
	case Void:
		return "void"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "unknown"
	}
}

// ValueType maps the kind to the wazero core type. Void has none.
func (k ValueKind) ValueType() (api.ValueType, bool) {
	switch k {
	case I32:
		return api.ValueTypeI32, true
	case I64:
		return api.ValueTypeI64, true
	case F32:
		return api.ValueTypeF32, true
	case F64:
		return api.ValueTypeF64, true
	default:
		return 0, false
	}
}

// Wide reports whether values of this kind occupy a full 64-bit stack slot.
func (k ValueKind) Wide() bool {
	return k == I64 || k == F64
}

// KindOf maps a wazero core type back to a signature letter.
func KindOf(vt api.ValueType) (ValueKind, bool) {
	switch vt {
	case api.ValueTypeI32:
		return I32, true
	case api.ValueTypeI64:
		return I64, true
	case api.ValueTypeF32:
		return F32, true
	case api.ValueTypeF64:
		return F64, true
	default:
		return 0, false
	}
}

// Signature is the fixed parameter sequence and result a trampoline
// commits to.
type Signature struct {
	Name   string
	Params []ValueKind
	Result ValueKind
}

// ParseSignature decodes an invoke_ import name.
func ParseSignature(name string) (Signature, error) {
	code, ok := strings.CutPrefix(name, InvokePrefix)
	if !ok || code == "" {
		return Signature{}, fmt.Errorf("%q is not an %s trampoline", name, InvokePrefix)
	}

	sig := Signature{Name: name}
	switch r := ValueKind(code[0]); r {
	case Void, I32, I64, F32, F64:
		sig.Result = r
	default:
		return Signature{}, fmt.Errorf("%q: unknown result letter %q", name, code[0])
	}

	if len(code) > 1 {
		sig.Params = make([]ValueKind, 0, len(code)-1)
	}
	for i := 1; i < len(code); i++ {
		switch p := ValueKind(code[i]); p {
		case I32, I64, F32, F64:
			sig.Params = append(sig.Params, p)
		default:
			return Signature{}, fmt.Errorf("%q: unknown parameter letter %q at %d", name, code[i], i)
		}
	}
	return sig, nil
}

// Code returns the letter code, e.g. "viiji".
func (s Signature) Code() string {
	b := make([]byte, 0, len(s.Params)+1)
	b = append(b, byte(s.Result))
	for _, p := range s.Params {
		b = append(b, byte(p))
	}
	return string(b)
}

// Arity is the number of callee parameters, excluding the table index.
func (s Signature) Arity() int {
	return len(s.Params)
}

// Supported reports whether the trampoline is within MaxArity.
func (s Signature) Supported() bool {
	return s.Arity() <= MaxArity
}

// CalleeParams returns the core parameter types of the table entry.
func (s Signature) CalleeParams() []api.ValueType {
	params := make([]api.ValueType, len(s.Params))
	for i, p := range s.Params {
		params[i], _ = p.ValueType()
	}
	return params
}

// ImportParams returns the trampoline's core parameter types: the i32
// table index followed by the callee parameters.
func (s Signature) ImportParams() []api.ValueType {
	return append([]api.ValueType{api.ValueTypeI32}, s.CalleeParams()...)
}

// Results returns the core result types, empty for void.
func (s Signature) Results() []api.ValueType {
	if vt, ok := s.Result.ValueType(); ok {
		return []api.ValueType{vt}
	}
	return nil
}

// Matches reports whether a declared import type agrees with the trampoline.
func (s Signature) Matches(params, results []api.ValueType) bool {
	return equalTypes(params, s.ImportParams()) && equalTypes(results, s.Results())
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> ")
	if s.Result == Void {
		b.WriteString("()")
	} else {
		b.WriteString(s.Result.String())
	}
	return b.String()
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TypesString formats core types the way wazero prints them in errors.
func TypesString(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		s := make([]string, len(ts))
		for i, t := range ts {
			s[i] = api.ValueTypeName(t)
		}
		return strings.Join(s, ", ")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}
