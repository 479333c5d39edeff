package dispatch

import (
	"sync"

	"github.com/wippyai/emhost/abi"
)

// place copies one stack word into the slot of a fixed kind.
type place func(word uint64) uint64

func placeNarrow(word uint64) uint64 {
	return uint64(uint32(word))
}

func placeWide(word uint64) uint64 {
	return word
}

func placeFor(k abi.ValueKind) place {
	if k.Wide() {
		return placeWide
	}
	return placeNarrow
}

// Marshaler moves the arguments of one trampoline signature into the callee
// frame and its result back. It is built once per signature; every position
// has its own placement so a 64-bit value never travels through a 32-bit
// path and a 32-bit value is never sign- or zero-extended into a wide slot.
type Marshaler struct {
	places []place
	result place
	sig    abi.Signature
}

// NewMarshaler compiles the placements of a signature.
func NewMarshaler(sig abi.Signature) *Marshaler {
	m := &Marshaler{sig: sig, places: make([]place, len(sig.Params))}
	for i, k := range sig.Params {
		m.places[i] = placeFor(k)
	}
	if sig.Result != abi.Void {
		m.result = placeFor(sig.Result)
	}
	return m
}

// Signature returns the signature the marshaler was compiled for.
func (m *Marshaler) Signature() abi.Signature {
	return m.sig
}

// Args writes the callee arguments found in a trampoline stack (table index
// first) into dst and returns it. dst is grown when too small.
func (m *Marshaler) Args(dst, stack []uint64) []uint64 {
	n := len(m.places)
	if cap(dst) < n {
		dst = make([]uint64, n)
	}
	dst = dst[:n]
	for i, p := range m.places {
		dst[i] = p(stack[i+1])
	}
	return dst
}

// Store writes a callee result into stack[0]. Void signatures write nothing.
func (m *Marshaler) Store(stack []uint64, result uint64) {
	if m.result != nil {
		stack[0] = m.result(result)
	}
}

// StoreDefault writes the default value of the declared result type.
func (m *Marshaler) StoreDefault(stack []uint64) {
	if m.result != nil {
		stack[0] = 0
	}
}

var marshalers sync.Map

// MarshalerFor returns the shared marshaler of a signature, compiling it on
// first use.
func MarshalerFor(sig abi.Signature) *Marshaler {
	if m, ok := marshalers.Load(sig.Name); ok {
		return m.(*Marshaler)
	}
	m, _ := marshalers.LoadOrStore(sig.Name, NewMarshaler(sig))
	return m.(*Marshaler)
}
