package exception

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/emhost/abi"
)

const (
	p1   = 0x1000
	p2   = 0x2000
	typA = 0x500
	typB = 0x600
	dtor = 0x77
)

func TestEmulator_ThrowCatchEnd(t *testing.T) {
	e := NewEmulator()
	assert.Equal(t, Idle, e.State())

	out := e.BeginThrow(p1, typA, dtor)
	assert.Equal(t, abi.CodePropagated, out.Code)
	perr, ok := AsPropagated(out.Err)
	require.True(t, ok)
	assert.Equal(t, uint32(p1), perr.Payload)
	assert.Equal(t, uint32(typA), perr.TypeDescriptor)
	assert.Equal(t, "__cxa_throw", perr.Op)
	assert.Equal(t, Thrown, e.State())
	assert.Equal(t, 1, e.Uncaught())

	rec, ok := e.Lookup(p1)
	require.True(t, ok)
	assert.Equal(t, Record{Payload: p1, TypeDescriptor: typA, Destructor: dtor}, rec)

	out = e.BeginCatch(p1)
	assert.True(t, out.OK())
	assert.Equal(t, uint64(p1), out.Value)
	assert.Equal(t, Caught, e.State())
	assert.Equal(t, 0, e.Uncaught())

	out = e.EndCatch()
	assert.True(t, out.OK())
	assert.Equal(t, Idle, e.State())
	_, ok = e.Lookup(p1)
	assert.False(t, ok, "end_catch must remove the record")
	assert.Zero(t, e.Active())

	// A second end_catch without an active handler changes nothing.
	out = e.EndCatch()
	assert.True(t, out.OK())
	assert.Equal(t, Idle, e.State())
}

func TestEmulator_BeginCatchIdempotent(t *testing.T) {
	e := NewEmulator()
	e.BeginThrow(p1, typA, dtor)

	assert.Equal(t, uint64(p1), e.BeginCatch(p1).Value)
	assert.Equal(t, uint64(p1), e.BeginCatch(p1).Value)

	e.EndCatch()
	assert.Equal(t, Idle, e.State())
	assert.Zero(t, e.Active())
}

func TestEmulator_MostRecentWins(t *testing.T) {
	e := NewEmulator()
	e.BeginThrow(p1, typA, dtor)
	e.BeginThrow(p2, typB, dtor)

	candidates := [][]uint32{nil, {typA}, {typA, typA}, {typA, 0, typA, typA}}
	for _, c := range candidates {
		t.Run(fmt.Sprintf("%d candidates", len(c)), func(t *testing.T) {
			out, selector := e.FindMatchingCatch(c...)
			assert.True(t, out.OK())
			assert.Equal(t, uint64(p2), out.Value)
			assert.Equal(t, uint32(typB), selector)
		})
	}

	// The first record stays addressable until replaced.
	_, ok := e.Lookup(p1)
	assert.True(t, ok)
	assert.Equal(t, 2, e.Uncaught())
}

func TestEmulator_FindWithoutThrow(t *testing.T) {
	e := NewEmulator()
	out, selector := e.FindMatchingCatch(typA)
	assert.Equal(t, abi.CodeNoActiveException, out.Code)
	assert.Zero(t, out.Value)
	assert.Zero(t, selector)
}

func TestEmulator_ThrowWhileCaught(t *testing.T) {
	e := NewEmulator()
	e.BeginThrow(p1, typA, dtor)
	e.BeginCatch(p1)

	e.BeginThrow(p2, typB, dtor)
	assert.Equal(t, Thrown, e.State())

	e.BeginCatch(p2)
	e.EndCatch()
	assert.Equal(t, Caught, e.State(), "outer handler is still active")
	_, ok := e.Lookup(p1)
	assert.True(t, ok)

	e.EndCatch()
	assert.Equal(t, Idle, e.State())
	assert.Zero(t, e.Active())
}

func TestEmulator_Rethrow(t *testing.T) {
	e := NewEmulator()
	e.BeginThrow(p1, typA, dtor)
	e.BeginCatch(p1)

	out := e.Rethrow()
	assert.Equal(t, abi.CodePropagated, out.Code)
	perr, ok := AsPropagated(out.Err)
	require.True(t, ok)
	assert.Equal(t, "__cxa_rethrow", perr.Op)
	assert.Equal(t, uint32(p1), perr.Payload)
	assert.Equal(t, Thrown, e.State())

	// The rethrowing handler's cleanup must not destroy the record.
	e.EndCatch()
	_, ok = e.Lookup(p1)
	assert.True(t, ok)

	// The outer handler catches it and finally releases it.
	assert.Equal(t, uint64(p1), e.BeginCatch(p1).Value)
	e.EndCatch()
	_, ok = e.Lookup(p1)
	assert.False(t, ok)
	assert.Equal(t, Idle, e.State())
}

func TestEmulator_RethrowWithoutHandler(t *testing.T) {
	e := NewEmulator()
	out := e.Rethrow()
	assert.Equal(t, abi.CodeAbort, out.Code)
	assert.Error(t, out.Err)
	assert.Equal(t, Idle, e.State())
}

func TestEmulator_Resume(t *testing.T) {
	e := NewEmulator()
	e.BeginThrow(p1, typA, dtor)

	out := e.Resume(p1)
	perr, ok := AsPropagated(out.Err)
	require.True(t, ok)
	assert.Equal(t, "__resumeException", perr.Op)
	assert.Equal(t, uint32(typA), perr.TypeDescriptor)

	// After a handler cleared the last-thrown pointer, resume restores it.
	e.BeginCatch(p1)
	e.EndCatch()
	_, ok = e.Last()
	assert.False(t, ok)

	e.Resume(p2)
	last, ok := e.Last()
	assert.True(t, ok)
	assert.Equal(t, uint32(p2), last)
}

func TestTypeIDFor(t *testing.T) {
	for _, v := range []uint32{0, typA, 0xffffffff} {
		assert.Equal(t, v, TypeIDFor(v))
	}
}

func TestEmulator_Reset(t *testing.T) {
	e := NewEmulator()
	e.BeginThrow(p1, typA, dtor)
	e.BeginCatch(p1)
	e.Reset()

	assert.Equal(t, Idle, e.State())
	assert.Zero(t, e.Active())
	assert.Zero(t, e.Uncaught())
	assert.True(t, e.EndCatch().OK())
}
