package exception

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
)

// State is the emulator's position in the throw/catch cycle.
type State uint8

const (
	Idle State = iota
	Thrown
	Caught
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Thrown:
		return "thrown"
	case Caught:
		return "caught"
	default:
		return "unknown"
	}
}

// Record is one thrown exception, keyed by its payload address.
type Record struct {
	Payload        uint32
	TypeDescriptor uint32
	Destructor     uint32

	// Caught is set once a handler entered the exception and cleared when
	// it is rethrown.
	Caught bool

	// Rethrown keeps the record alive across the end_catch of the handler
	// that rethrew it.
	Rethrown bool

	handlers int
}

// PropagatedError is the value a throw unwinds the in-flight guest call
// with. The host cannot resume guest code at a landing pad, so the call
// fails as a whole and the trampoline that started it reports the failure.
type PropagatedError struct {
	Op             string
	Payload        uint32
	TypeDescriptor uint32
}

func (e *PropagatedError) Error() string {
	return fmt.Sprintf("exception 0x%x (type 0x%x) propagated by %s", e.Payload, e.TypeDescriptor, e.Op)
}

// AsPropagated finds a *PropagatedError in err's chain.
func AsPropagated(err error) (*PropagatedError, bool) {
	var perr *PropagatedError
	if stderrors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// Emulator holds the exception state of one guest instance. It is not safe
// for concurrent use; an instance is driven by one caller at a time.
type Emulator struct {
	records  map[uint32]*Record
	caught   []uint32
	last     uint32
	hasLast  bool
	uncaught int
	state    State
}

// NewEmulator creates an emulator in the Idle state.
func NewEmulator() *Emulator {
	return &Emulator{records: make(map[uint32]*Record)}
}

// State returns the current state.
func (e *Emulator) State() State {
	return e.state
}

// Lookup returns the record registered under payload.
func (e *Emulator) Lookup(payload uint32) (Record, bool) {
	rec, ok := e.records[payload]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Active returns the number of registered records.
func (e *Emulator) Active() int {
	return len(e.records)
}

// Last returns the most recently thrown payload.
func (e *Emulator) Last() (uint32, bool) {
	return e.last, e.hasLast
}

// Uncaught returns how many thrown exceptions no handler has entered yet.
func (e *Emulator) Uncaught() int {
	return e.uncaught
}

// BeginThrow registers a record and makes it the most recent throw. A
// payload still registered from an earlier throw is replaced. The outcome
// is always CodePropagated: the caller must abandon the in-flight call.
func (e *Emulator) BeginThrow(payload, typeDescriptor, destructor uint32) abi.Outcome {
	if old, ok := e.records[payload]; ok && !old.Caught {
		e.uncaught--
	}
	e.records[payload] = &Record{
		Payload:        payload,
		TypeDescriptor: typeDescriptor,
		Destructor:     destructor,
	}
	e.last, e.hasLast = payload, true
	e.uncaught++
	e.state = Thrown
	return e.propagate("__cxa_throw", payload)
}

// BeginCatch enters the handler for payload and returns it unchanged.
// Calling it again for the exception already being handled changes nothing.
func (e *Emulator) BeginCatch(payload uint32) abi.Outcome {
	rec, ok := e.records[payload]
	if !ok {
		// Foreign or already destroyed exception; track it so the
		// matching end_catch has something to pop.
		rec = &Record{Payload: payload}
		e.records[payload] = rec
		e.uncaught++
	}

	if n := len(e.caught); n > 0 && e.caught[n-1] == payload && rec.Caught {
		return abi.Return(uint64(payload))
	}

	if !rec.Caught {
		rec.Caught = true
		e.uncaught--
	}
	rec.Rethrown = false
	rec.handlers++
	e.caught = append(e.caught, payload)
	e.state = Caught
	return abi.Return(uint64(payload))
}

// EndCatch leaves the innermost handler and removes its record unless the
// handler rethrew it. Without an active handler it is a no-op.
func (e *Emulator) EndCatch() abi.Outcome {
	n := len(e.caught)
	if n == 0 {
		return abi.Outcome{}
	}

	payload := e.caught[n-1]
	e.caught = e.caught[:n-1]

	if rec, ok := e.records[payload]; ok {
		rec.handlers--
		if rec.handlers <= 0 && !rec.Rethrown {
			delete(e.records, payload)
		}
	}
	e.hasLast, e.last = false, 0

	if len(e.caught) > 0 {
		e.state = Caught
	} else {
		e.state = Idle
	}
	return abi.Outcome{}
}

// FindMatchingCatch returns the most recently thrown payload, whatever
// candidate type descriptors the landing pad lists. The second result is
// the selector: the thrown type descriptor, which equals the type id of a
// catch clause naming exactly that type.
//
// This is exact only while a single exception type is in flight; a clause
// catching a base class of the thrown type is not recognized.
func (e *Emulator) FindMatchingCatch(candidates ...uint32) (abi.Outcome, uint32) {
	if !e.hasLast {
		return abi.Fail(abi.CodeNoActiveException, nil), 0
	}
	var selector uint32
	if rec, ok := e.records[e.last]; ok {
		selector = rec.TypeDescriptor
	}
	return abi.Return(uint64(e.last)), selector
}

// Resume continues unwinding payload after a cleanup landing pad.
func (e *Emulator) Resume(payload uint32) abi.Outcome {
	if !e.hasLast {
		e.last, e.hasLast = payload, true
	}
	e.state = Thrown
	return e.propagate("__resumeException", e.last)
}

// Rethrow propagates the exception of the innermost active handler. With no
// active handler the guest is aborted, as std::terminate would.
func (e *Emulator) Rethrow() abi.Outcome {
	n := len(e.caught)
	if n == 0 {
		return abi.Fail(abi.CodeAbort, errors.New(errors.PhaseException, errors.KindNoActiveException).
			Symbol("__cxa_rethrow").
			Detail("no exception to rethrow").
			Build())
	}

	payload := e.caught[n-1]
	if rec, ok := e.records[payload]; ok && !rec.Rethrown {
		rec.Rethrown = true
		rec.Caught = false
		e.uncaught++
	}
	e.last, e.hasLast = payload, true
	e.state = Thrown
	return e.propagate("__cxa_rethrow", payload)
}

// TypeIDFor returns the type id of a type descriptor, which is its address.
func TypeIDFor(typeDescriptor uint32) uint32 {
	return typeDescriptor
}

func (e *Emulator) propagate(op string, payload uint32) abi.Outcome {
	perr := &PropagatedError{Op: op, Payload: payload}
	if rec, ok := e.records[payload]; ok {
		perr.TypeDescriptor = rec.TypeDescriptor
	}
	return abi.Fail(abi.CodePropagated, perr)
}

// Reset drops all state, returning to Idle.
func (e *Emulator) Reset() {
	clear(e.records)
	e.caught = e.caught[:0]
	e.last, e.hasLast = 0, false
	e.uncaught = 0
	e.state = Idle
}
