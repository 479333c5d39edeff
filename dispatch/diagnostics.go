package dispatch

import (
	"sync"

	"github.com/willf/bitset"

	"github.com/wippyai/emhost/abi"
)

// DefaultDepth is the number of recent events kept when no depth is given.
const DefaultDepth = 64

// Slots at or above this index share one warned bit.
const maxTrackedSlot = 1 << 16

// Event is one recorded dispatch outcome.
type Event struct {
	Err        error
	Trampoline string
	Index      uint32
	Code       abi.Code
}

// Diagnostics counts dispatch outcomes per code and keeps the most recent
// degraded events. It is safe for concurrent readers.
type Diagnostics struct {
	warned *bitset.BitSet
	recent []Event
	counts [abi.NumCodes]uint64
	next   int
	full   bool
	mu     sync.Mutex
}

// NewDiagnostics creates diagnostics keeping depth recent events.
func NewDiagnostics(depth int) *Diagnostics {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Diagnostics{
		recent: make([]Event, depth),
		warned: bitset.New(64),
	}
}

// Record counts an outcome. Degraded outcomes are kept in the recent ring.
// It reports whether this is the first degraded outcome for the slot, so
// the caller can log once per slot at a higher level.
func (d *Diagnostics) Record(ev Event) (first bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts[ev.Code]++
	if ev.Code == abi.CodeOK {
		return false
	}

	d.recent[d.next] = ev
	d.next++
	if d.next == len(d.recent) {
		d.next = 0
		d.full = true
	}

	slot := uint(ev.Index)
	if slot > maxTrackedSlot {
		slot = maxTrackedSlot
	}
	if d.warned.Test(slot) {
		return false
	}
	d.warned.Set(slot)
	return true
}

// Count returns how many outcomes with the code were recorded.
func (d *Diagnostics) Count(code abi.Code) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[code]
}

// Counts returns the non-zero counters keyed by code name.
func (d *Diagnostics) Counts() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]uint64)
	for code, n := range d.counts {
		if n > 0 {
			out[abi.Code(code).String()] = n
		}
	}
	return out
}

// Recent returns the kept degraded events, oldest first.
func (d *Diagnostics) Recent() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.full {
		return append([]Event(nil), d.recent[:d.next]...)
	}
	out := make([]Event, 0, len(d.recent))
	out = append(out, d.recent[d.next:]...)
	return append(out, d.recent[:d.next]...)
}

// WarnedSlots returns how many distinct slots produced a degraded outcome.
func (d *Diagnostics) WarnedSlots() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warned.Count()
}
