package spine

import "sync/atomic"

// TripleBuffer is a wait-free single-producer/single-consumer latest-wins
// publication channel. The producer (iron thread) always has a free slot to
// write into; the consumer (bridge reader) always sees the most recently
// completed write, never a torn one. Three preallocated slots avoid any
// heap allocation after init.
type TripleBuffer struct {
	slots [3]StateFrame

	// packed encodes (newData<<24 | writeIdx<<16 | readyIdx<<8 | readIdx),
	// each index a value in [0,3). The producer owns writeIdx and swaps it
	// with readyIdx on publish, setting newData; the consumer owns readIdx
	// and swaps it with readyIdx on read only while newData is set, clearing
	// it. All three indices are distinct at every instant.
	packed atomic.Uint32

	lastConsumed uint32
}

// NewTripleBuffer constructs a buffer with slot 0 ready, slot 1 held by the
// writer, and slot 2 held by the reader.
func NewTripleBuffer() *TripleBuffer {
	tb := &TripleBuffer{}
	tb.packed.Store(pack(1, 0, 2))
	return tb
}

const newDataBit uint32 = 1 << 24

func pack(write, ready, read uint32) uint32 {
	return write<<16 | ready<<8 | read
}

func unpack(p uint32) (write, ready, read uint32) {
	return (p >> 16) & 0xFF, (p >> 8) & 0xFF, p & 0xFF
}

// Write copies frame into the producer's current slot, then publishes it by
// swapping the write index with the ready index. No allocation occurs.
func (tb *TripleBuffer) Write(frame StateFrame) {
	for {
		p := tb.packed.Load()
		write, ready, read := unpack(p)
		tb.slots[write] = frame
		next := pack(ready, write, read) | newDataBit
		if tb.packed.CompareAndSwap(p, next) {
			return
		}
		// Another producer swap raced (should not happen with a single
		// producer, but CAS retry keeps the method safe regardless).
	}
}

// Read returns the most recently published frame. If nothing new has been
// published since the last Read, it returns the same frame again
// (latest-wins staleness is acceptable by design).
func (tb *TripleBuffer) Read() StateFrame {
	for {
		p := tb.packed.Load()
		write, ready, read := unpack(p)
		if p&newDataBit == 0 {
			return tb.slots[read]
		}
		next := pack(write, read, ready)
		if tb.packed.CompareAndSwap(p, next) {
			return tb.slots[ready]
		}
	}
}

// Mailbox is a single-slot latest-wins recommendation intake. The bridge
// (producer) stores candidates; the iron thread (consumer) atomically takes
// whatever is present, leaving the slot empty.
type Mailbox struct {
	slot atomic.Pointer[CandidateSetpoint]
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox { return &Mailbox{} }

// Put overwrites any existing candidate. Only the newest recommendation
// matters; stale advice is worse than no advice.
func (m *Mailbox) Put(c CandidateSetpoint) {
	cp := c
	m.slot.Store(&cp)
}

// Take atomically removes and returns the current candidate, or nil if the
// mailbox was empty.
func (m *Mailbox) Take() *CandidateSetpoint {
	return m.slot.Swap(nil)
}
