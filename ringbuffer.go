// Package nebulaid - ringbuffer.go implements the lock-free L1 ID cache.
//
// The buffer is a bounded multi-producer multi-consumer queue built on
// per-slot sequence numbers (Dmitry Vyukov's design). Producers and consumers
// claim positions with CAS on their respective cursors and then synchronize
// on the slot's sequence, so a push and a pop on different slots never touch
// the same cache line.
//
// Slot protocol, for capacity c and position pos:
//
//	seq == pos      slot is free for the producer claiming pos
//	seq == pos+1    slot holds data for the consumer claiming pos
//	seq == pos+c    slot was consumed and recycled for the next lap
//
// A pop that drops the buffer below its fill threshold fires the refill hook
// at most once concurrently.

package nebulaid

import "sync/atomic"

type ringSlot struct {
	seq atomic.Uint64
	id  uint64
}

// RingBuffer is a bounded lock-free MPMC queue of raw ID values.
type RingBuffer struct {
	slots []ringSlot
	mask  uint64

	enqueue atomic.Uint64
	dequeue atomic.Uint64

	fillThreshold uint64
	refillHook    func()
	refilling     atomic.Bool
}

// NewRingBuffer creates a buffer holding up to capacity IDs (rounded up to a
// power of two). fillThreshold is the occupancy below which a pop triggers
// the refill hook; pass 0 to default it to capacity/10.
func NewRingBuffer(capacity int, fillThreshold uint64) *RingBuffer {
	c := nextPowerOfTwo(uint64(capacity))
	if fillThreshold == 0 {
		fillThreshold = c / 10
	}
	b := &RingBuffer{
		slots:         make([]ringSlot, c),
		mask:          c - 1,
		fillThreshold: fillThreshold,
	}
	for i := range b.slots {
		b.slots[i].seq.Store(uint64(i))
	}
	return b
}

func nextPowerOfTwo(v uint64) uint64 {
	if v < 2 {
		return 2
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// SetRefillHook installs the function fired when occupancy drops below the
// fill threshold. Must be called before the buffer is shared.
func (b *RingBuffer) SetRefillHook(hook func()) {
	b.refillHook = hook
}

// Push adds one ID. Returns false when the buffer is full.
func (b *RingBuffer) Push(id uint64) bool {
	for {
		pos := b.enqueue.Load()
		slot := &b.slots[pos&b.mask]
		seq := slot.seq.Load()

		switch {
		case seq == pos:
			if b.enqueue.CompareAndSwap(pos, pos+1) {
				slot.id = id
				slot.seq.Store(pos + 1)
				return true
			}
		case seq < pos:
			// Slot still holds an unconsumed value from the previous lap.
			return false
		}
		// seq > pos: another producer advanced the cursor; retry.
	}
}

// PushBatch adds as many of ids as fit, returning how many were pushed.
func (b *RingBuffer) PushBatch(ids []uint64) int {
	for i, id := range ids {
		if !b.Push(id) {
			return i
		}
	}
	return len(ids)
}

// Pop removes one ID. Returns false when the buffer is empty. Dropping below
// the fill threshold fires the refill hook in a new goroutine, at most one at
// a time.
func (b *RingBuffer) Pop() (uint64, bool) {
	for {
		pos := b.dequeue.Load()
		slot := &b.slots[pos&b.mask]
		seq := slot.seq.Load()

		switch {
		case seq == pos+1:
			if b.dequeue.CompareAndSwap(pos, pos+1) {
				id := slot.id
				slot.seq.Store(pos + b.mask + 1)
				b.maybeRefill()
				return id, true
			}
		case seq <= pos:
			return 0, false
		}
		// seq > pos+1: another consumer advanced the cursor; retry.
	}
}

// PopBatch removes up to n IDs, returning however many were available.
func (b *RingBuffer) PopBatch(n int) []uint64 {
	out := make([]uint64, 0, n)
	for len(out) < n {
		id, ok := b.Pop()
		if !ok {
			break
		}
		out = append(out, id)
	}
	return out
}

// Len returns the approximate number of buffered IDs.
func (b *RingBuffer) Len() uint64 {
	enq := b.enqueue.Load()
	deq := b.dequeue.Load()
	if enq < deq {
		return 0
	}
	return enq - deq
}

// Cap returns the buffer capacity.
func (b *RingBuffer) Cap() uint64 {
	return b.mask + 1
}

// NeedRefill reports whether occupancy is below the fill threshold.
func (b *RingBuffer) NeedRefill() bool {
	return b.Len() < b.fillThreshold
}

func (b *RingBuffer) maybeRefill() {
	if b.refillHook == nil || !b.NeedRefill() {
		return
	}
	if !b.refilling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer b.refilling.Store(false)
		b.refillHook()
	}()
}
