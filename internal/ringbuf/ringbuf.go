// Package ringbuf hands ticks from one producer goroutine to one consumer
// without locks. Head and tail live on separate cache lines so the two sides
// never contend.
package ringbuf

import (
	"sync/atomic"

	"chartcore/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer of ticks.
// Capacity is a power of two so indexes wrap with a mask.
type Ring struct {
	buf  []model.Tick
	mask uint64

	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:  make([]model.Tick, size),
		mask: uint64(size - 1),
	}
}

// Push appends a tick. It returns false, and counts an overflow, when the
// ring is full; the tick is dropped in that case. Producer side only.
func (r *Ring) Push(t model.Tick) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}
	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest tick. Consumer side only.
func (r *Ring) Pop() (model.Tick, bool) {
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return model.Tick{}, false
	}
	t := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return t, true
}

// Drain pops every tick currently queued, in order, and calls fn for each.
// It returns the number of ticks consumed. Consumer side only.
func (r *Ring) Drain(fn func(model.Tick)) int {
	n := 0
	for {
		t, ok := r.Pop()
		if !ok {
			return n
		}
		fn(t)
		n++
	}
}

// Len returns the current number of queued ticks.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of pushes dropped because the ring was full.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
