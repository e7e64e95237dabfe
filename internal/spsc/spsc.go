// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spsc provides a wait-free single-producer/single-consumer
// ring. The consumer side is safe to run from the timer-update path:
// neither end blocks, locks or allocates after construction.
package spsc // import "github.com/nmradcc/dcc-tester/internal/spsc"

import (
	"sync/atomic"

	"github.com/nmradcc/dcc-tester/dcc"
)

// Queue is a bounded SPSC ring of packets. The zero value is not
// usable; call New.
type Queue struct {
	buf  []dcc.Packet
	mask uint32

	head atomic.Uint32 // next slot to pop (consumer-owned)
	tail atomic.Uint32 // next slot to push (producer-owned)
}

// New returns a queue holding up to n packets. n is rounded up to the
// next power of two.
func New(n int) *Queue {
	sz := uint32(2)
	for int(sz) < n {
		sz <<= 1
	}
	return &Queue{
		buf:  make([]dcc.Packet, sz),
		mask: sz - 1,
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push enqueues p. It reports false when the ring is full.
// Only one goroutine may push.
func (q *Queue) Push(p dcc.Packet) bool {
	var (
		tail = q.tail.Load()
		head = q.head.Load()
	)
	if tail-head > q.mask {
		return false
	}
	q.buf[tail&q.mask] = p
	q.tail.Store(tail + 1) // release: publish the slot
	return true
}

// Pop dequeues the oldest packet. It reports false when the ring is
// empty. Only one goroutine (or the ISR path) may pop.
func (q *Queue) Pop() (dcc.Packet, bool) {
	var (
		head = q.head.Load()
		tail = q.tail.Load() // acquire: observe published slots
	)
	if head == tail {
		return dcc.Packet{}, false
	}
	p := q.buf[head&q.mask]
	q.head.Store(head + 1)
	return p, true
}

// Reset drops all queued packets. Only safe when neither end is active.
func (q *Queue) Reset() {
	q.head.Store(0)
	q.tail.Store(0)
}
