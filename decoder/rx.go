// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"sync/atomic"

	"github.com/nmradcc/dcc-tester/dcc"
)

// Windows are the half-period classification bounds in µs. A half in
// [One.Lo, One.Hi] is a one half-bit, in [Zero.Lo, Zero.Hi] a zero.
// Anything else is a framing error and forces a resync.
type Windows struct {
	One  struct{ Lo, Hi uint32 }
	Zero struct{ Lo, Hi uint32 }
}

// DefaultWindows returns the S-9.1 receive windows: 52..64 µs for a
// one, 90 µs up to a few ms for a zero.
func DefaultWindows() Windows {
	var w Windows
	w.One.Lo, w.One.Hi = 52, 64
	w.Zero.Lo, w.Zero.Hi = 90, 10000
	return w
}

// huntOnes is the number of consecutive one half-periods required
// before a start bit is accepted (10 preamble bits).
const huntOnes = 20

type rxState uint8

const (
	rxHunt rxState = iota
	rxStartHalf
	rxBitFirst
	rxBitSecond
	rxSepFirst
	rxSepSecond
)

type halfClass uint8

const (
	halfBad halfClass = iota
	halfOne
	halfZero
)

// rx assembles bits, bytes and packets from captured half-periods.
// feed runs on the input-capture interrupt path and must stay
// wait-free: completed packets are handed off through a buffered
// channel with a drop-and-count overflow policy.
type rx struct {
	win Windows
	out chan dcc.Packet

	state   rxState
	ones    int
	bitA    halfClass
	buf     [dcc.MaxPacketSize]uint8
	nbytes  int
	bits    int
	sep     halfClass
	crcErrs atomic.Uint32
	frmErrs atomic.Uint32
	ovfErrs atomic.Uint32
	packets atomic.Uint32
}

func newRx(win Windows) *rx {
	return &rx{
		win: win,
		out: make(chan dcc.Packet, 8),
	}
}

func (rx *rx) classify(us uint32) halfClass {
	switch {
	case us >= rx.win.One.Lo && us <= rx.win.One.Hi:
		return halfOne
	case us >= rx.win.Zero.Lo && us <= rx.win.Zero.Hi:
		return halfZero
	default:
		return halfBad
	}
}

// resync drops the partial packet and scans for a preamble again.
func (rx *rx) resync() {
	rx.state = rxHunt
	rx.ones = 0
}

// feed consumes one captured half-period.
func (rx *rx) feed(us uint32) {
	c := rx.classify(us)
	if c == halfBad {
		if rx.state != rxHunt {
			rx.frmErrs.Add(1)
		}
		rx.resync()
		return
	}

	switch rx.state {
	case rxHunt:
		if c == halfOne {
			rx.ones++
			return
		}
		// a zero half after a long run of ones: packet start bit.
		if rx.ones >= huntOnes {
			rx.state = rxStartHalf
		}
		rx.ones = 0

	case rxStartHalf:
		if c != halfZero {
			rx.frmErrs.Add(1)
			rx.resync()
			return
		}
		rx.nbytes = 0
		rx.bits = 0
		rx.buf[0] = 0
		rx.state = rxBitFirst

	case rxBitFirst:
		rx.bitA = c
		rx.state = rxBitSecond

	case rxBitSecond:
		if c != rx.bitA {
			rx.frmErrs.Add(1)
			rx.resync()
			return
		}
		rx.buf[rx.nbytes] <<= 1
		if c == halfOne {
			rx.buf[rx.nbytes] |= 1
		}
		rx.bits++
		if rx.bits == 8 {
			rx.bits = 0
			rx.nbytes++
			rx.state = rxSepFirst
			return
		}
		rx.state = rxBitFirst

	case rxSepFirst:
		rx.sep = c
		rx.state = rxSepSecond

	case rxSepSecond:
		if c != rx.sep {
			rx.frmErrs.Add(1)
			rx.resync()
			return
		}
		if c == halfZero {
			// byte separator: another data byte follows.
			if rx.nbytes == dcc.MaxPacketSize {
				rx.frmErrs.Add(1)
				rx.resync()
				return
			}
			rx.buf[rx.nbytes] = 0
			rx.state = rxBitFirst
			return
		}
		// stop bit: packet complete.
		rx.finish()
		rx.resync()
	}
}

// finish XOR-validates the assembled packet and hands it off. A CRC
// mismatch is counted and the packet silently dropped.
func (rx *rx) finish() {
	pkt, err := dcc.FromBytes(rx.buf[:rx.nbytes])
	if err != nil {
		rx.frmErrs.Add(1)
		return
	}
	if !pkt.Valid() {
		rx.crcErrs.Add(1)
		return
	}
	rx.packets.Add(1)
	select {
	case rx.out <- pkt:
	default:
		// the controller is behind: drop, never block.
		rx.ovfErrs.Add(1)
	}
}
