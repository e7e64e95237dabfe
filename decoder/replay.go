// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"github.com/nmradcc/dcc-tester/dcc"
)

// Replay feeds a captured half-period stream (µs) through a fresh
// receiver and returns the decoded packets with the resulting
// counters. Used by offline capture analysis.
func Replay(halves []uint32, win Windows) ([]dcc.Packet, Stats) {
	rx := newRx(win)

	var pkts []dcc.Packet
	drain := func() {
		for {
			select {
			case pkt := <-rx.out:
				pkts = append(pkts, pkt)
			default:
				return
			}
		}
	}
	for _, h := range halves {
		rx.feed(h)
		drain()
	}

	return pkts, Stats{
		Packets:       rx.packets.Load(),
		CrcErrors:     rx.crcErrs.Load(),
		FramingErrors: rx.frmErrs.Load(),
		Overflows:     rx.ovfErrs.Load(),
	}
}
