// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package station

// Override is the RAM-only per-bit timing override used for bad-bit
// compliance tests. When bit k of Mask is set and the engine is
// emitting bit k of a packet, and that bit's programmed auto-reload
// qualifies as a zero bit, the half-period is adjusted by DeltaP on
// the positive drive phase and by DeltaN on the negative one.
//
// Bit 0 of Mask addresses the packet start bit; data, separator and
// stop bits follow in transmission order.
type Override struct {
	Mask   uint64
	DeltaP int32
	DeltaN int32
}

// zero reports whether the override is a no-op.
func (ovr Override) zero() bool {
	return ovr.Mask == 0 && ovr.DeltaP == 0 && ovr.DeltaN == 0
}
