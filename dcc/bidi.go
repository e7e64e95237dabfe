// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dcc

import "golang.org/x/xerrors"

// S-9.3.2 cutout timing, in µs after the packet stop bit.
const (
	BiDiTCS  = 26  // cutout start
	BiDiTTS1 = 80  // earliest channel-1 transmit
	BiDiTTS2 = 193 // latest channel-1 transmit
	BiDiTTS3 = 260 // earliest channel-2 transmit
	BiDiTTS4 = 454 // latest channel-2 transmit
	BiDiTCE  = 466 // cutout end
)

// MaxDatagramSize is the widest BiDi datagram (channel 2, 6 octets)
// plus the 2-octet channel-1 window.
const MaxDatagramSize = 8

// BiDi application IDs (RCN-217 subset).
const (
	BiDiAppPOM = 0
	BiDiAppADR = 1
	BiDiAppDyn = 7
)

// Datagram is a fixed-capacity BiDi reply buffer.
type Datagram struct {
	buf [MaxDatagramSize]uint8
	n   int
}

// Bytes returns the datagram payload.
func (dg *Datagram) Bytes() []uint8 { return dg.buf[:dg.n] }

// Len returns the datagram payload size.
func (dg *Datagram) Len() int { return dg.n }

// MakeDatagram builds a datagram from raw octets.
func MakeDatagram(raw []uint8) (Datagram, error) {
	var dg Datagram
	if len(raw) == 0 || len(raw) > MaxDatagramSize {
		return dg, xerrors.Errorf("dcc: invalid datagram size %d: %w", len(raw), ErrInvalidArgument)
	}
	dg.n = copy(dg.buf[:], raw)
	return dg, nil
}

// MakeDynDatagram builds an app:dyn datagram carrying one 8-bit value:
// the ID and the two MSBs of the payload in the first octet, the low
// six bits in the second.
func MakeDynDatagram(payload uint8) Datagram {
	var dg Datagram
	dg.buf[0] = BiDiAppDyn<<2 | payload>>6&0x03
	dg.buf[1] = payload & 0x3f
	dg.n = 2
	return dg
}
