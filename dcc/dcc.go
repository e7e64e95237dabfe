// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dcc holds functions to build and validate NMRA S-9.2 packets.
package dcc // import "github.com/nmradcc/dcc-tester/dcc"

import (
	"golang.org/x/xerrors"
)

const (
	// MaxPacketSize is the maximum number of octets in a packet,
	// error byte included.
	MaxPacketSize = 6

	// MaxShortAddr is the highest 7-bit (primary) address.
	MaxShortAddr = 127
	// MaxLongAddr is the highest 14-bit (extended) address.
	MaxLongAddr = 10239

	// MaxSpeedStep is the highest 128-speed-step magnitude.
	MaxSpeedStep = 126
)

// ErrInvalidArgument is returned by packet builders for out-of-range
// addresses, speed steps, function groups or CV indices.
var ErrInvalidArgument = xerrors.New("dcc: invalid argument")

// Packet is an S-9.2 packet: address octet(s), 0..4 data octets and a
// trailing XOR error byte. A Packet is a value type and never allocates.
type Packet struct {
	buf [MaxPacketSize]uint8
	n   int
}

// Bytes returns the packet octets, error byte included.
func (p *Packet) Bytes() []uint8 { return p.buf[:p.n] }

// Len returns the number of octets, error byte included.
func (p *Packet) Len() int { return p.n }

func (p *Packet) append(vs ...uint8) error {
	if p.n+len(vs) > MaxPacketSize {
		return xerrors.Errorf("dcc: packet overflow (len=%d+%d): %w", p.n, len(vs), ErrInvalidArgument)
	}
	copy(p.buf[p.n:], vs)
	p.n += len(vs)
	return nil
}

// AppendXOR finalizes the packet with the XOR of all preceding octets.
func AppendXOR(p *Packet) error {
	var x uint8
	for _, v := range p.Bytes() {
		x ^= v
	}
	return p.append(x)
}

// Valid reports whether the trailing octet is the XOR of all others.
// Every well-formed packet XOR-folds to zero.
func (p *Packet) Valid() bool {
	if p.n < 3 {
		return false
	}
	var x uint8
	for _, v := range p.Bytes() {
		x ^= v
	}
	return x == 0
}

// FromBytes builds a packet from raw octets, error byte included.
// No XOR validation is performed: test packets are allowed to carry a
// deliberately wrong error byte.
func FromBytes(raw []uint8) (Packet, error) {
	var p Packet
	if len(raw) == 0 || len(raw) > MaxPacketSize {
		return p, xerrors.Errorf("dcc: invalid packet size %d: %w", len(raw), ErrInvalidArgument)
	}
	_ = p.append(raw...)
	return p, nil
}

// appendAddr encodes addr per S-9.2.1: 1..127 as a single octet,
// 128..10239 as the two-octet 11xxxxxx extended form.
func (p *Packet) appendAddr(addr uint16) error {
	switch {
	case addr >= 1 && addr <= MaxShortAddr:
		return p.append(uint8(addr))
	case addr > MaxShortAddr && addr <= MaxLongAddr:
		return p.append(0xc0|uint8(addr>>8), uint8(addr))
	default:
		return xerrors.Errorf("dcc: invalid address %d: %w", addr, ErrInvalidArgument)
	}
}

// MakeSpeed builds an advanced-operations (128-step) speed packet.
// step > 0 drives forward, step < 0 reverse; |step| <= 126, 0 stops.
func MakeSpeed(addr uint16, step int8) (Packet, error) {
	var p Packet
	if step < -MaxSpeedStep || step > MaxSpeedStep {
		return p, xerrors.Errorf("dcc: invalid speed step %d: %w", step, ErrInvalidArgument)
	}
	if err := p.appendAddr(addr); err != nil {
		return p, err
	}
	var data uint8
	if step >= 0 {
		data = 1<<7 | uint8(step)
	} else {
		data = uint8(-step)
	}
	if err := p.append(0x3f, data); err != nil {
		return p, err
	}
	return p, AppendXOR(&p)
}

// MakeFunctionGroup builds a function-group packet.
// Group 0 carries FL,F4..F1 (5 bits), group 1 F8..F5, group 2 F12..F9.
func MakeFunctionGroup(addr uint16, group uint8, bits uint8) (Packet, error) {
	var p Packet
	var instr uint8
	switch group {
	case 0:
		if bits > 0x1f {
			return p, xerrors.Errorf("dcc: invalid F0-F4 bits 0x%x: %w", bits, ErrInvalidArgument)
		}
		instr = 0x80 | bits
	case 1:
		if bits > 0x0f {
			return p, xerrors.Errorf("dcc: invalid F5-F8 bits 0x%x: %w", bits, ErrInvalidArgument)
		}
		instr = 0xb0 | bits
	case 2:
		if bits > 0x0f {
			return p, xerrors.Errorf("dcc: invalid F9-F12 bits 0x%x: %w", bits, ErrInvalidArgument)
		}
		instr = 0xa0 | bits
	default:
		return p, xerrors.Errorf("dcc: invalid function group %d: %w", group, ErrInvalidArgument)
	}
	if err := p.appendAddr(addr); err != nil {
		return p, err
	}
	if err := p.append(instr); err != nil {
		return p, err
	}
	return p, AppendXOR(&p)
}

// MakeCVAccessShortWrite builds a configuration-variable-access
// (long form, write byte) packet: 1110-11VV VVVVVVVV DDDDDDDD where
// cvHi carries the two MSBs of the zero-based 10-bit CV index.
func MakeCVAccessShortWrite(addr uint16, cvHi, cvLo, value uint8) (Packet, error) {
	var p Packet
	if cvHi > 0x03 {
		return p, xerrors.Errorf("dcc: invalid CV index high bits 0x%x: %w", cvHi, ErrInvalidArgument)
	}
	if err := p.appendAddr(addr); err != nil {
		return p, err
	}
	if err := p.append(0xec|cvHi, cvLo, value); err != nil {
		return p, err
	}
	return p, AppendXOR(&p)
}

// MakeCVAccessShortVerify builds the long-form verify-byte variant.
func MakeCVAccessShortVerify(addr uint16, cvHi, cvLo, value uint8) (Packet, error) {
	var p Packet
	if cvHi > 0x03 {
		return p, xerrors.Errorf("dcc: invalid CV index high bits 0x%x: %w", cvHi, ErrInvalidArgument)
	}
	if err := p.appendAddr(addr); err != nil {
		return p, err
	}
	if err := p.append(0xe4|cvHi, cvLo, value); err != nil {
		return p, err
	}
	return p, AppendXOR(&p)
}

// MakeBroadcastEmergencyStop builds the broadcast e-stop packet
// (address 0, baseline speed instruction with the stop code).
func MakeBroadcastEmergencyStop() Packet {
	var p Packet
	_ = p.append(0x00, 0x61)
	_ = AppendXOR(&p)
	return p
}

// MakeIdle builds the idle packet (0xFF 0x00 0xFF) emitted to keep the
// bus alive when the transmit queue is empty.
func MakeIdle() Packet {
	var p Packet
	_ = p.append(0xff, 0x00)
	_ = AppendXOR(&p)
	return p
}
