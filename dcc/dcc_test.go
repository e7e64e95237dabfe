// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dcc

import (
	"bytes"
	"fmt"
	"testing"

	"golang.org/x/xerrors"
)

func TestMakeSpeed(t *testing.T) {
	for _, tc := range []struct {
		addr uint16
		step int8
		want []uint8
		err  bool
	}{
		{addr: 3, step: 42, want: []uint8{0x03, 0x3f, 0xaa, 0x96}},
		{addr: 3, step: -42, want: []uint8{0x03, 0x3f, 0x2a, 0x16}},
		{addr: 3, step: 0, want: []uint8{0x03, 0x3f, 0x80, 0xbc}},
		{addr: 3, step: 126, want: []uint8{0x03, 0x3f, 0xfe, 0xc2}},
		{addr: 1000, step: 60, want: []uint8{0xc3, 0xe8, 0x3f, 0xbc, 0xa8}},
		{addr: 0, step: 10, err: true},
		{addr: 10240, step: 10, err: true},
		{addr: 3, step: 127, err: true},
		{addr: 3, step: -127, err: true},
	} {
		t.Run(fmt.Sprintf("addr=%d,step=%d", tc.addr, tc.step), func(t *testing.T) {
			p, err := MakeSpeed(tc.addr, tc.step)
			switch {
			case tc.err:
				if err == nil {
					t.Fatalf("expected an error, got nil")
				}
				if !xerrors.Is(err, ErrInvalidArgument) {
					t.Fatalf("invalid error kind: %+v", err)
				}
				return
			case err != nil:
				t.Fatalf("could not build speed packet: %+v", err)
			}
			if got, want := p.Bytes(), tc.want; !bytes.Equal(got, want) {
				t.Fatalf("invalid packet:\ngot= %#x\nwant=%#x", got, want)
			}
		})
	}
}

func TestMakeFunctionGroup(t *testing.T) {
	for _, tc := range []struct {
		addr  uint16
		group uint8
		bits  uint8
		want  []uint8
		err   bool
	}{
		{addr: 3, group: 0, bits: 0x01, want: []uint8{0x03, 0x81, 0x82}},
		{addr: 3, group: 0, bits: 0x00, want: []uint8{0x03, 0x80, 0x83}},
		{addr: 3, group: 1, bits: 0x0f, want: []uint8{0x03, 0xbf, 0xbc}},
		{addr: 3, group: 2, bits: 0x05, want: []uint8{0x03, 0xa5, 0xa6}},
		{addr: 3, group: 0, bits: 0x20, err: true},
		{addr: 3, group: 1, bits: 0x10, err: true},
		{addr: 3, group: 3, bits: 0x01, err: true},
	} {
		t.Run(fmt.Sprintf("group=%d,bits=0x%x", tc.group, tc.bits), func(t *testing.T) {
			p, err := MakeFunctionGroup(tc.addr, tc.group, tc.bits)
			switch {
			case tc.err:
				if !xerrors.Is(err, ErrInvalidArgument) {
					t.Fatalf("invalid error: %+v", err)
				}
				return
			case err != nil:
				t.Fatalf("could not build function packet: %+v", err)
			}
			if got, want := p.Bytes(), tc.want; !bytes.Equal(got, want) {
				t.Fatalf("invalid packet:\ngot= %#x\nwant=%#x", got, want)
			}
		})
	}
}

func TestMakeCVAccessShortWrite(t *testing.T) {
	// CV8 (manufacturer ID) is index 7 on the wire.
	p, err := MakeCVAccessShortWrite(3, 0, 7, 0x0d)
	if err != nil {
		t.Fatalf("could not build cv-access packet: %+v", err)
	}
	if got, want := p.Bytes(), []uint8{0x03, 0xec, 0x07, 0x0d, 0xe5}; !bytes.Equal(got, want) {
		t.Fatalf("invalid packet:\ngot= %#x\nwant=%#x", got, want)
	}

	if _, err := MakeCVAccessShortWrite(3, 4, 0, 0); !xerrors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid error for cv-hi overflow: %+v", err)
	}
}

func TestXORClosure(t *testing.T) {
	packets := []Packet{
		MakeIdle(),
		MakeBroadcastEmergencyStop(),
	}
	for addr := uint16(1); addr <= MaxLongAddr; addr += 509 {
		for _, step := range []int8{-126, -1, 0, 1, 42, 126} {
			p, err := MakeSpeed(addr, step)
			if err != nil {
				t.Fatalf("could not build speed packet addr=%d step=%d: %+v", addr, step, err)
			}
			packets = append(packets, p)
		}
		for grp := uint8(0); grp < 3; grp++ {
			p, err := MakeFunctionGroup(addr, grp, 0x05&0x0f)
			if err != nil {
				t.Fatalf("could not build function packet: %+v", err)
			}
			packets = append(packets, p)
		}
	}

	for _, p := range packets {
		var x uint8
		for _, v := range p.Bytes() {
			x ^= v
		}
		if x != 0 {
			t.Fatalf("packet %#x does not XOR-fold to zero", p.Bytes())
		}
		if !p.Valid() {
			t.Fatalf("packet %#x not valid", p.Bytes())
		}
	}
}

func TestFromBytes(t *testing.T) {
	p, err := FromBytes([]uint8{0x03, 0x3f, 0x2a, 0x16})
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}
	if got, want := p.Len(), 4; got != want {
		t.Fatalf("invalid packet length: got=%d, want=%d", got, want)
	}

	if _, err := FromBytes(nil); !xerrors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid error for empty packet: %+v", err)
	}
	if _, err := FromBytes(make([]uint8, MaxPacketSize+1)); !xerrors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid error for oversized packet: %+v", err)
	}

	// deliberately broken error byte survives round-trip: the codec
	// must not repair test packets.
	p, err = FromBytes([]uint8{0x03, 0x3f, 0x2a, 0x17})
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}
	if p.Valid() {
		t.Fatalf("packet with broken error byte reported valid")
	}
}

func TestMakeDynDatagram(t *testing.T) {
	dg := MakeDynDatagram(2<<6 | 45)
	if got, want := dg.Bytes(), []uint8{BiDiAppDyn<<2 | 0x02, 45}; !bytes.Equal(got, want) {
		t.Fatalf("invalid datagram:\ngot= %#x\nwant=%#x", got, want)
	}

	if _, err := MakeDatagram(make([]uint8, MaxDatagramSize+1)); !xerrors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid error for oversized datagram: %+v", err)
	}
}
