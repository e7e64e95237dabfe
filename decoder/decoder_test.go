// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/nmradcc/dcc-tester/dcc"
	"github.com/nmradcc/dcc-tester/hw/sim"
)

func feedPacket(t *testing.T, dec *Decoder, pkt dcc.Packet) {
	t.Helper()
	for _, h := range emit(nil, pkt, 17, 58, 100) {
		dec.rx.feed(h)
	}
	if !dec.Execute() {
		t.Fatalf("packet %#x not processed", pkt.Bytes())
	}
}

func newBenchDecoder(brd *sim.Board, opts ...Option) *Decoder {
	dec := New(brd.Capture, brd.Track, opts...)
	dec.rx = newRx(dec.win)
	return dec
}

func TestDecoderStartStop(t *testing.T) {
	brd := sim.New(1024)
	dec := New(brd.Capture, brd.Track)

	if err := dec.Stop(); !errors.Is(err, ErrBusy) {
		t.Fatalf("stop on stopped decoder: %+v", err)
	}
	if err := dec.Start(); err != nil {
		t.Fatalf("could not start: %+v", err)
	}
	if err := dec.Start(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second start: %+v", err)
	}
	if err := dec.Stop(); err != nil {
		t.Fatalf("could not stop: %+v", err)
	}
	if err := dec.Stop(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second stop: %+v", err)
	}
}

func TestDecoderSpeedUpcall(t *testing.T) {
	var (
		brd     = sim.New(1024)
		gotAddr uint16
		gotStep int32
		gotFwd  *bool
	)
	dec := newBenchDecoder(brd, WithHandler(Handler{
		OnDirection: func(addr uint16, fwd bool) { gotFwd = &fwd },
		OnSpeed:     func(addr uint16, step int32) { gotAddr, gotStep = addr, step },
	}))

	pkt, err := dcc.MakeSpeed(3, -42)
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}
	feedPacket(t, dec, pkt)

	if gotAddr != 3 || gotStep != -42 {
		t.Fatalf("invalid up-call: addr=%d step=%d", gotAddr, gotStep)
	}
	if gotFwd == nil || *gotFwd {
		t.Fatalf("invalid direction up-call: %v", gotFwd)
	}
	lastPkt := dec.LastPacket()
	if got := lastPkt.Bytes(); !bytes.Equal(got, pkt.Bytes()) {
		t.Fatalf("invalid last packet: %#x", got)
	}
}

func TestDecoderFunctionUpcall(t *testing.T) {
	var (
		brd      = sim.New(1024)
		gotMask  uint32
		gotState uint32
	)
	dec := newBenchDecoder(brd, WithHandler(Handler{
		OnFunction: func(addr uint16, mask, state uint32) { gotMask, gotState = mask, state },
	}))

	pkt, err := dcc.MakeFunctionGroup(3, 0, 0x01)
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}
	feedPacket(t, dec, pkt)

	if gotMask != 0x1f || gotState != 0x01 {
		t.Fatalf("invalid function up-call: mask=0x%x state=0x%x", gotMask, gotState)
	}
}

func TestDecoderCVWrite(t *testing.T) {
	brd := sim.New(1024)
	dec := newBenchDecoder(brd)

	pkt, err := dcc.MakeCVAccessShortWrite(3, 0, 17, 0xa5)
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}
	feedPacket(t, dec, pkt)

	if got, want := dec.CV(17), uint8(0xa5); got != want {
		t.Fatalf("invalid cv value: got=0x%x, want=0x%x", got, want)
	}
}

func TestDecoderManufacturerID(t *testing.T) {
	brd := sim.New(1024)
	dec := newBenchDecoder(brd)
	// CV8 holds the public-domain manufacturer ID.
	if got, want := dec.CV(7), uint8(0x0d); got != want {
		t.Fatalf("invalid manufacturer id: got=0x%x, want=0x%x", got, want)
	}
}

func TestDecoderIdleIgnored(t *testing.T) {
	called := false
	brd := sim.New(1024)
	dec := newBenchDecoder(brd, WithHandler(Handler{
		OnSpeed: func(addr uint16, step int32) { called = true },
	}))
	feedPacket(t, dec, dcc.MakeIdle())
	if called {
		t.Fatalf("idle packet dispatched an up-call")
	}
}

func TestDecoderBiDiGate(t *testing.T) {
	var (
		brd  = sim.New(1024)
		sent [][]uint8
	)
	dec := newBenchDecoder(brd, WithBiDiTX(func(dg []uint8) {
		sent = append(sent, append([]uint8(nil), dg...))
	}))

	pkt, err := dcc.MakeSpeed(3, 10)
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}

	// driven track: no BiDi transmission.
	feedPacket(t, dec, pkt)
	if len(sent) != 0 {
		t.Fatalf("datagram sent while track driven")
	}

	// quiet track (cutout window): transmit one datagram.
	brd.Track.CutoutStart()
	feedPacket(t, dec, pkt)
	brd.Track.CutoutEnd()

	if len(sent) != 1 {
		t.Fatalf("invalid datagram count: got=%d, want=1", len(sent))
	}
	want := dcc.MakeDynDatagram(2<<6 | 45)
	if !bytes.Equal(sent[0], want.Bytes()) {
		t.Fatalf("invalid datagram:\ngot= %#x\nwant=%#x", sent[0], want.Bytes())
	}
	lastBiDi := dec.LastBiDi()
	if got := lastBiDi.Bytes(); !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("invalid last datagram: %#x", got)
	}
}

// TestPeriodIdempotence replays a packet's framed half-periods through
// the simulated timer and rails into the decoder and checks the packet
// survives unchanged.
func TestPeriodIdempotence(t *testing.T) {
	brd := sim.New(1024)
	dec := New(brd.Capture, brd.Track)
	if err := dec.Start(); err != nil {
		t.Fatalf("could not start decoder: %+v", err)
	}
	defer func() { _ = dec.Stop() }()

	want, err := dcc.MakeSpeed(1201, 77)
	if err != nil {
		t.Fatalf("could not build packet: %+v", err)
	}

	// replay the packet's half-periods as captured edges.
	go func() {
		halves := emit(nil, want, 17, 58, 100)
		brd.Timer.Start(func() uint32 {
			if len(halves) == 0 {
				return 0
			}
			h := halves[0]
			halves = halves[1:]
			return h
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		if got := dec.LastPacket(); got.Len() > 0 {
			if !bytes.Equal(got.Bytes(), want.Bytes()) {
				t.Fatalf("round-trip mismatch:\ngot= %#x\nwant=%#x", got.Bytes(), want.Bytes())
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("packet not decoded")
		case <-time.After(time.Millisecond):
		}
	}
	stats := dec.Stats()
	if stats.CrcErrors != 0 || stats.FramingErrors != 0 {
		t.Fatalf("errors on clean replay: %+v", stats)
	}
}
