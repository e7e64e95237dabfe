// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decoder implements the DUT-side DCC receiver: half-period
// classification, packet assembly, a CV model and the BiDi reply path,
// with up-calls through a pluggable handler set.
package decoder // import "github.com/nmradcc/dcc-tester/decoder"

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/nmradcc/dcc-tester/dcc"
	"github.com/nmradcc/dcc-tester/hw"
)

// ErrBusy is returned by Start on a running decoder and by Stop on a
// stopped one.
var ErrBusy = errors.New("decoder: busy")

// NumCVs is the size of the configuration-variable table.
const NumCVs = 1024

// Handler is the capability set invoked by the decoder controller as
// packets are processed. Any hook may be nil.
type Handler struct {
	OnDirection func(addr uint16, forward bool)
	OnSpeed     func(addr uint16, step int32)
	OnFunction  func(addr uint16, mask, state uint32)
	OnCVRead    func(cv uint32, value uint8)
	OnCVWrite   func(cv uint32, value uint8)
	OnBiDiTX    func(datagram []uint8)
}

// Stats are the decoder observability counters. ISR-side errors are
// counted, never raised.
type Stats struct {
	Packets       uint32
	CrcErrors     uint32
	FramingErrors uint32
	Overflows     uint32
}

// Decoder is the decoder controller task. It owns the input-capture
// timer, the CV table and the BiDi transmit UART.
type Decoder struct {
	msg     *log.Logger
	capture hw.Capture
	track   hw.Track
	h       Handler
	win     Windows

	rx *rx

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}

	cvs      [NumCVs]uint8
	lastPkt  dcc.Packet
	lastBiDi dcc.Datagram

	bidiTX func([]uint8)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithHandler installs the up-call set.
func WithHandler(h Handler) Option {
	return func(dec *Decoder) { dec.h = h }
}

// WithWindows overrides the half-period classification windows.
func WithWindows(win Windows) Option {
	return func(dec *Decoder) { dec.win = win }
}

// WithBiDiTX installs the cutout transmit path (the dedicated UART).
func WithBiDiTX(tx func([]uint8)) Option {
	return func(dec *Decoder) { dec.bidiTX = tx }
}

// New returns a decoder bound to its capture timer and the track-quiet
// proxy.
func New(capture hw.Capture, track hw.Track, opts ...Option) *Decoder {
	dec := &Decoder{
		msg:     log.New(os.Stdout, "decoder: ", 0),
		capture: capture,
		track:   track,
		win:     DefaultWindows(),
	}
	for _, opt := range opts {
		opt(dec)
	}
	if dec.h.OnSpeed == nil && dec.h.OnFunction == nil {
		dec.h = dec.loggingHandler()
	}
	dec.cvs[7] = 0x0d // CV8, public-domain manufacturer ID
	return dec
}

// loggingHandler is the default up-call set: it logs to the decoder's
// observability surface.
func (dec *Decoder) loggingHandler() Handler {
	return Handler{
		OnSpeed: func(addr uint16, step int32) {
			if step != 0 {
				dec.msg.Printf("accelerate to speed step %d", step)
			} else {
				dec.msg.Printf("stop")
			}
		},
		OnFunction: func(addr uint16, mask, state uint32) {
			if mask&0x01 == 0 {
				return
			}
			if state&0x01 != 0 {
				dec.msg.Printf("set function F0")
			} else {
				dec.msg.Printf("clear function F0")
			}
		},
		OnCVWrite: func(cv uint32, value uint8) {
			dec.msg.Printf("wr cv %d %d", cv, value)
		},
	}
}

// Running reports whether the decoder is capturing.
func (dec *Decoder) Running() bool {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.running
}

// Start arms the capture timer. It fails with ErrBusy when already
// running.
func (dec *Decoder) Start() error {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if dec.running {
		return fmt.Errorf("decoder: already running: %w", ErrBusy)
	}

	dec.rx = newRx(dec.win)
	dec.capture.Start(dec.rx.feed)

	dec.running = true
	dec.quit = make(chan struct{})
	dec.done = make(chan struct{})
	go dec.run(dec.quit, dec.done)

	dec.msg.Printf("started")
	return nil
}

// Stop tears down the capture timer. It fails with ErrBusy when not
// running.
func (dec *Decoder) Stop() error {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if !dec.running {
		return fmt.Errorf("decoder: not running: %w", ErrBusy)
	}

	close(dec.quit)
	<-dec.done
	dec.capture.Stop()

	dec.running = false
	dec.msg.Printf("stopped")
	return nil
}

// run is the controller task body: it drains decoded packets and
// performs the up-calls and BiDi replies.
func (dec *Decoder) run(quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case pkt := <-dec.rx.out:
			dec.execute(pkt)
		}
	}
}

// Execute processes one pending packet, if any. Exposed for driving
// the decoder synchronously in tests and tools.
func (dec *Decoder) Execute() bool {
	if dec.rx == nil {
		return false
	}
	select {
	case pkt := <-dec.rx.out:
		dec.execute(pkt)
		return true
	default:
		return false
	}
}

func (dec *Decoder) execute(pkt dcc.Packet) {
	// idle packets only keep the bus alive; they are not worth
	// remembering.
	if pkt.Bytes()[0] != 0xff {
		dec.mu.Lock()
		dec.lastPkt = pkt
		dec.mu.Unlock()
	}

	dec.dispatch(pkt)
	dec.bidiReply()
}

// bidiReply transmits a dyn datagram in the cutout window. Track-quiet
// detection uses the BR_ENABLE proxy for the time being.
// TODO: replace with proper no-voltage-on-track detection; the DUT is
// not always driven by our own command station.
func (dec *Decoder) bidiReply() {
	if dec.bidiTX == nil || !dec.track.Quiet() {
		return
	}
	dg := dcc.MakeDynDatagram(2<<6 | 45)
	dec.bidiTX(dg.Bytes())
	if dec.h.OnBiDiTX != nil {
		dec.h.OnBiDiTX(dg.Bytes())
	}

	dec.mu.Lock()
	dec.lastBiDi = dg
	dec.mu.Unlock()
}

// dispatch decodes the packet payload and performs the up-calls.
func (dec *Decoder) dispatch(pkt dcc.Packet) {
	raw := pkt.Bytes()
	raw = raw[:len(raw)-1] // strip the error byte

	// idle packets keep the bus alive, nothing to do.
	if raw[0] == 0xff {
		return
	}

	var addr uint16
	switch {
	case raw[0] == 0x00:
		addr = 0 // broadcast
		raw = raw[1:]
	case raw[0] < 0xc0:
		addr = uint16(raw[0])
		raw = raw[1:]
	default:
		if len(raw) < 2 {
			return
		}
		addr = uint16(raw[0]&0x3f)<<8 | uint16(raw[1])
		raw = raw[2:]
	}
	if len(raw) == 0 {
		return
	}

	instr := raw[0]
	switch {
	case instr == 0x3f && len(raw) >= 2:
		// advanced operations, 128 speed steps.
		var (
			fwd  = raw[1]&0x80 != 0
			step = int32(raw[1] & 0x7f)
		)
		if !fwd {
			step = -step
		}
		if dec.h.OnDirection != nil {
			dec.h.OnDirection(addr, fwd)
		}
		if dec.h.OnSpeed != nil {
			dec.h.OnSpeed(addr, step)
		}

	case instr&0xc0 == 0x40:
		// baseline speed and direction; 0bx1DC0001 is e-stop.
		if instr&0x0f == 0x01 {
			if dec.h.OnSpeed != nil {
				dec.h.OnSpeed(addr, 0)
			}
		}

	case instr&0xe0 == 0x80:
		// function group one: FL, F4..F1.
		if dec.h.OnFunction != nil {
			dec.h.OnFunction(addr, 0x1f, uint32(instr&0x1f))
		}

	case instr&0xf0 == 0xb0:
		// function group two: F8..F5.
		if dec.h.OnFunction != nil {
			dec.h.OnFunction(addr, 0x0f<<5, uint32(instr&0x0f)<<5)
		}

	case instr&0xf0 == 0xa0:
		// function group two: F12..F9.
		if dec.h.OnFunction != nil {
			dec.h.OnFunction(addr, 0x0f<<9, uint32(instr&0x0f)<<9)
		}

	case instr&0xf0 == 0xe0 && len(raw) >= 3:
		// configuration-variable access, long form.
		var (
			cv  = uint32(instr&0x03)<<8 | uint32(raw[1])
			val = raw[2]
		)
		switch instr & 0x0c {
		case 0x0c: // write byte
			dec.writeCV(cv, val)
		case 0x04: // verify byte
			dec.readCV(cv)
		}
	}
}

func (dec *Decoder) writeCV(cv uint32, val uint8) {
	if cv >= NumCVs {
		return
	}
	dec.mu.Lock()
	dec.cvs[cv] = val
	dec.mu.Unlock()
	if dec.h.OnCVWrite != nil {
		dec.h.OnCVWrite(cv, val)
	}
}

func (dec *Decoder) readCV(cv uint32) {
	if cv >= NumCVs {
		return
	}
	dec.mu.Lock()
	val := dec.cvs[cv]
	dec.mu.Unlock()
	if dec.h.OnCVRead != nil {
		dec.h.OnCVRead(cv, val)
	}
}

// CV returns the value of a configuration variable (zero-based index).
func (dec *Decoder) CV(cv uint32) uint8 {
	if cv >= NumCVs {
		return 0
	}
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.cvs[cv]
}

// SetCV stores a configuration variable (zero-based index).
func (dec *Decoder) SetCV(cv uint32, val uint8) {
	if cv >= NumCVs {
		return
	}
	dec.mu.Lock()
	dec.cvs[cv] = val
	dec.mu.Unlock()
}

// LastPacket returns the most recently processed packet.
func (dec *Decoder) LastPacket() dcc.Packet {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.lastPkt
}

// LastBiDi returns the most recently transmitted datagram.
func (dec *Decoder) LastBiDi() dcc.Datagram {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.lastBiDi
}

// Stats returns the observability counters.
func (dec *Decoder) Stats() Stats {
	dec.mu.Lock()
	rx := dec.rx
	dec.mu.Unlock()
	if rx == nil {
		return Stats{}
	}
	return Stats{
		Packets:       rx.packets.Load(),
		CrcErrors:     rx.crcErrs.Load(),
		FramingErrors: rx.frmErrs.Load(),
		Overflows:     rx.ovfErrs.Load(),
	}
}
