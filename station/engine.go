// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package station

import (
	"sync/atomic"

	"github.com/nmradcc/dcc-tester/dcc"
	"github.com/nmradcc/dcc-tester/hw"
	"github.com/nmradcc/dcc-tester/internal/spsc"
)

// MinBit0Timing is the auto-reload value at or above which a period
// counts as a zero half-bit for the override map.
const MinBit0Timing = 90

type txState uint8

const (
	txIdle txState = iota
	txPreamble
	txStart
	txByte
	txSep
	txStop
	txGap
	txCutout
)

// cutout drive sequence: release the rails for TCS, then hold the
// window open until TCE (split over two update periods).
var cutoutPeriods = [...]uint32{
	dcc.BiDiTCS,
	(dcc.BiDiTCE - dcc.BiDiTCS) / 2,
	(dcc.BiDiTCE - dcc.BiDiTCS) / 2,
}

// Engine is the waveform generator. Transmit runs on the update-timer
// interrupt path: one call per half-period, returning the auto-reload
// value (µs) for the period being driven. It is wait-free: the only
// shared state it touches is lock-free.
type Engine struct {
	track hw.Track
	queue *spsc.Queue

	// written by the controller, read at bit/packet boundaries.
	pending  atomic.Pointer[Config]
	override atomic.Pointer[Override]
	stopping atomic.Bool
	running  atomic.Bool

	// counters, written by the ISR path, read anywhere.
	nPackets atomic.Uint32
	nIdle    atomic.Uint32

	// ISR-private bit-framing state.
	cfg          Config
	state        txState
	phase        bool // true while the P rail leads
	half         uint8
	preambleLeft int
	packet       dcc.Packet
	byteIdx      int
	bitIdx       int
	bitPos       int // bit index within the packet, start bit = 0
	curBit       bool
	cutoutIdx    int
}

// NewEngine returns an engine driving track, consuming packets from
// queue.
func NewEngine(track hw.Track, queue *spsc.Queue) *Engine {
	return &Engine{
		track: track,
		queue: queue,
	}
}

// Enable snapshots cfg and arms the engine. The first update emits the
// first preamble half-bit.
func (eng *Engine) Enable(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	eng.cfg = cfg
	eng.pending.Store(nil)
	eng.stopping.Store(false)
	eng.half = 0
	eng.phase = false
	eng.cutoutIdx = 0
	eng.state = txGap
	eng.boundary()
	eng.running.Store(true)
	return nil
}

// Running reports whether the engine is emitting.
func (eng *Engine) Running() bool { return eng.running.Load() }

// RequestStop asks the engine to halt. The current packet completes,
// a final cutout is emitted if configured, then the rails are released
// and the timer sees a zero auto-reload.
func (eng *Engine) RequestStop() { eng.stopping.Store(true) }

// SetConfig stages a new configuration; it takes effect at the next
// inter-packet boundary, never mid-packet.
func (eng *Engine) SetConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	eng.pending.Store(&cfg)
	return nil
}

// SetOverride installs the per-bit override map, visible from the next
// bit boundary.
func (eng *Engine) SetOverride(ovr Override) {
	if ovr.zero() {
		eng.override.Store(nil)
		return
	}
	eng.override.Store(&ovr)
}

// ResetOverride clears the override map.
func (eng *Engine) ResetOverride() { eng.override.Store(nil) }

// GetOverride returns the current override map.
func (eng *Engine) GetOverride() Override {
	if ovr := eng.override.Load(); ovr != nil {
		return *ovr
	}
	return Override{}
}

// Counts returns the number of packets and idle packets emitted since
// Enable.
func (eng *Engine) Counts() (packets, idle uint32) {
	return eng.nPackets.Load(), eng.nIdle.Load()
}

// Transmit is the update-timer handler. It drives the rails for the
// next half-period and returns its width in µs; zero halts the timer.
func (eng *Engine) Transmit() uint32 {
	for {
		switch eng.state {
		case txIdle:
			return 0
		case txCutout:
			if v := eng.cutoutStep(); v != 0 {
				return v
			}
			continue
		}

		if eng.half == 1 {
			// second half-period: same width, opposite phase.
			eng.half = 0
			eng.drive()
			if eng.cfg.TriggerFirstBit {
				eng.track.Scope(false)
			}
			return eng.halfPeriod()
		}

		if !eng.advance() {
			// the framer entered the cutout or halted.
			continue
		}
		eng.half = 1
		eng.drive()
		if eng.cfg.TriggerFirstBit {
			eng.track.Scope(true)
		}
		return eng.halfPeriod()
	}
}

// drive flips the rail polarity for the next half-period.
func (eng *Engine) drive() {
	eng.phase = !eng.phase
	eng.track.Outputs(!eng.phase, eng.phase)
}

// halfPeriod computes the auto-reload for the half-period being
// driven, applying the override map to qualifying zero bits.
func (eng *Engine) halfPeriod() uint32 {
	base := uint32(eng.cfg.Bit1Duration)
	if !eng.curBit {
		base = uint32(eng.cfg.Bit0Duration)
	}
	ovr := eng.override.Load()
	if ovr == nil || eng.bitPos < 0 || eng.bitPos > 63 {
		return base
	}
	if ovr.Mask&(1<<uint(eng.bitPos)) == 0 || base < MinBit0Timing {
		return base
	}
	delta := ovr.DeltaN
	if eng.phase {
		delta = ovr.DeltaP
	}
	v := int64(base) + int64(delta)
	if v < 1 {
		v = 1
	}
	return uint32(v)
}

// advance moves the framer to the next logical bit. It reports false
// when no bit is to be emitted because the engine entered the cutout
// or halted.
func (eng *Engine) advance() bool {
	for {
		switch eng.state {
		case txPreamble:
			if eng.preambleLeft > 0 {
				eng.preambleLeft--
				eng.curBit = true
				return true
			}
			eng.state = txStart

		case txStart:
			eng.byteIdx = 0
			eng.bitIdx = 0
			eng.bitPos = 0
			eng.curBit = false
			eng.state = txByte
			return true

		case txByte:
			if eng.bitIdx < 8 {
				b := eng.packet.Bytes()[eng.byteIdx]
				eng.curBit = b&(0x80>>uint(eng.bitIdx)) != 0
				eng.bitIdx++
				eng.bitPos++
				return true
			}
			eng.byteIdx++
			eng.bitIdx = 0
			if eng.byteIdx < eng.packet.Len() {
				eng.state = txSep
			} else {
				eng.state = txStop
			}

		case txSep:
			eng.curBit = false
			eng.bitPos++
			eng.state = txByte
			return true

		case txStop:
			eng.curBit = true
			eng.bitPos++
			eng.state = txGap
			return true

		case txGap:
			if eng.cfg.BiDiEnable {
				eng.cutoutIdx = 0
				eng.state = txCutout
				return false
			}
			if !eng.boundary() {
				return false
			}

		default:
			return false
		}
	}
}

// cutoutStep drives one period of the BiDi cutout. A zero return means
// the cutout is over and the framer has moved on.
func (eng *Engine) cutoutStep() uint32 {
	if eng.cutoutIdx < len(cutoutPeriods) {
		if eng.cutoutIdx == 0 {
			eng.track.Outputs(false, false)
			eng.track.CutoutStart()
		}
		v := cutoutPeriods[eng.cutoutIdx]
		eng.cutoutIdx++
		return v
	}
	eng.track.CutoutEnd()
	eng.cutoutIdx = 0
	eng.state = txGap
	eng.boundary()
	return 0
}

// boundary runs the inter-packet boundary: honour a stop request,
// latch a staged configuration, dequeue the next packet (or fall back
// to the idle packet) and rewind the framer. It reports false when the
// engine halted.
func (eng *Engine) boundary() bool {
	if eng.stopping.Load() {
		eng.track.Outputs(false, false)
		eng.state = txIdle
		eng.running.Store(false)
		return false
	}
	if next := eng.pending.Swap(nil); next != nil {
		eng.cfg = *next
	}
	if p, ok := eng.queue.Pop(); ok {
		eng.packet = p
		eng.nPackets.Add(1)
	} else {
		eng.packet = dcc.MakeIdle()
		eng.nIdle.Add(1)
	}
	eng.preambleLeft = int(eng.cfg.NumPreamble)
	eng.bitPos = -1
	eng.state = txPreamble
	return true
}
