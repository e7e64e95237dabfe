// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a virtual test-station board: the command
// station's update timer drives a pair of simulated rails that feed
// the decoder's input-capture timer, with GPIO, ADC, DAC, RTC and
// flash stand-ins good enough to run the whole firmware off-target.
package sim // import "github.com/nmradcc/dcc-tester/hw/sim"

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmradcc/dcc-tester/hw"
)

// Board is a simulated station board. The rails connect the Timer to
// the Capture: every half-period emitted while the track is driven is
// observed as one captured edge.
type Board struct {
	Track   *Track
	Timer   *Timer
	Capture *Capture
	GPIO    *GPIO
	ADC     *ADC
	DAC     *DAC
	RTC     *RTC
	Flash   *hw.MemFlash

	// BiDiTX receives datagrams transmitted by the decoder during
	// the cutout window.
	BiDiTX chan []byte

	rails    chan uint32
	attached atomic.Bool // a capture is draining the rails
}

// New returns a wired board with an erased parameter sector of n
// bytes.
func New(flashSize int) *Board {
	brd := &Board{
		Track:  &Track{},
		GPIO:   NewGPIO(),
		ADC:    NewADC(),
		DAC:    &DAC{},
		RTC:    &RTC{},
		Flash:  hw.NewMemFlash(flashSize),
		BiDiTX: make(chan []byte, 8),
		rails:  make(chan uint32, 4096),
	}
	brd.Timer = &Timer{brd: brd}
	brd.Capture = &Capture{brd: brd}
	return brd
}

// Track mimics the H-bridge and cutout control pins.
type Track struct {
	mu     sync.Mutex
	n, p   bool
	cutout atomic.Bool
	scope  atomic.Bool
}

func (t *Track) Outputs(n, p bool) {
	t.mu.Lock()
	t.n, t.p = n, p
	t.mu.Unlock()
}

// Phase reports the driven rail pair.
func (t *Track) Phase() (n, p bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n, t.p
}

func (t *Track) CutoutStart() { t.cutout.Store(true) }
func (t *Track) CutoutEnd()   { t.cutout.Store(false) }

func (t *Track) Scope(level bool) { t.scope.Store(level) }

// ScopeLevel reports the first-bit trigger pin state.
func (t *Track) ScopeLevel() bool { return t.scope.Load() }

func (t *Track) Quiet() bool { return t.cutout.Load() }

var _ hw.Track = (*Track)(nil)

// Timer is the simulated update timer. It runs the handler in a
// goroutine, one call per half-period, and couples driven periods onto
// the rails.
type Timer struct {
	brd  *Board
	stop chan struct{}
	done chan struct{}
}

func (tm *Timer) Start(fn func() uint32) {
	tm.stop = make(chan struct{})
	tm.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			arr := fn()
			if arr == 0 {
				// timer halted by the handler.
				return
			}
			if tm.brd.Track.Quiet() {
				continue
			}
			if !tm.brd.attached.Load() {
				// nobody is listening on the rails.
				select {
				case tm.brd.rails <- arr:
				default:
				}
				continue
			}
			select {
			case tm.brd.rails <- arr:
			case <-stop:
				return
			}
		}
	}(tm.stop, tm.done)
}

func (tm *Timer) Stop() {
	if tm.stop == nil {
		return
	}
	close(tm.stop)
	<-tm.done
	tm.stop = nil
}

var _ hw.Timer = (*Timer)(nil)

// Capture is the simulated input-capture timer fed by the rails.
type Capture struct {
	brd  *Board
	stop chan struct{}
	done chan struct{}
}

func (cpt *Capture) Start(fn func(ccr uint32)) {
	cpt.stop = make(chan struct{})
	cpt.done = make(chan struct{})
	cpt.brd.attached.Store(true)
	go func(stop, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case ccr := <-cpt.brd.rails:
				fn(ccr)
			}
		}
	}(cpt.stop, cpt.done)
}

func (cpt *Capture) Stop() {
	if cpt.stop == nil {
		return
	}
	cpt.brd.attached.Store(false)
	close(cpt.stop)
	<-cpt.done
	cpt.stop = nil
}

var _ hw.Capture = (*Capture)(nil)

// GPIO is a 16-pin bank with all pins readable and configurable as
// outputs. Input values are test-settable.
type GPIO struct {
	mu   sync.Mutex
	out  uint16 // pins configured as outputs
	pins uint16 // current levels, pin 1 at bit 0
}

func NewGPIO() *GPIO { return &GPIO{} }

func (g *GPIO) check(pin int) error {
	if pin < 1 || pin > 16 {
		return fmt.Errorf("sim: invalid gpio pin %d", pin)
	}
	return nil
}

func (g *GPIO) ConfigureOutput(pin int) error {
	if err := g.check(pin); err != nil {
		return err
	}
	g.mu.Lock()
	g.out |= 1 << (pin - 1)
	g.mu.Unlock()
	return nil
}

func (g *GPIO) SetOutput(pin int, state bool) error {
	if err := g.check(pin); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.out&(1<<(pin-1)) == 0 {
		return fmt.Errorf("sim: gpio pin %d not configured as output", pin)
	}
	if state {
		g.pins |= 1 << (pin - 1)
	} else {
		g.pins &^= 1 << (pin - 1)
	}
	return nil
}

func (g *GPIO) Input(pin int) (bool, error) {
	if err := g.check(pin); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pins&(1<<(pin-1)) != 0, nil
}

func (g *GPIO) Inputs() (uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pins, nil
}

// SetInput drives an input pin level. Test hook.
func (g *GPIO) SetInput(pin int, state bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state {
		g.pins |= 1 << (pin - 1)
	} else {
		g.pins &^= 1 << (pin - 1)
	}
}

var _ hw.GPIO = (*GPIO)(nil)

// ADC returns test-settable conversion values per channel.
type ADC struct {
	mu   sync.Mutex
	vals map[int]uint16
}

func NewADC() *ADC { return &ADC{vals: make(map[int]uint16)} }

func (adc *ADC) Read(ch int) (uint16, error) {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	return adc.vals[ch], nil
}

// SetValue programs the conversion result for a channel. Test hook.
func (adc *ADC) SetValue(ch int, v uint16) {
	adc.mu.Lock()
	adc.vals[ch] = v
	adc.mu.Unlock()
}

var _ hw.ADC = (*ADC)(nil)

// DAC records the last written threshold.
type DAC struct {
	v atomic.Uint32
}

func (dac *DAC) Set(v uint16) error {
	dac.v.Store(uint32(v))
	return nil
}

// Value returns the last written threshold.
func (dac *DAC) Value() uint16 { return uint16(dac.v.Load()) }

var _ hw.DAC = (*DAC)(nil)

// RTC keeps an offset from the host clock.
type RTC struct {
	mu  sync.Mutex
	off time.Duration
}

func (rtc *RTC) Now() (time.Time, error) {
	rtc.mu.Lock()
	defer rtc.mu.Unlock()
	return time.Now().Add(rtc.off), nil
}

func (rtc *RTC) Set(t time.Time) error {
	rtc.mu.Lock()
	rtc.off = time.Until(t)
	rtc.mu.Unlock()
	return nil
}

var _ hw.RTC = (*RTC)(nil)

// Rebooter counts reboot requests.
type Rebooter struct {
	n atomic.Uint32
}

func (r *Rebooter) Reboot() { r.n.Add(1) }

// Count returns the number of reboot requests.
func (r *Rebooter) Count() int { return int(r.n.Load()) }

var _ hw.Rebooter = (*Rebooter)(nil)

