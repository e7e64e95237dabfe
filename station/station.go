// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package station implements the DCC command station: the hard-real-
// time timing engine and the controller task that owns its life-cycle,
// the packet queue, the test loops and the BiDi threshold DAC.
package station // import "github.com/nmradcc/dcc-tester/station"

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nmradcc/dcc-tester/dcc"
	"github.com/nmradcc/dcc-tester/hw"
	"github.com/nmradcc/dcc-tester/internal/spsc"
	"github.com/nmradcc/dcc-tester/params"
)

// Test-loop selectors.
const (
	LoopCustom    = 0 // no auto-generation; wait for TransmitPacket
	LoopBasic     = 1 // F0 on/off + fwd/rev ramp to step 42, 2 s per step
	LoopEStop     = 2 // headlight on, speed 60, broadcast e-stop
	LoopSpeedRamp = 3 // 0..126..0 fwd and rev, 500 ms per step
)

const queueDepth = 16

// Station is the command-station controller. It owns the update
// timer, the BiDi DAC and all mutable configuration visible to the
// RPC layer.
type Station struct {
	msg   *log.Logger
	timer hw.Timer
	track hw.Track
	dac   hw.DAC
	prm   *params.Manager

	eng   *Engine
	queue *spsc.Queue

	mu      sync.Mutex
	running bool
	loop    int
	quit    chan struct{}
	done    chan struct{}

	slot struct {
		pkt    dcc.Packet
		loaded bool
		fire   chan xmit
	}

	// delays shortened by tests.
	stepDelay func(d time.Duration, quit chan struct{}) bool
}

type xmit struct {
	count uint32
	delay time.Duration
}

// New returns a station bound to its uniquely-owned resources.
func New(timer hw.Timer, track hw.Track, dac hw.DAC, prm *params.Manager) *Station {
	queue := spsc.New(queueDepth)
	cs := &Station{
		msg:   log.New(os.Stdout, "station: ", 0),
		timer: timer,
		track: track,
		dac:   dac,
		prm:   prm,
		queue: queue,
		eng:   NewEngine(track, queue),
	}
	cs.slot.fire = make(chan xmit, 1)
	cs.stepDelay = sleep
	return cs
}

func sleep(d time.Duration, quit chan struct{}) bool {
	select {
	case <-quit:
		return false
	case <-time.After(d):
		return true
	}
}

// Engine returns the timing engine, for override control.
func (cs *Station) Engine() *Engine { return cs.eng }

// Running reports whether the station is emitting.
func (cs *Station) Running() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.running
}

// Loop returns the active test-loop selector.
func (cs *Station) Loop() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.loop
}

// Config assembles the timing configuration from the parameter shadow.
func (cs *Station) Config() Config {
	d := cs.prm.Data()
	return Config{
		NumPreamble:     d.PreambleBits,
		Bit1Duration:    d.Bit1Duration,
		Bit0Duration:    d.Bit0Duration,
		BiDiEnable:      d.BiDiEnable,
		TriggerFirstBit: d.TriggerFirstBit,
	}
}

// Start powers the track and starts the waveform with a fully re-read
// timing configuration. It fails with ErrBusy when already running.
func (cs *Station) Start(loop int) error {
	if loop < LoopCustom || loop > LoopSpeedRamp {
		return fmt.Errorf("station: invalid loop mode %d: %w", loop, ErrInvalidArgument)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return fmt.Errorf("station: already running: %w", ErrBusy)
	}

	cfg := cs.Config()
	if cfg.BiDiEnable {
		dac := cs.prm.BiDiDAC()
		if err := cs.dac.Set(dac); err != nil {
			return fmt.Errorf("station: could not set BiDi threshold: %w", err)
		}
		cs.msg.Printf("BiDi threshold DAC=%d", dac)
	}

	cs.queue.Reset()
	select {
	case <-cs.slot.fire:
		// stale arm from a previous run.
	default:
	}
	if err := cs.eng.Enable(cfg); err != nil {
		return err
	}
	cs.timer.Start(cs.eng.Transmit)

	cs.running = true
	cs.loop = loop
	cs.quit = make(chan struct{})
	cs.done = make(chan struct{})
	go cs.run(loop, cs.quit, cs.done)

	cs.msg.Printf("started (loop=%d)", loop)
	return nil
}

// Stop halts the waveform after the current packet (and final cutout,
// if configured), releases the rails and clears the override map. It
// fails with ErrBusy when not running.
func (cs *Station) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.running {
		return fmt.Errorf("station: not running: %w", ErrBusy)
	}

	close(cs.quit)
	<-cs.done

	// the engine completes the current packet (and final cutout)
	// and halts itself; the timer is disabled once it has.
	cs.eng.RequestStop()
	for deadline := time.Now().Add(time.Second); cs.eng.Running() && time.Now().Before(deadline); {
		time.Sleep(time.Millisecond)
	}
	cs.timer.Stop()
	cs.eng.ResetOverride()
	cs.queue.Reset()
	cs.track.Outputs(false, false)

	cs.running = false
	cs.msg.Printf("stopped")
	return nil
}

// LoadPacket fills the custom-packet slot. The raw octets are sent
// as-is: a wrong error byte is a legitimate test vector.
func (cs *Station) LoadPacket(raw []uint8) (int, error) {
	pkt, err := dcc.FromBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("station: could not load packet: %w: %w", err, ErrInvalidArgument)
	}

	cs.mu.Lock()
	cs.slot.pkt = pkt
	cs.slot.loaded = true
	cs.mu.Unlock()
	return pkt.Len(), nil
}

// TransmitPacket arms the custom-packet slot for count transmissions
// spaced by delay. The controller task performs the pushes: the queue
// stays single-producer.
func (cs *Station) TransmitPacket(count uint32, delay time.Duration) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch {
	case !cs.running:
		return fmt.Errorf("station: not running: %w", ErrBusy)
	case cs.loop != LoopCustom:
		return fmt.Errorf("station: loop mode %d does not accept custom packets: %w", cs.loop, ErrInvalidArgument)
	case !cs.slot.loaded:
		return ErrNotLoaded
	case count == 0:
		return fmt.Errorf("station: zero transmit count: %w", ErrInvalidArgument)
	}

	if cs.queue.Len() >= queueDepth {
		return ErrQueueFull
	}
	select {
	case cs.slot.fire <- xmit{count: count, delay: delay}:
	default:
		return fmt.Errorf("station: transmission already armed: %w", ErrBusy)
	}
	return nil
}

// SetBiDiThreshold updates the comparator DAC. The shadow value is
// always stored; the DAC itself is only written while running.
func (cs *Station) SetBiDiThreshold(v uint16) error {
	cs.prm.SetBiDiDAC(v)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.running {
		return nil
	}
	if err := cs.dac.Set(v); err != nil {
		return fmt.Errorf("station: could not set BiDi threshold: %w", err)
	}
	return nil
}

// SetConfigNow stages the current parameter shadow into the running
// engine; it takes effect at the next inter-packet boundary.
func (cs *Station) SetConfigNow() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.running {
		return nil
	}
	return cs.eng.SetConfig(cs.Config())
}

// run is the controller task body: it feeds the packet queue per the
// selected test loop until stopped.
func (cs *Station) run(loop int, quit, done chan struct{}) {
	defer close(done)

	switch loop {
	case LoopCustom:
		cs.runCustom(quit)
	case LoopBasic:
		cs.runBasic(quit)
	case LoopEStop:
		cs.runEStop(quit)
	case LoopSpeedRamp:
		cs.runSpeedRamp(quit)
	}
}

func (cs *Station) push(p dcc.Packet) {
	// test loops drop the newest packet when the queue is full.
	if !cs.queue.Push(p) {
		cs.msg.Printf("queue full, packet %#x dropped", p.Bytes())
	}
}

func (cs *Station) runCustom(quit chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case x := <-cs.slot.fire:
			cs.mu.Lock()
			pkt := cs.slot.pkt
			cs.mu.Unlock()
			for i := uint32(0); i < x.count; i++ {
				if i > 0 && !cs.stepDelay(x.delay, quit) {
					return
				}
				cs.push(pkt)
			}
		}
	}
}

func (cs *Station) runBasic(quit chan struct{}) {
	const addr = 3
	steps := []func() (dcc.Packet, error){
		func() (dcc.Packet, error) { return dcc.MakeFunctionGroup(addr, 0, 0x01) },
		func() (dcc.Packet, error) { return dcc.MakeSpeed(addr, 42) },
		func() (dcc.Packet, error) { return dcc.MakeSpeed(addr, 0) },
		func() (dcc.Packet, error) { return dcc.MakeFunctionGroup(addr, 0, 0x00) },
		func() (dcc.Packet, error) { return dcc.MakeSpeed(addr, -42) },
		func() (dcc.Packet, error) { return dcc.MakeSpeed(addr, 0) },
	}
	for {
		for _, step := range steps {
			p, err := step()
			if err != nil {
				cs.msg.Printf("could not build loop packet: %+v", err)
				continue
			}
			cs.push(p)
			if !cs.stepDelay(2*time.Second, quit) {
				return
			}
		}
	}
}

func (cs *Station) runEStop(quit chan struct{}) {
	const addr = 3
	for {
		if p, err := dcc.MakeFunctionGroup(addr, 0, 0x01); err == nil {
			cs.push(p)
		}
		if !cs.stepDelay(2*time.Second, quit) {
			return
		}
		if p, err := dcc.MakeSpeed(addr, 60); err == nil {
			cs.push(p)
		}
		if !cs.stepDelay(2*time.Second, quit) {
			return
		}
		cs.push(dcc.MakeBroadcastEmergencyStop())
		if !cs.stepDelay(2*time.Second, quit) {
			return
		}
	}
}

func (cs *Station) runSpeedRamp(quit chan struct{}) {
	const addr = 3
	ramp := func(dir int8) bool {
		for _, step := range rampSteps() {
			p, err := dcc.MakeSpeed(addr, dir*step)
			if err != nil {
				cs.msg.Printf("could not build ramp packet: %+v", err)
				continue
			}
			cs.push(p)
			if !cs.stepDelay(500*time.Millisecond, quit) {
				return false
			}
		}
		return true
	}
	for {
		if !ramp(+1) {
			return
		}
		if !ramp(-1) {
			return
		}
	}
}

func rampSteps() []int8 {
	steps := make([]int8, 0, 2*dcc.MaxSpeedStep+1)
	for s := int8(0); s <= dcc.MaxSpeedStep; s++ {
		steps = append(steps, s)
		if s == dcc.MaxSpeedStep {
			break
		}
	}
	for s := int8(dcc.MaxSpeedStep); s >= 0; s-- {
		steps = append(steps, s)
		if s == 0 {
			break
		}
	}
	return steps
}
