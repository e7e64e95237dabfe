// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hw declares the uniquely-owned hardware resources of the
// test station. Each resource is owned by exactly one task or one
// interrupt path; ownership is handed over once, at installation time.
package hw // import "github.com/nmradcc/dcc-tester/hw"

import "time"

// Track drives the H-bridge rail outputs of the command station.
// Outputs is called from the timer-update path and must not block.
type Track interface {
	// Outputs drives the N and P half-bridges.
	Outputs(n, p bool)
	// CutoutStart opens the BiDi cutout window: booster disabled,
	// BiDi receiver enabled.
	CutoutStart()
	// CutoutEnd closes the cutout window.
	CutoutEnd()
	// Scope drives the first-bit trigger pin for an oscilloscope.
	Scope(level bool)
	// Quiet reports whether the track is undriven (cutout active).
	// Used by the decoder as a transmit gate.
	Quiet() bool
}

// DAC sets the BiDi comparator threshold (12-bit, 0..4095).
type DAC interface {
	Set(value uint16) error
}

// ADC channels used by the analog feedback module.
const (
	ADCTrackVoltage = 6 // ADC1 channel 6
	ADCTrackCurrent = 2 // ADC2 channel 2
)

// ADC reads a single conversion from a channel (12-bit, 0..4095).
type ADC interface {
	Read(ch int) (uint16, error)
}

// GPIO is the 16-pin test connector bank. Pins are numbered 1..16.
type GPIO interface {
	ConfigureOutput(pin int) error
	SetOutput(pin int, state bool) error
	Input(pin int) (bool, error)
	// Inputs returns all 16 pins packed into a bitfield, pin 1 at
	// bit 0.
	Inputs() (uint16, error)
}

// RTC is the board real-time clock.
type RTC interface {
	Now() (time.Time, error)
	Set(t time.Time) error
}

// Flash is the dedicated parameter sector. Program may only clear
// bits; a sector erase is required before each rewrite.
type Flash interface {
	SectorSize() int
	EraseSector() error
	Program(off int64, p []byte) error
	ReadAt(p []byte, off int64) (int, error)
}

// Rebooter resets the system. Fires after the RPC response has been
// flushed.
type Rebooter interface {
	Reboot()
}
