// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package station

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by Start on a running station and by Stop
	// on a stopped one.
	ErrBusy = errors.New("station: busy")
	// ErrInvalidArgument is returned for out-of-range configuration,
	// loop selectors and packet slots.
	ErrInvalidArgument = errors.New("station: invalid argument")
	// ErrNotLoaded is returned by TransmitPacket when no custom
	// packet has been loaded.
	ErrNotLoaded = errors.New("station: no packet loaded")
	// ErrQueueFull is returned when a custom packet cannot be queued.
	ErrQueueFull = errors.New("station: packet queue full")
)

// MinPreambleBits is the S-9.2 minimum preamble length.
const MinPreambleBits = 14

// Config is the timing configuration snapped by the engine at
// activation. Durations are half-bit widths in µs. Values outside the
// published S-9.1 tolerances are emitted verbatim: that is the margin-
// test mechanism. Only configurations the engine cannot run at all are
// rejected.
type Config struct {
	NumPreamble     uint8
	Bit1Duration    uint8
	Bit0Duration    uint8
	BiDiEnable      bool
	TriggerFirstBit bool
}

func (cfg Config) validate() error {
	if cfg.NumPreamble < MinPreambleBits {
		return fmt.Errorf("station: preamble of %d bits below S-9.2 minimum %d: %w",
			cfg.NumPreamble, MinPreambleBits, ErrInvalidArgument)
	}
	if cfg.Bit1Duration == 0 || cfg.Bit0Duration == 0 {
		return fmt.Errorf("station: zero bit duration: %w", ErrInvalidArgument)
	}
	return nil
}
