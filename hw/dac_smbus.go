// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"

	"github.com/go-daq/smbus"
)

// SMBusDAC drives an MCP4725-class 12-bit DAC over I²C. It sets the
// comparator threshold for the BiDi current detector.
type SMBusDAC struct {
	conn *smbus.Conn
	addr uint8
}

// OpenSMBusDAC opens the DAC at addr on I²C bus dev.
func OpenSMBusDAC(dev int, addr uint8) (*SMBusDAC, error) {
	conn, err := smbus.Open(dev, addr)
	if err != nil {
		return nil, fmt.Errorf("hw: could not open i2c-%d dac at 0x%x: %w", dev, addr, err)
	}
	return &SMBusDAC{conn: conn, addr: addr}, nil
}

// Set writes a fast-mode update of the DAC output register.
func (dac *SMBusDAC) Set(v uint16) error {
	if v > 0x0fff {
		return fmt.Errorf("hw: dac value 0x%x out of 12-bit range", v)
	}
	// fast mode: PD bits zero, D11..D8 in the command byte,
	// D7..D0 in the data byte.
	err := dac.conn.WriteReg(dac.addr, uint8(v>>8)&0x0f, uint8(v))
	if err != nil {
		return fmt.Errorf("hw: could not write dac value 0x%x: %w", v, err)
	}
	return nil
}

// Close releases the I²C connection.
func (dac *SMBusDAC) Close() error {
	return dac.conn.Close()
}

var _ DAC = (*SMBusDAC)(nil)
