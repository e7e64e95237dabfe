// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import (
	"encoding/binary"
	"fmt"
)

// Data is the RAM shadow of the persistent parameter block. The
// marshalled layout mirrors the on-flash struct, field by field, with
// explicit padding.
type Data struct {
	// DCC command-station parameters.
	TrackVoltage          uint16 // mV
	TrackCurrentLimit     uint16 // mA
	PreambleBits          uint8
	Bit1Duration          uint8 // µs
	Bit0Duration          uint8 // µs
	BiDiEnable            bool
	TriggerFirstBit       bool
	ShortCircuitThreshold uint16 // mA
	BiDiDAC               uint16 // 12-bit comparator threshold

	// Network parameters.
	NetworkIP      uint32
	NetworkMask    uint32
	NetworkGateway uint32
	NetworkPort    uint16

	// System parameters.
	SystemDeviceID   uint32
	SystemBaudRate   uint32
	SystemDebugLevel uint8

	// User-defined parameters.
	UserParam [3]uint32
}

// Payload field offsets. Padding bytes keep the natural alignment of
// the original struct layout.
const (
	ofsTrackVoltage     = 0
	ofsTrackCurrent     = 2
	ofsPreambleBits     = 4
	ofsBit1Duration     = 5
	ofsBit0Duration     = 6
	ofsBiDiEnable       = 7
	ofsTriggerFirstBit  = 8
	_                   = 9 // pad
	ofsShortCircuit     = 10
	ofsBiDiDAC          = 12
	_                   = 14 // pad[2]
	ofsNetworkIP        = 16
	ofsNetworkMask      = 20
	ofsNetworkGateway   = 24
	ofsNetworkPort      = 28
	_                   = 30 // pad[2]
	ofsSystemDeviceID   = 32
	ofsSystemBaudRate   = 36
	ofsSystemDebugLevel = 40
	_                   = 41 // pad[3]
	ofsUserParam        = 44

	// DataSize is the fixed payload size; bytes past the last field
	// are written as zero.
	DataSize = 512
)

func b2u8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// MarshalBinary encodes the shadow into a DataSize payload.
func (d *Data) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DataSize)
	le := binary.LittleEndian

	le.PutUint16(buf[ofsTrackVoltage:], d.TrackVoltage)
	le.PutUint16(buf[ofsTrackCurrent:], d.TrackCurrentLimit)
	buf[ofsPreambleBits] = d.PreambleBits
	buf[ofsBit1Duration] = d.Bit1Duration
	buf[ofsBit0Duration] = d.Bit0Duration
	buf[ofsBiDiEnable] = b2u8(d.BiDiEnable)
	buf[ofsTriggerFirstBit] = b2u8(d.TriggerFirstBit)
	le.PutUint16(buf[ofsShortCircuit:], d.ShortCircuitThreshold)
	le.PutUint16(buf[ofsBiDiDAC:], d.BiDiDAC)

	le.PutUint32(buf[ofsNetworkIP:], d.NetworkIP)
	le.PutUint32(buf[ofsNetworkMask:], d.NetworkMask)
	le.PutUint32(buf[ofsNetworkGateway:], d.NetworkGateway)
	le.PutUint16(buf[ofsNetworkPort:], d.NetworkPort)

	le.PutUint32(buf[ofsSystemDeviceID:], d.SystemDeviceID)
	le.PutUint32(buf[ofsSystemBaudRate:], d.SystemBaudRate)
	buf[ofsSystemDebugLevel] = d.SystemDebugLevel

	for i, v := range d.UserParam {
		le.PutUint32(buf[ofsUserParam+4*i:], v)
	}
	return buf, nil
}

// UnmarshalBinary decodes a DataSize payload into the shadow.
func (d *Data) UnmarshalBinary(buf []byte) error {
	if len(buf) != DataSize {
		return fmt.Errorf("params: invalid payload size %d (want %d)", len(buf), DataSize)
	}
	le := binary.LittleEndian

	d.TrackVoltage = le.Uint16(buf[ofsTrackVoltage:])
	d.TrackCurrentLimit = le.Uint16(buf[ofsTrackCurrent:])
	d.PreambleBits = buf[ofsPreambleBits]
	d.Bit1Duration = buf[ofsBit1Duration]
	d.Bit0Duration = buf[ofsBit0Duration]
	d.BiDiEnable = buf[ofsBiDiEnable] != 0
	d.TriggerFirstBit = buf[ofsTriggerFirstBit] != 0
	d.ShortCircuitThreshold = le.Uint16(buf[ofsShortCircuit:])
	d.BiDiDAC = le.Uint16(buf[ofsBiDiDAC:])

	d.NetworkIP = le.Uint32(buf[ofsNetworkIP:])
	d.NetworkMask = le.Uint32(buf[ofsNetworkMask:])
	d.NetworkGateway = le.Uint32(buf[ofsNetworkGateway:])
	d.NetworkPort = le.Uint16(buf[ofsNetworkPort:])

	d.SystemDeviceID = le.Uint32(buf[ofsSystemDeviceID:])
	d.SystemBaudRate = le.Uint32(buf[ofsSystemBaudRate:])
	d.SystemDebugLevel = buf[ofsSystemDebugLevel]

	for i := range d.UserParam {
		d.UserParam[i] = le.Uint32(buf[ofsUserParam+4*i:])
	}
	return nil
}

// Defaults returns the compiled-in parameter values.
func Defaults() Data {
	return Data{
		TrackVoltage:          15000,
		TrackCurrentLimit:     3000,
		PreambleBits:          17,
		Bit1Duration:          58,
		Bit0Duration:          100,
		BiDiEnable:            false,
		TriggerFirstBit:       false,
		ShortCircuitThreshold: 5000,
		BiDiDAC:               2048,

		NetworkIP:      0xc0a80164, // 192.168.1.100
		NetworkMask:    0xffffff00,
		NetworkGateway: 0xc0a80101,
		NetworkPort:    2560,

		SystemDeviceID:   1,
		SystemBaudRate:   115200,
		SystemDebugLevel: 2,
	}
}
