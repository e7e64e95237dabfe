// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package params manages the persistent test-station parameters: a
// RAM shadow with typed accessors, backed by a CRC-protected image in
// a dedicated flash sector.
package params // import "github.com/nmradcc/dcc-tester/params"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log"
	"os"
	"sync"

	"github.com/nmradcc/dcc-tester/hw"
)

// Flash image header, little-endian at the start of the sector:
// magic, version, crc32 (over the payload), data size, payload.
const (
	Magic   = 0x50415241 // 'PARA'
	Version = 1

	ofsMagic   = 0x00
	ofsVersion = 0x04
	ofsCRC     = 0x08
	ofsSize    = 0x0c
	ofsPayload = 0x10

	blockSize = ofsPayload + DataSize
)

// Restore rejection kinds.
var (
	ErrMagicMismatch   = errors.New("params: magic mismatch")
	ErrVersionMismatch = errors.New("params: version mismatch")
	ErrSizeMismatch    = errors.New("params: data-size mismatch")
	ErrCrcMismatch     = errors.New("params: crc mismatch")
)

// Manager owns the parameter shadow. It is the only flash writer in
// the system.
type Manager struct {
	msg *log.Logger
	dev hw.Flash

	mu    sync.RWMutex
	data  Data
	dirty bool
}

// New returns a manager bound to the parameter sector dev.
// Call Init before first use.
func New(dev hw.Flash) (*Manager, error) {
	if dev.SectorSize() < blockSize {
		return nil, fmt.Errorf("params: sector too small (%d < %d)", dev.SectorSize(), blockSize)
	}
	return &Manager{
		msg: log.New(os.Stdout, "params: ", 0),
		dev: dev,
	}, nil
}

// Init loads defaults and, unless forceDefaults is set, attempts to
// restore the saved image. A failed restore is not an error: the
// defaults stay in effect.
func (mgr *Manager) Init(forceDefaults bool) error {
	mgr.mu.Lock()
	mgr.data = Defaults()
	mgr.dirty = false
	mgr.mu.Unlock()

	if forceDefaults {
		return nil
	}
	if err := mgr.Restore(); err != nil {
		mgr.msg.Printf("could not restore parameters (%v), using defaults", err)
		mgr.mu.Lock()
		mgr.data = Defaults()
		mgr.dirty = false
		mgr.mu.Unlock()
	}
	return nil
}

// Save erases the parameter sector and writes the shadow. The magic
// word is programmed last so a partial write is rejected cleanly by
// the next Restore.
func (mgr *Manager) Save() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	payload, err := mgr.data.MarshalBinary()
	if err != nil {
		return fmt.Errorf("params: could not marshal parameters: %w", err)
	}

	blk := make([]byte, blockSize)
	le := binary.LittleEndian
	le.PutUint32(blk[ofsMagic:], Magic)
	le.PutUint32(blk[ofsVersion:], Version)
	le.PutUint32(blk[ofsCRC:], crc32.ChecksumIEEE(payload))
	le.PutUint32(blk[ofsSize:], DataSize)
	copy(blk[ofsPayload:], payload)

	if err := mgr.dev.EraseSector(); err != nil {
		return fmt.Errorf("params: could not erase sector: %w", err)
	}
	if err := mgr.dev.Program(ofsVersion, blk[ofsVersion:]); err != nil {
		return fmt.Errorf("params: could not program block: %w", err)
	}
	if err := mgr.dev.Program(ofsMagic, blk[ofsMagic:ofsVersion]); err != nil {
		return fmt.Errorf("params: could not program magic: %w", err)
	}

	mgr.dirty = false
	return nil
}

// Restore re-hydrates the shadow from flash. It fails with one of the
// mismatch kinds when the image is absent, stale or corrupted; the
// shadow is left untouched on failure.
func (mgr *Manager) Restore() error {
	blk := make([]byte, blockSize)
	if _, err := mgr.dev.ReadAt(blk, 0); err != nil {
		return fmt.Errorf("params: could not read sector: %w", err)
	}

	le := binary.LittleEndian
	if v := le.Uint32(blk[ofsMagic:]); v != Magic {
		return fmt.Errorf("params: invalid magic 0x%08x: %w", v, ErrMagicMismatch)
	}
	if v := le.Uint32(blk[ofsVersion:]); v != Version {
		return fmt.Errorf("params: invalid version %d: %w", v, ErrVersionMismatch)
	}
	if v := le.Uint32(blk[ofsSize:]); v != DataSize {
		return fmt.Errorf("params: invalid data size %d: %w", v, ErrSizeMismatch)
	}
	var (
		payload = blk[ofsPayload:]
		want    = le.Uint32(blk[ofsCRC:])
		got     = crc32.ChecksumIEEE(payload)
	)
	if got != want {
		return fmt.Errorf("params: inconsistent crc: got=0x%08x, want=0x%08x: %w", got, want, ErrCrcMismatch)
	}

	var data Data
	if err := data.UnmarshalBinary(payload); err != nil {
		return err
	}

	mgr.mu.Lock()
	mgr.data = data
	mgr.dirty = false
	mgr.mu.Unlock()
	return nil
}

// FactoryReset reloads the compiled-in defaults and saves them.
func (mgr *Manager) FactoryReset() error {
	mgr.mu.Lock()
	mgr.data = Defaults()
	mgr.dirty = true
	mgr.mu.Unlock()

	if err := mgr.Save(); err != nil {
		return fmt.Errorf("params: could not save factory defaults: %w", err)
	}
	return nil
}

// Data returns a copy of the shadow.
func (mgr *Manager) Data() Data {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.data
}

// Dirty reports whether the shadow has unsaved modifications.
func (mgr *Manager) Dirty() bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.dirty
}

func (mgr *Manager) set(f func(*Data)) {
	mgr.mu.Lock()
	f(&mgr.data)
	mgr.dirty = true
	mgr.mu.Unlock()
}

func (mgr *Manager) SetTrackVoltage(mv uint16) { mgr.set(func(d *Data) { d.TrackVoltage = mv }) }
func (mgr *Manager) TrackVoltage() uint16      { return mgr.Data().TrackVoltage }

func (mgr *Manager) SetTrackCurrentLimit(ma uint16) {
	mgr.set(func(d *Data) { d.TrackCurrentLimit = ma })
}
func (mgr *Manager) TrackCurrentLimit() uint16 { return mgr.Data().TrackCurrentLimit }

func (mgr *Manager) SetPreambleBits(n uint8) { mgr.set(func(d *Data) { d.PreambleBits = n }) }
func (mgr *Manager) PreambleBits() uint8     { return mgr.Data().PreambleBits }

// SetBit1Duration stores the "1" half-bit width in µs. Out-of-NMRA
// values are stored verbatim: driving the DUT outside the published
// tolerances is how margin tests work.
func (mgr *Manager) SetBit1Duration(us uint8) { mgr.set(func(d *Data) { d.Bit1Duration = us }) }
func (mgr *Manager) Bit1Duration() uint8      { return mgr.Data().Bit1Duration }

func (mgr *Manager) SetBit0Duration(us uint8) { mgr.set(func(d *Data) { d.Bit0Duration = us }) }
func (mgr *Manager) Bit0Duration() uint8      { return mgr.Data().Bit0Duration }

func (mgr *Manager) SetBiDiEnable(v bool) { mgr.set(func(d *Data) { d.BiDiEnable = v }) }
func (mgr *Manager) BiDiEnable() bool     { return mgr.Data().BiDiEnable }

func (mgr *Manager) SetTriggerFirstBit(v bool) { mgr.set(func(d *Data) { d.TriggerFirstBit = v }) }
func (mgr *Manager) TriggerFirstBit() bool     { return mgr.Data().TriggerFirstBit }

func (mgr *Manager) SetShortCircuitThreshold(ma uint16) {
	mgr.set(func(d *Data) { d.ShortCircuitThreshold = ma })
}
func (mgr *Manager) ShortCircuitThreshold() uint16 { return mgr.Data().ShortCircuitThreshold }

func (mgr *Manager) SetBiDiDAC(v uint16) { mgr.set(func(d *Data) { d.BiDiDAC = v }) }
func (mgr *Manager) BiDiDAC() uint16     { return mgr.Data().BiDiDAC }

func (mgr *Manager) SetNetworkPort(v uint16) { mgr.set(func(d *Data) { d.NetworkPort = v }) }
func (mgr *Manager) NetworkPort() uint16     { return mgr.Data().NetworkPort }

func (mgr *Manager) SetSystemDebugLevel(v uint8) { mgr.set(func(d *Data) { d.SystemDebugLevel = v }) }
func (mgr *Manager) SystemDebugLevel() uint8     { return mgr.Data().SystemDebugLevel }
