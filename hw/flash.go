// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"
	"os"

	"github.com/nmradcc/dcc-tester/internal/mmap"
)

// MemFlash is an in-memory flash sector. Erase fills the sector with
// 0xFF; Program, like real NOR flash, can only clear bits.
type MemFlash struct {
	data []byte
}

// NewMemFlash returns an erased in-memory sector of n bytes.
func NewMemFlash(n int) *MemFlash {
	f := &MemFlash{data: make([]byte, n)}
	_ = f.EraseSector()
	return f
}

func (f *MemFlash) SectorSize() int { return len(f.data) }

func (f *MemFlash) EraseSector() error {
	for i := range f.data {
		f.data[i] = 0xff
	}
	return nil
}

func (f *MemFlash) Program(off int64, p []byte) error {
	if off < 0 || off+int64(len(p)) > int64(len(f.data)) {
		return fmt.Errorf("hw: flash program out of bounds (off=%d, n=%d)", off, len(p))
	}
	for i, v := range p {
		f.data[off+int64(i)] &= v
	}
	return nil
}

func (f *MemFlash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(f.data)) {
		return 0, fmt.Errorf("hw: flash read out of bounds (off=%d)", off)
	}
	return copy(p, f.data[off:]), nil
}

// Corrupt flips one bit of the sector. Test hook for CRC-rejection
// checks.
func (f *MemFlash) Corrupt(off int64, bit uint) {
	f.data[off] ^= 1 << (bit & 7)
}

var _ Flash = (*MemFlash)(nil)

// FileFlash is a flash sector persisted in a memory-mapped file, used
// when running off-target.
type FileFlash struct {
	f *os.File
	h *mmap.Handle
}

// OpenFileFlash opens (or creates) fname as an n-byte sector.
func OpenFileFlash(fname string, n int) (*FileFlash, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("hw: could not open flash file %q: %w", fname, err)
	}
	h, err := mmap.Open(f, n)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hw: could not map flash file %q: %w", fname, err)
	}
	return &FileFlash{f: f, h: h}, nil
}

func (f *FileFlash) SectorSize() int { return f.h.Len() }

func (f *FileFlash) EraseSector() error {
	p := make([]byte, f.h.Len())
	for i := range p {
		p[i] = 0xff
	}
	if _, err := f.h.WriteAt(p, 0); err != nil {
		return fmt.Errorf("hw: could not erase flash sector: %w", err)
	}
	return f.h.Sync()
}

func (f *FileFlash) Program(off int64, p []byte) error {
	cur := make([]byte, len(p))
	if _, err := f.h.ReadAt(cur, off); err != nil {
		return fmt.Errorf("hw: could not read-back flash at 0x%x: %w", off, err)
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	if _, err := f.h.WriteAt(cur, off); err != nil {
		return fmt.Errorf("hw: could not program flash at 0x%x: %w", off, err)
	}
	return f.h.Sync()
}

func (f *FileFlash) ReadAt(p []byte, off int64) (int, error) {
	return f.h.ReadAt(p, off)
}

func (f *FileFlash) Close() error {
	if err := f.h.Close(); err != nil {
		_ = f.f.Close()
		return err
	}
	return f.f.Close()
}

var _ Flash = (*FileFlash)(nil)
