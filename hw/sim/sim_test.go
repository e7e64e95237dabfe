// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"testing"
	"time"
)

func TestRailsLoopback(t *testing.T) {
	brd := New(512)

	var got []uint32
	done := make(chan struct{})
	brd.Capture.Start(func(ccr uint32) {
		got = append(got, ccr)
		if len(got) == 3 {
			close(done)
		}
	})

	send := []uint32{58, 58, 100}
	i := 0
	brd.Timer.Start(func() uint32 {
		if i >= len(send) {
			return 0
		}
		v := send[i]
		i++
		return v
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("samples not looped back: got=%v", got)
	}
	brd.Capture.Stop()
	brd.Timer.Stop()

	for k, want := range send {
		if got[k] != want {
			t.Fatalf("sample %d: got=%d, want=%d", k, got[k], want)
		}
	}
}

func TestRailsQuietDuringCutout(t *testing.T) {
	brd := New(512)

	recv := make(chan uint32, 16)
	brd.Capture.Start(func(ccr uint32) { recv <- ccr })
	defer brd.Capture.Stop()

	i := 0
	brd.Timer.Start(func() uint32 {
		i++
		switch i {
		case 1:
			return 58
		case 2:
			brd.Track.CutoutStart()
			return 100
		case 3:
			brd.Track.CutoutEnd()
			return 60
		default:
			return 0
		}
	})
	defer brd.Timer.Stop()

	var got []uint32
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case v := <-recv:
			got = append(got, v)
		case <-deadline:
			t.Fatalf("samples not received: %v", got)
		}
	}
	if got[0] != 58 || got[1] != 60 {
		t.Fatalf("cutout period leaked onto the rails: %v", got)
	}
}

func TestGPIOBank(t *testing.T) {
	g := NewGPIO()

	if err := g.SetOutput(3, true); err == nil {
		t.Fatalf("write to unconfigured pin succeeded")
	}
	if err := g.ConfigureOutput(3); err != nil {
		t.Fatalf("could not configure pin: %+v", err)
	}
	if err := g.SetOutput(3, true); err != nil {
		t.Fatalf("could not set pin: %+v", err)
	}
	v, err := g.Input(3)
	if err != nil {
		t.Fatalf("could not read pin: %+v", err)
	}
	if !v {
		t.Fatalf("pin 3 low after set")
	}

	g.SetInput(16, true)
	packed, err := g.Inputs()
	if err != nil {
		t.Fatalf("could not read bank: %+v", err)
	}
	if want := uint16(1<<2 | 1<<15); packed != want {
		t.Fatalf("invalid packed inputs: got=0x%04x, want=0x%04x", packed, want)
	}

	if err := g.ConfigureOutput(0); err == nil {
		t.Fatalf("pin 0 accepted")
	}
	if _, err := g.Input(17); err == nil {
		t.Fatalf("pin 17 accepted")
	}
}

func TestRTCOffset(t *testing.T) {
	rtc := &RTC{}
	want := time.Date(2025, 6, 15, 12, 30, 0, 0, time.Local)
	if err := rtc.Set(want); err != nil {
		t.Fatalf("could not set rtc: %+v", err)
	}
	got, err := rtc.Now()
	if err != nil {
		t.Fatalf("could not read rtc: %+v", err)
	}
	if d := got.Sub(want); d < -time.Second || d > time.Second {
		t.Fatalf("invalid rtc time: got=%v, want=%v", got, want)
	}
}
