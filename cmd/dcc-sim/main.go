// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dcc-sim runs a self-contained test-station simulation: the
// command station's waveform is looped back into the decoder over
// virtual rails, and the RPC surface is served over TCP so host
// scripts run unmodified against it.
package main // import "github.com/nmradcc/dcc-tester/cmd/dcc-sim"

import (
	"flag"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/nmradcc/dcc-tester/analog"
	"github.com/nmradcc/dcc-tester/decoder"
	"github.com/nmradcc/dcc-tester/hw"
	"github.com/nmradcc/dcc-tester/hw/sim"
	"github.com/nmradcc/dcc-tester/params"
	"github.com/nmradcc/dcc-tester/rpc"
	"github.com/nmradcc/dcc-tester/station"
	"github.com/nmradcc/dcc-tester/transport"
)

func main() {
	var (
		addr      = flag.String("addr", ":2560", "[ip]:port to serve RPC on")
		flashSize = flag.Int("flash-size", 4096, "parameter sector size in bytes")
		autoDec   = flag.Bool("dec", true, "start the decoder at boot")
	)

	log.SetPrefix("dcc-sim: ")
	log.SetFlags(0)

	flag.Parse()

	if err := run(*addr, *flashSize, *autoDec); err != nil {
		log.Fatalf("could not run dcc-sim: %+v", err)
	}
}

func run(addr string, flashSize int, autoDec bool) error {
	brd := sim.New(flashSize)

	// simulate a healthy track: ~15 V, ~0.5 A while driven.
	brd.ADC.SetValue(hw.ADCTrackVoltage, 1364)
	brd.ADC.SetValue(hw.ADCTrackCurrent, 1000)

	prm, err := params.New(brd.Flash)
	if err != nil {
		return err
	}
	if err := prm.Init(false); err != nil {
		return err
	}

	cs := station.New(brd.Timer, brd.Track, brd.DAC, prm)
	dec := decoder.New(brd.Capture, brd.Track,
		decoder.WithHandler(decoder.Handler{
			OnSpeed: func(addr uint16, step int32) {
				log.Printf("dut addr=%d speed=%d", addr, step)
			},
			OnFunction: func(addr uint16, mask, state uint32) {
				log.Printf("dut addr=%d functions mask=0x%x state=0x%x", addr, mask, state)
			},
			OnCVWrite: func(cv uint32, value uint8) {
				log.Printf("dut wr cv%d=%d", cv+1, value)
			},
			OnBiDiTX: func(dg []uint8) {
				log.Printf("dut bidi tx %#x", dg)
			},
		}),
		decoder.WithBiDiTX(func(dg []uint8) {
			select {
			case brd.BiDiTX <- append([]uint8(nil), dg...):
			default:
			}
		}),
	)

	if autoDec {
		if err := dec.Start(); err != nil {
			return err
		}
	}

	sys := rpc.System{
		Station: cs,
		Decoder: dec,
		Params:  prm,
		Analog:  analog.New(brd.ADC),
		GPIO:    brd.GPIO,
		RTC:     brd.RTC,
		Reboot:  &sim.Rebooter{},
	}
	srv := rpc.NewServer()
	rpc.Bind(srv, sys)

	tcp, err := transport.NewTCPServer(addr, srv.Handle)
	if err != nil {
		return err
	}
	defer tcp.Close()
	log.Printf("serving RPC on %q", tcp.Addr())

	var grp errgroup.Group
	grp.Go(tcp.Serve)
	grp.Go(func() error {
		// surface loop-test BiDi traffic on the console.
		for dg := range brd.BiDiTX {
			log.Printf("bidi datagram %#x", dg)
		}
		return nil
	})
	return grp.Wait()
}
