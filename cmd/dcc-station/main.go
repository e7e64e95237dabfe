// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dcc-station runs the DCC test-station firmware core
// off-target: command station, decoder, parameter manager and the
// JSON-RPC surface, bound to a serial link, a TCP port and/or a
// websocket endpoint.
package main // import "github.com/nmradcc/dcc-tester/cmd/dcc-station"

import (
	"context"
	"flag"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/nmradcc/dcc-tester/analog"
	"github.com/nmradcc/dcc-tester/cvdb"
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
		serialPort = flag.String("serial", "", "serial port to serve RPC on (e.g. /dev/ttyACM0)")
		baud       = flag.Int("baud", 115200, "serial baud rate")
		addr       = flag.String("addr", ":2560", "[ip]:port to serve RPC on")
		wsAddr     = flag.String("ws-addr", "", "[ip]:port to serve the websocket RPC bridge on")
		flash      = flag.String("flash", "dcc-params.bin", "parameter flash-sector image")
		flashSize  = flag.Int("flash-size", 4096, "parameter sector size in bytes")
		console    = flag.Bool("i", false, "run the interactive console")
		cvProfile  = flag.String("cv-profile", "", "DUT profile to provision the decoder CV table from")
		cvDB       = flag.String("cv-db", "dcctest", "profile database name")
	)

	log.SetPrefix("dcc-station: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*serialPort, *baud, *addr, *wsAddr, *flash, *flashSize, *console, *cvProfile, *cvDB)
	if err != nil {
		log.Fatalf("could not run dcc-station: %+v", err)
	}
}

func run(serialPort string, baud int, addr, wsAddr, flash string, flashSize int, console bool, cvProfile, cvDB string) error {
	brd := sim.New(flashSize)

	sector, err := hw.OpenFileFlash(flash, flashSize)
	if err != nil {
		return err
	}
	defer sector.Close()

	prm, err := params.New(sector)
	if err != nil {
		return err
	}
	if err := prm.Init(false); err != nil {
		return err
	}

	var (
		cs  = station.New(brd.Timer, brd.Track, brd.DAC, prm)
		dec = decoder.New(brd.Capture, brd.Track,
			decoder.WithBiDiTX(func(dg []uint8) {
				select {
				case brd.BiDiTX <- append([]uint8(nil), dg...):
				default:
				}
			}),
		)
		sys = rpc.System{
			Station: cs,
			Decoder: dec,
			Params:  prm,
			Analog:  analog.New(brd.ADC),
			GPIO:    brd.GPIO,
			RTC:     brd.RTC,
			Reboot:  &sim.Rebooter{},
		}
	)

	if cvProfile != "" {
		if err := provision(dec, cvDB, cvProfile); err != nil {
			return err
		}
	}

	srv := rpc.NewServer()
	rpc.Bind(srv, sys)
	handler := func(frame []byte) []byte { return srv.Handle(frame) }

	var grp errgroup.Group

	if serialPort != "" {
		conn, err := transport.OpenSerial(serialPort, baud)
		if err != nil {
			return err
		}
		defer conn.Close()
		log.Printf("serving RPC on serial %q (baud=%d)", serialPort, baud)
		grp.Go(func() error { return transport.Serve(conn, handler) })
	}

	if addr != "" {
		tcp, err := transport.NewTCPServer(addr, handler)
		if err != nil {
			return err
		}
		defer tcp.Close()
		log.Printf("serving RPC on tcp %q", tcp.Addr())
		grp.Go(tcp.Serve)
	}

	if wsAddr != "" {
		ws := transport.NewWSServer(handler)
		log.Printf("serving RPC on ws %q", wsAddr)
		grp.Go(func() error { return ws.ListenAndServe(wsAddr) })
	}

	if console {
		grp.Go(func() error { return runConsole(cs, dec, prm) })
	}

	return grp.Wait()
}

// provision loads the named DUT profile's CV table into the decoder.
func provision(dec *decoder.Decoder, dbname, profile string) error {
	db, err := cvdb.Open(dbname)
	if err != nil {
		return err
	}
	defer db.Close()

	cvs, err := db.CVTable(context.Background(), profile)
	if err != nil {
		return err
	}
	for _, cv := range cvs {
		dec.SetCV(uint32(cv.Index), cv.Value)
	}
	log.Printf("provisioned %d CVs from profile %q", len(cvs), profile)
	return nil
}
