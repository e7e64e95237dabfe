// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/nmradcc/dcc-tester/analog"
	"github.com/nmradcc/dcc-tester/decoder"
	"github.com/nmradcc/dcc-tester/hw/sim"
	"github.com/nmradcc/dcc-tester/params"
	"github.com/nmradcc/dcc-tester/rpc"
	"github.com/nmradcc/dcc-tester/station"
	"github.com/nmradcc/dcc-tester/transport"
)

// host drives the station over the wire the way the PC tooling does.
type host struct {
	conn net.Conn
	sc   *bufio.Scanner
	sys  rpc.System
}

func newHost(t *testing.T) *host {
	t.Helper()

	brd := sim.New(4096)
	prm, err := params.New(brd.Flash)
	if err != nil {
		t.Fatalf("could not create parameter manager: %+v", err)
	}
	if err := prm.Init(true); err != nil {
		t.Fatalf("could not init parameters: %+v", err)
	}
	sys := rpc.System{
		Station: station.New(brd.Timer, brd.Track, brd.DAC, prm),
		Decoder: decoder.New(brd.Capture, brd.Track),
		Params:  prm,
		Analog:  analog.New(brd.ADC),
		GPIO:    brd.GPIO,
		RTC:     brd.RTC,
		Reboot:  &sim.Rebooter{},
	}
	srv := rpc.NewServer()
	rpc.Bind(srv, sys)

	hostSide, devSide := net.Pipe()
	go func() { _ = transport.Serve(devSide, srv.Handle) }()

	t.Cleanup(func() {
		_ = hostSide.Close()
		_ = devSide.Close()
		if sys.Station.Running() {
			_ = sys.Station.Stop()
		}
		if sys.Decoder.Running() {
			_ = sys.Decoder.Stop()
		}
	})

	return &host{
		conn: hostSide,
		sc:   bufio.NewScanner(hostSide),
		sys:  sys,
	}
}

func (h *host) rpc(t *testing.T, method string, params string) map[string]any {
	t.Helper()
	_ = h.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(h.conn, `{"method":%q,"params":%s}`+"\r\n", method, params); err != nil {
		t.Fatalf("could not send %s request: %+v", method, err)
	}
	if !h.sc.Scan() {
		t.Fatalf("no response for %s: %+v", method, h.sc.Err())
	}
	var rep map[string]any
	if err := json.Unmarshal(h.sc.Bytes(), &rep); err != nil {
		t.Fatalf("could not decode %s response %q: %+v", method, h.sc.Bytes(), err)
	}
	return rep
}

func TestWireEcho(t *testing.T) {
	h := newHost(t)
	rep := h.rpc(t, "echo", `{"x":1}`)
	if rep["status"] != "ok" {
		t.Fatalf("invalid status: %v", rep)
	}
	echo := rep["echo"].(map[string]any)
	if echo["x"] != float64(1) {
		t.Fatalf("invalid echo: %v", rep)
	}
}

func TestWireStartStopBusy(t *testing.T) {
	h := newHost(t)

	if rep := h.rpc(t, "command_station_start", `{"loop":0}`); rep["status"] != "ok" {
		t.Fatalf("start failed: %v", rep)
	}
	if rep := h.rpc(t, "command_station_start", `{"loop":0}`); rep["status"] != "error" {
		t.Fatalf("second start accepted: %v", rep)
	}
	if rep := h.rpc(t, "command_station_stop", `null`); rep["status"] != "ok" {
		t.Fatalf("stop failed: %v", rep)
	}
	if rep := h.rpc(t, "command_station_stop", `null`); rep["status"] != "error" {
		t.Fatalf("second stop accepted: %v", rep)
	}
}

func TestWireLoadTransmitCapture(t *testing.T) {
	h := newHost(t)

	if rep := h.rpc(t, "decoder_start", `null`); rep["status"] != "ok" {
		t.Fatalf("decoder start failed: %v", rep)
	}
	rep := h.rpc(t, "command_station_load_packet", `{"bytes":[3,63,42,22]}`)
	if rep["status"] != "ok" || rep["length"] != float64(4) {
		t.Fatalf("load failed: %v", rep)
	}
	if rep := h.rpc(t, "command_station_start", `{"loop":0}`); rep["status"] != "ok" {
		t.Fatalf("start failed: %v", rep)
	}
	if rep := h.rpc(t, "command_station_transmit_packet", `{"count":3,"delay_ms":1}`); rep["status"] != "ok" {
		t.Fatalf("transmit failed: %v", rep)
	}

	// the decoder sees the custom packet on the looped-back rails.
	deadline := time.After(10 * time.Second)
	want := []byte{0x03, 0x3f, 0x2a, 0x16}
	for {
		got := h.sys.Decoder.LastPacket()
		if got.Len() == 4 {
			for i, v := range want {
				if got.Bytes()[i] != v {
					t.Fatalf("invalid captured packet: %#x", got.Bytes())
				}
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("custom packet never captured (stats=%+v)", h.sys.Decoder.Stats())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWireParamsPersistence(t *testing.T) {
	h := newHost(t)

	if rep := h.rpc(t, "command_station_params", `{"preamble_bits":20}`); rep["status"] != "ok" {
		t.Fatalf("params failed: %v", rep)
	}
	if rep := h.rpc(t, "parameters_save", `null`); rep["status"] != "ok" {
		t.Fatalf("save failed: %v", rep)
	}
	if rep := h.rpc(t, "parameters_restore", `null`); rep["status"] != "ok" {
		t.Fatalf("restore failed: %v", rep)
	}

	rep := h.rpc(t, "command_station_get_params", `null`)
	prm := rep["parameters"].(map[string]any)
	if got := prm["preamble_bits"]; got != float64(20) {
		t.Fatalf("invalid preamble_bits: %v", got)
	}
}
