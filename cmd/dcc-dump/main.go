// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dcc-dump decodes a captured half-period stream (one µs
// value per line, '#' comments) into DCC packets and reports the
// half-period timing distributions.
package main // import "github.com/nmradcc/dcc-tester/cmd/dcc-dump"

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"go-hep.org/x/hep/hbook"

	"github.com/nmradcc/dcc-tester/decoder"
)

func main() {
	log.SetPrefix("dcc-dump: ")
	log.SetFlags(0)

	oneLo := flag.Uint("one-lo", 52, "lower bound of the one-bit window (µs)")
	oneHi := flag.Uint("one-hi", 64, "upper bound of the one-bit window (µs)")
	zeroLo := flag.Uint("zero-lo", 90, "lower bound of the zero-bit window (µs)")
	zeroHi := flag.Uint("zero-hi", 10000, "upper bound of the zero-bit window (µs)")

	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input capture file")
	}

	win := decoder.DefaultWindows()
	win.One.Lo, win.One.Hi = uint32(*oneLo), uint32(*oneHi)
	win.Zero.Lo, win.Zero.Hi = uint32(*zeroLo), uint32(*zeroHi)

	if err := process(flag.Arg(0), win, os.Stdout); err != nil {
		log.Fatalf("could not process %q: %+v", flag.Arg(0), err)
	}
}

func process(fname string, win decoder.Windows, out io.Writer) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open capture file: %w", err)
	}
	defer f.Close()

	halves, err := readHalves(f)
	if err != nil {
		return fmt.Errorf("could not read capture file: %w", err)
	}

	pkts, stats := decoder.Replay(halves, win)
	for i, pkt := range pkts {
		fmt.Fprintf(out, "packet %04d: %#x\n", i, pkt.Bytes())
	}
	fmt.Fprintf(out, "packets=%d crc-errors=%d framing-errors=%d\n",
		stats.Packets, stats.CrcErrors, stats.FramingErrors,
	)

	var (
		hOnes  = hbook.NewH1D(24, float64(win.One.Lo)-6, float64(win.One.Hi)+6)
		hZeros = hbook.NewH1D(50, float64(win.Zero.Lo)-10, float64(win.Zero.Hi)+10)
	)
	for _, h := range halves {
		switch v := float64(h); {
		case h <= win.One.Hi:
			hOnes.Fill(v, 1)
		default:
			hZeros.Fill(v, 1)
		}
	}

	fmt.Fprintf(out, "one-halves:  n=%v mean=%.2f µs rms=%.2f µs\n",
		hOnes.Entries(), hOnes.XMean(), hOnes.XRMS(),
	)
	fmt.Fprintf(out, "zero-halves: n=%v mean=%.2f µs rms=%.2f µs\n",
		hZeros.Entries(), hZeros.XMean(), hZeros.XRMS(),
	)
	return nil
}

func readHalves(r io.Reader) ([]uint32, error) {
	var (
		halves []uint32
		sc     = bufio.NewScanner(r)
		line   = 0
	)
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" || strings.HasPrefix(txt, "#") {
			continue
		}
		v, err := strconv.ParseUint(txt, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid half-period on line %d: %w", line, err)
		}
		halves = append(halves, uint32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return halves, nil
}
