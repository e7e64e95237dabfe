// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport binds the RPC dispatcher to a byte-stream link:
// it scans the RX stream for newline-terminated frames and writes one
// response line per request. Serial, TCP and websocket backends share
// the same loop.
package transport // import "github.com/nmradcc/dcc-tester/transport"

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxFrame is the hard cap on one request line, terminator included.
const MaxFrame = 2048

// Handler consumes one framed request payload (terminator stripped)
// and returns the response payload (terminator excluded).
type Handler func(frame []byte) []byte

// Serve runs the RX loop on rw until the stream ends. Frames are
// terminated by CRLF (preferred) or a bare LF; blank lines are
// ignored.
func Serve(rw io.ReadWriter, h Handler) error {
	sc := bufio.NewScanner(rw)
	sc.Buffer(make([]byte, MaxFrame), MaxFrame)
	sc.Split(bufio.ScanLines)

	w := bufio.NewWriter(rw)
	for sc.Scan() {
		frame := sc.Bytes()
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		rep := h(frame)
		if _, err := w.Write(rep); err != nil {
			return fmt.Errorf("transport: could not write response: %w", err)
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return fmt.Errorf("transport: could not write terminator: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("transport: could not flush response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("transport: rx stream failed: %w", err)
	}
	return nil
}
