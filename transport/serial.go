// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// OpenSerial opens the USB/UART link the host PC talks to.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	conn, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("transport: could not open serial port %q: %w", port, err)
	}
	return conn, nil
}
