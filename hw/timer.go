// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

// Timer models the command-station update timer. Start installs fn as
// the update handler: the timer invokes it once per period and
// reprograms the auto-reload register with the returned value, in µs.
// The handler runs on the timer's interrupt path and must be wait-free.
type Timer interface {
	Start(fn func() (arr uint32))
	Stop()
}

// Capture models the decoder input-capture timer. Start installs fn as
// the capture handler: fn receives the captured counter value, the
// elapsed half-period in µs, once per rail edge.
type Capture interface {
	Start(fn func(ccr uint32))
	Stop()
}
