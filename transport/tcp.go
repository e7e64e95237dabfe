// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"log"
	"net"
	"os"
)

// TCPServer accepts host connections and serves the RPC loop on each.
type TCPServer struct {
	msg *log.Logger
	ctl net.Listener
	h   Handler
}

// NewTCPServer listens on addr.
func NewTCPServer(addr string, h Handler) (*TCPServer, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: could not listen on %q: %w", addr, err)
	}
	return &TCPServer{
		msg: log.New(os.Stdout, "transport: ", 0),
		ctl: ctl,
		h:   h,
	}, nil
}

// Addr returns the bound listen address.
func (srv *TCPServer) Addr() net.Addr { return srv.ctl.Addr() }

// Serve accepts connections until the listener closes.
func (srv *TCPServer) Serve() error {
	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("transport: could not accept connection: %w", err)
		}
		go func(conn net.Conn) {
			defer conn.Close()
			srv.msg.Printf("serving %v...", conn.RemoteAddr())
			if err := Serve(conn, srv.h); err != nil {
				srv.msg.Printf("serving %v failed: %+v", conn.RemoteAddr(), err)
				return
			}
			srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())
		}(conn)
	}
}

// Close shuts the listener down.
func (srv *TCPServer) Close() error { return srv.ctl.Close() }
