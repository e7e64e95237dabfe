// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
)

// WSServer exposes the RPC loop over a websocket endpoint: one text
// message per request, one per response. Used by browser-based host
// tooling.
type WSServer struct {
	msg *log.Logger
	h   Handler
	upg websocket.Upgrader
}

// NewWSServer returns a websocket bridge for h.
func NewWSServer(h Handler) *WSServer {
	return &WSServer{
		msg: log.New(os.Stdout, "transport: ", 0),
		h:   h,
		upg: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the request loop.
func (srv *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upg.Upgrade(w, r, nil)
	if err != nil {
		srv.msg.Printf("could not upgrade %v: %+v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	srv.msg.Printf("serving ws %v...", r.RemoteAddr)
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			srv.msg.Printf("serving ws %v... [done]", r.RemoteAddr)
			return
		}
		if kind != websocket.TextMessage || len(frame) == 0 {
			continue
		}
		if len(frame) > MaxFrame {
			frame = frame[:0] // force an invalid-JSON error reply
		}
		rep := srv.h(frame)
		if err := conn.WriteMessage(websocket.TextMessage, rep); err != nil {
			srv.msg.Printf("could not write ws response: %+v", err)
			return
		}
	}
}

// ListenAndServe serves the websocket endpoint at /rpc on addr.
func (srv *WSServer) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/rpc", srv)
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("transport: ws server failed: %w", err)
	}
	return nil
}
