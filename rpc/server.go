// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc implements the line-oriented JSON-RPC dispatcher that
// the host PC drives: one request object per line, one response object
// per line, dispatched by exact method name through a fixed-size
// table.
package rpc // import "github.com/nmradcc/dcc-tester/rpc"

import (
	"encoding/json"
	"log"
	"os"
)

// MaxMethods is the dispatch-table capacity.
const MaxMethods = 32

// Handler processes the params value of a request and returns the
// response object.
type Handler func(params json.RawMessage) any

type entry struct {
	name string
	fn   Handler
}

// Server dispatches framed requests by method name.
type Server struct {
	msg   *log.Logger
	table [MaxMethods]entry
	count int
}

// NewServer returns an empty dispatcher.
func NewServer() *Server {
	return &Server{
		msg: log.New(os.Stdout, "rpc: ", 0),
	}
}

// Register adds a method to the table, overwriting an existing entry
// with the same name. It reports false for nil arguments or a full
// table.
func (srv *Server) Register(name string, fn Handler) bool {
	if name == "" || fn == nil {
		return false
	}
	for i := 0; i < srv.count; i++ {
		if srv.table[i].name == name {
			srv.table[i].fn = fn
			return true
		}
	}
	if srv.count >= MaxMethods {
		return false
	}
	srv.table[srv.count] = entry{name: name, fn: fn}
	srv.count++
	return true
}

func (srv *Server) find(name string) Handler {
	for i := 0; i < srv.count; i++ {
		if srv.table[i].name == name {
			return srv.table[i].fn
		}
	}
	return nil
}

// Errorf builds an error response object.
func Errorf(msg string) map[string]any {
	return map[string]any{
		"status":  "error",
		"message": msg,
	}
}

// Handle processes one framed request and returns the marshalled
// response. It never returns an empty payload.
func (srv *Server) Handle(req []byte) []byte {
	rep := srv.handle(req)
	out, err := json.Marshal(rep)
	if err != nil {
		srv.msg.Printf("could not marshal response: %+v", err)
		out, _ = json.Marshal(Errorf("Internal error"))
	}
	return out
}

func (srv *Server) handle(req []byte) any {
	if !json.Valid(req) {
		return Errorf("Invalid JSON")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(req, &obj); err != nil {
		return Errorf("Malformed request")
	}
	var (
		method, okM = obj["method"]
		params, okP = obj["params"]
	)
	if !okM || !okP {
		return Errorf("Malformed request")
	}

	var name string
	if err := json.Unmarshal(method, &name); err != nil {
		return Errorf("Method must be string")
	}

	fn := srv.find(name)
	if fn == nil {
		srv.msg.Printf("unknown method %q", name)
		return Errorf("Unknown method")
	}
	return fn(params)
}
