// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/json"
	"fmt"
	"testing"
)

func decode(t *testing.T, rep []byte) map[string]any {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal(rep, &obj); err != nil {
		t.Fatalf("could not decode response %q: %+v", rep, err)
	}
	return obj
}

func TestServerFraming(t *testing.T) {
	srv := NewServer()
	srv.Register("echo", echoHandler)

	for _, tc := range []struct {
		name string
		req  string
		want string // expected message for errors, "" for ok
	}{
		{name: "ok", req: `{"method":"echo","params":{"x":1}}`},
		{name: "null-params", req: `{"method":"echo","params":null}`},
		{name: "invalid-json", req: `{"method":`, want: "Invalid JSON"},
		{name: "not-an-object", req: `[1,2,3]`, want: "Malformed request"},
		{name: "missing-method", req: `{"params":{}}`, want: "Malformed request"},
		{name: "missing-params", req: `{"method":"echo"}`, want: "Malformed request"},
		{name: "method-not-string", req: `{"method":42,"params":{}}`, want: "Method must be string"},
		{name: "unknown-method", req: `{"method":"nope","params":{}}`, want: "Unknown method"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rep := decode(t, srv.Handle([]byte(tc.req)))
			switch {
			case tc.want == "":
				if got := rep["status"]; got != "ok" {
					t.Fatalf("invalid status: got=%v, want=ok (rep=%v)", got, rep)
				}
			default:
				if got := rep["status"]; got != "error" {
					t.Fatalf("invalid status: got=%v, want=error", got)
				}
				if got := rep["message"]; got != tc.want {
					t.Fatalf("invalid message: got=%q, want=%q", got, tc.want)
				}
			}
		})
	}
}

func TestServerEcho(t *testing.T) {
	srv := NewServer()
	srv.Register("echo", echoHandler)

	rep := decode(t, srv.Handle([]byte(`{"method":"echo","params":{"x":1}}`)))
	if got := rep["status"]; got != "ok" {
		t.Fatalf("invalid status: %v", got)
	}
	echo, okE := rep["echo"].(map[string]any)
	if !okE {
		t.Fatalf("invalid echo payload: %v", rep["echo"])
	}
	if got := echo["x"]; got != float64(1) {
		t.Fatalf("invalid echo value: %v", got)
	}
}

func TestServerAdd(t *testing.T) {
	srv := NewServer()
	srv.Register("add", addHandler)

	rep := decode(t, srv.Handle([]byte(`{"method":"add","params":[20,22]}`)))
	if got := rep["result"]; got != float64(42) {
		t.Fatalf("invalid result: %v", got)
	}

	rep = decode(t, srv.Handle([]byte(`{"method":"add","params":[1]}`)))
	if got := rep["message"]; got != "missing params" {
		t.Fatalf("invalid message: %v", got)
	}
	rep = decode(t, srv.Handle([]byte(`{"method":"add","params":[1,"a"]}`)))
	if got := rep["message"]; got != "params must be integers" {
		t.Fatalf("invalid message: %v", got)
	}
}

func TestServerRegister(t *testing.T) {
	srv := NewServer()

	if srv.Register("", echoHandler) {
		t.Fatalf("empty name registered")
	}
	if srv.Register("echo", nil) {
		t.Fatalf("nil handler registered")
	}

	if !srv.Register("echo", echoHandler) {
		t.Fatalf("could not register method")
	}
	// re-registration overwrites in place.
	if !srv.Register("echo", addHandler) {
		t.Fatalf("could not overwrite method")
	}
	if got, want := srv.count, 1; got != want {
		t.Fatalf("duplicate registration grew the table: got=%d, want=%d", got, want)
	}

	for i := 1; i < MaxMethods; i++ {
		if !srv.Register(fmt.Sprintf("m%02d", i), echoHandler) {
			t.Fatalf("could not register method %d", i)
		}
	}
	if srv.Register("overflow", echoHandler) {
		t.Fatalf("registration beyond table capacity succeeded")
	}
}
