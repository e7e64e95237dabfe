// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func upcase(frame []byte) []byte {
	return bytes.ToUpper(frame)
}

// rwPair glues a test input stream to an output buffer.
type rwPair struct {
	r io.Reader
	w io.Writer
}

func (p rwPair) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p rwPair) Write(b []byte) (int, error) { return p.w.Write(b) }

func TestServeFraming(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "crlf",
			in:   "abc\r\ndef\r\n",
			want: []string{"ABC", "DEF"},
		},
		{
			name: "bare-lf",
			in:   "abc\ndef\n",
			want: []string{"ABC", "DEF"},
		},
		{
			name: "mixed",
			in:   "abc\r\ndef\n",
			want: []string{"ABC", "DEF"},
		},
		{
			name: "blank-lines-skipped",
			in:   "\r\n\r\nabc\r\n\r\n",
			want: []string{"ABC"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			rw := rwPair{r: strings.NewReader(tc.in), w: &out}

			if err := Serve(rw, upcase); err != nil {
				t.Fatalf("serve failed: %+v", err)
			}
			var got []string
			sc := bufio.NewScanner(bytes.NewReader(out.Bytes()))
			for sc.Scan() {
				got = append(got, sc.Text())
			}
			if len(got) != len(tc.want) {
				t.Fatalf("invalid frame count: got=%d (%q), want=%d", len(got), got, len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("frame %d: got=%q, want=%q", i, got[i], tc.want[i])
				}
			}
			if !strings.HasSuffix(out.String(), "\r\n") {
				t.Fatalf("responses not CRLF terminated: %q", out.String())
			}
		})
	}
}

func TestServeOversizedFrame(t *testing.T) {
	var out bytes.Buffer
	in := strings.Repeat("x", MaxFrame+1) + "\r\n"
	rw := rwPair{r: strings.NewReader(in), w: &out}

	err := Serve(rw, upcase)
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("oversized frame not rejected: %+v", err)
	}
}

func TestTCPServer(t *testing.T) {
	srv, err := NewTCPServer("127.0.0.1:0", upcase)
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	defer srv.Close()
	go func() { _ = srv.Serve() }()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "hello\r\n"); err != nil {
		t.Fatalf("could not send request: %+v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		t.Fatalf("no response: %+v", sc.Err())
	}
	if got, want := sc.Text(), "HELLO"; got != want {
		t.Fatalf("invalid response: got=%q, want=%q", got, want)
	}
}
