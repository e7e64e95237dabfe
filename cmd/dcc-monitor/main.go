// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dcc-monitor watches a running test station over its RPC
// port during long soak runs: it polls the track feedback and alerts
// by mail when the link dies or the voltage leaves its window.
package main // import "github.com/nmradcc/dcc-tester/cmd/dcc-monitor"

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:2560", "station RPC address to dial")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
		vmin = flag.Int("vmin", 12000, "minimum acceptable track voltage (mV)")
		vmax = flag.Int("vmax", 18000, "maximum acceptable track voltage (mV)")
	)

	log.SetPrefix("dcc-monitor: ")
	log.SetFlags(0)

	flag.Parse()

	run(*addr, *freq, *vmin, *vmax)
}

func run(addr string, freq time.Duration, vmin, vmax int) {
	var (
		tick   = time.NewTicker(freq)
		mon    = &monitor{addr: addr, vmin: vmin, vmax: vmax}
		alerts = 0
	)
	defer tick.Stop()

	log.Printf("monitoring %q every %v...", addr, freq)
	for range tick.C {
		err := mon.probe()
		if err == nil {
			alerts = 0
			continue
		}
		log.Printf("probe failed: %+v", err)
		alerts++

		const maxAlerts = 5
		if alerts <= maxAlerts {
			mon.alertMail(err)
		}
	}
}

type monitor struct {
	addr string
	vmin int
	vmax int
}

// probe runs one voltage-feedback request against the station.
func (mon *monitor) probe() error {
	conn, err := net.DialTimeout("tcp", mon.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("could not dial station: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	req := `{"method":"get_voltage_feedback_mv","params":{"num_samples":4,"sample_delay_ms":1}}`
	if _, err := fmt.Fprintf(conn, "%s\r\n", req); err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return fmt.Errorf("no response from station: %w", sc.Err())
	}

	var rep struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		VoltageMV int    `json:"voltage_mv"`
	}
	if err := json.Unmarshal(sc.Bytes(), &rep); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	if rep.Status != "ok" {
		return fmt.Errorf("station error: %s", rep.Message)
	}
	if rep.VoltageMV < mon.vmin || rep.VoltageMV > mon.vmax {
		return fmt.Errorf("track voltage %d mV outside %d..%d mV",
			rep.VoltageMV, mon.vmin, mon.vmax,
		)
	}

	log.Printf("track voltage %d mV", rep.VoltageMV)
	return nil
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func (mon *monitor) alertMail(cause error) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[dcc-monitor] station alert: %q", mon.addr))
	msg.SetBody("text/plain", fmt.Sprintf("station: %q\ncause: %+v\n", mon.addr, cause))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
