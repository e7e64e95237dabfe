// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/peterh/liner"

	"github.com/nmradcc/dcc-tester/decoder"
	"github.com/nmradcc/dcc-tester/params"
	"github.com/nmradcc/dcc-tester/station"
)

// runConsole serves the line-based maintenance console: case-
// insensitive verbs, same contract as the board CLI.
func runConsole(cs *station.Station, dec *decoder.Decoder, prm *params.Manager) error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	for {
		line, err := term.Prompt("dcc> ")
		switch err {
		case nil:
			// ok
		case io.EOF, liner.ErrPromptAborted:
			fmt.Println()
			return nil
		default:
			return fmt.Errorf("could not read console line: %w", err)
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Printf("invalid command line: %+v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		term.AppendHistory(line)

		arg := func(i int) string {
			if i < len(args) {
				return strings.ToLower(args[i])
			}
			return ""
		}

		switch verb := arg(0); verb {
		case "help":
			printHelp()

		case "cs":
			switch arg(1) {
			case "start":
				loop := station.LoopCustom
				if n, err := strconv.Atoi(arg(2)); err == nil {
					loop = n
				}
				if err := cs.Start(loop); err != nil {
					fmt.Printf("could not start command station: %+v\n", err)
					continue
				}
				fmt.Printf("command station started (loop=%d)\n", loop)
			case "stop":
				if err := cs.Stop(); err != nil {
					fmt.Printf("could not stop command station: %+v\n", err)
					continue
				}
				fmt.Println("command station stopped")
			default:
				fmt.Printf("unknown command station command %q\n", arg(1))
			}

		case "dec":
			switch arg(1) {
			case "start":
				if err := dec.Start(); err != nil {
					fmt.Printf("could not start decoder: %+v\n", err)
					continue
				}
				fmt.Println("decoder started")
			case "stop":
				if err := dec.Stop(); err != nil {
					fmt.Printf("could not stop decoder: %+v\n", err)
					continue
				}
				fmt.Println("decoder stopped")
			default:
				fmt.Printf("unknown decoder command %q\n", arg(1))
			}

		case "bidi":
			v := int64(params.Defaults().BiDiDAC)
			if arg(1) != "" {
				n, err := strconv.ParseInt(arg(1), 10, 64)
				if err != nil || n < 0 || n > 4095 {
					fmt.Printf("invalid threshold %q\n", arg(1))
					continue
				}
				v = n
			}
			if err := cs.SetBiDiThreshold(uint16(v)); err != nil {
				fmt.Printf("could not set BiDi threshold: %+v\n", err)
				continue
			}
			fmt.Printf("BiDi threshold set to %d\n", v)

		case "status":
			fmt.Printf("command station: running=%v loop=%d\n", cs.Running(), cs.Loop())
			fmt.Printf("decoder: running=%v stats=%+v\n", dec.Running(), dec.Stats())
			fmt.Printf("parameters: dirty=%v\n", prm.Dirty())

		case "save":
			if err := prm.Save(); err != nil {
				fmt.Printf("could not save parameters: %+v\n", err)
				continue
			}
			fmt.Println("parameters saved")

		case "quit", "exit":
			return nil

		default:
			fmt.Printf("unknown command %q\n", verb)
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  help              show this help
  cs start [0..3]   start the command station (loop mode)
  cs stop           stop the command station
  dec start|stop    control the decoder
  bidi [value]      set the BiDi comparator threshold (default from parameters)
  status            show subsystem state
  save              save parameters to flash
  quit              leave the console
`)
}
