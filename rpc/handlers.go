// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nmradcc/dcc-tester/analog"
	"github.com/nmradcc/dcc-tester/dcc"
	"github.com/nmradcc/dcc-tester/decoder"
	"github.com/nmradcc/dcc-tester/hw"
	"github.com/nmradcc/dcc-tester/params"
	"github.com/nmradcc/dcc-tester/station"
)

// rebootDelay leaves the transport time to flush the response before
// the reset fires.
const rebootDelay = 100 * time.Millisecond

// System groups the board-level resources driven by the RPC surface.
type System struct {
	Station *station.Station
	Decoder *decoder.Decoder
	Params  *params.Manager
	Analog  *analog.Manager
	GPIO    hw.GPIO
	RTC     hw.RTC
	Reboot  hw.Rebooter

	// USBConnected reports the CDC link state; nil means always
	// connected.
	USBConnected func() bool
}

// Bind registers the full method set on srv.
func Bind(srv *Server, sys System) {
	srv.Register("echo", echoHandler)
	srv.Register("add", addHandler)

	srv.Register("command_station_start", sys.csStart)
	srv.Register("command_station_stop", sys.csStop)
	srv.Register("command_station_load_packet", sys.csLoadPacket)
	srv.Register("command_station_transmit_packet", sys.csTransmitPacket)
	srv.Register("command_station_params", sys.csParams)
	srv.Register("command_station_get_params", sys.csGetParams)
	srv.Register("command_station_packet_override", sys.csOverride)
	srv.Register("command_station_packet_reset_override", sys.csResetOverride)
	srv.Register("command_station_packet_get_override", sys.csGetOverride)

	srv.Register("decoder_start", sys.decStart)
	srv.Register("decoder_stop", sys.decStop)

	srv.Register("parameters_save", sys.paramsSave)
	srv.Register("parameters_restore", sys.paramsRestore)
	srv.Register("parameters_factory_reset", sys.paramsFactoryReset)

	srv.Register("get_voltage_feedback_mv", sys.voltageFeedback)
	srv.Register("get_current_feedback_ma", sys.currentFeedback)

	srv.Register("get_gpio_input", sys.gpioInput)
	srv.Register("get_gpio_inputs", sys.gpioInputs)
	srv.Register("configure_gpio_output", sys.gpioConfigureOutput)
	srv.Register("set_gpio_output", sys.gpioSetOutput)

	srv.Register("get_rtc_datetime", sys.rtcGet)
	srv.Register("set_rtc_datetime", sys.rtcSet)

	srv.Register("system_reboot", sys.systemReboot)
	srv.Register("system_usb_status", sys.usbStatus)
}

// ---- param decoding helpers ----

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func asInt(raw json.RawMessage) (int64, bool) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func asBool(raw json.RawMessage) (bool, bool) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

func ok(kvs ...any) map[string]any {
	rep := map[string]any{"status": "ok"}
	for i := 0; i+1 < len(kvs); i += 2 {
		rep[kvs[i].(string)] = kvs[i+1]
	}
	return rep
}

// ---- generic handlers ----

func echoHandler(raw json.RawMessage) any {
	return ok("echo", raw)
}

func addHandler(raw json.RawMessage) any {
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil || len(args) < 2 {
		return Errorf("missing params")
	}
	a, okA := asInt(args[0])
	b, okB := asInt(args[1])
	if !okA || !okB {
		return Errorf("params must be integers")
	}
	return ok("result", a+b)
}

// ---- command station ----

func (sys System) csStart(raw json.RawMessage) any {
	loop := int64(0)
	if obj, okO := asObject(raw); okO {
		if v, present := obj["loop"]; present {
			switch n, okN := asInt(v); {
			case okN:
				loop = n
			default:
				// bool kept for backward compatibility.
				b, okB := asBool(v)
				if !okB {
					return Errorf("loop must be an integer 0..3")
				}
				if b {
					loop = 1
				}
			}
		}
	}
	if loop < station.LoopCustom || loop > station.LoopSpeedRamp {
		return Errorf("loop must be an integer 0..3")
	}

	if err := sys.Station.Start(int(loop)); err != nil {
		if errors.Is(err, station.ErrBusy) {
			return Errorf("Command station is already running")
		}
		return Errorf(err.Error())
	}
	return ok("message", "Command station started", "loop", loop)
}

func (sys System) csStop(raw json.RawMessage) any {
	if err := sys.Station.Stop(); err != nil {
		if errors.Is(err, station.ErrBusy) {
			return Errorf("Command station is not running")
		}
		return Errorf(err.Error())
	}
	return ok("message", "Command station stopped")
}

func (sys System) csLoadPacket(raw json.RawMessage) any {
	obj, okO := asObject(raw)
	if !okO {
		return Errorf("params must be an object")
	}
	rawBytes, present := obj["bytes"]
	if !present {
		return Errorf("bytes must be an array")
	}
	var vals []int64
	if err := json.Unmarshal(rawBytes, &vals); err != nil {
		return Errorf("bytes must be an array")
	}
	buf := make([]uint8, len(vals))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return Errorf("all bytes must be unsigned integers (0-255)")
		}
		buf[i] = uint8(v)
	}
	if len(buf) > dcc.MaxPacketSize {
		return Errorf(fmt.Sprintf("packet too long (max %d bytes)", dcc.MaxPacketSize))
	}

	n, err := sys.Station.LoadPacket(buf)
	if err != nil {
		return Errorf(err.Error())
	}
	replace := false
	if v, present := obj["replace"]; present {
		replace, _ = asBool(v)
	}
	return ok("message", "Packet loaded successfully", "length", n, "replace", replace)
}

func (sys System) csTransmitPacket(raw json.RawMessage) any {
	var (
		count   = int64(1)
		delayMS = int64(100)
	)
	if obj, okO := asObject(raw); okO {
		if v, present := obj["count"]; present {
			n, okN := asInt(v)
			if !okN || n < 1 {
				return Errorf("count must be a positive integer")
			}
			count = n
		}
		if v, present := obj["delay_ms"]; present {
			n, okN := asInt(v)
			if !okN || n < 0 {
				return Errorf("delay_ms must be a non-negative integer")
			}
			delayMS = n
		}
	}

	err := sys.Station.TransmitPacket(uint32(count), time.Duration(delayMS)*time.Millisecond)
	switch {
	case err == nil:
		return ok("message", "Packet transmission armed", "count", count, "delay_ms", delayMS)
	case errors.Is(err, station.ErrNotLoaded):
		return Errorf("No packet loaded")
	case errors.Is(err, station.ErrBusy):
		return Errorf("Command station is not running")
	default:
		return Errorf(err.Error())
	}
}

func (sys System) csParams(raw json.RawMessage) any {
	obj, okO := asObject(raw)
	if !okO {
		return Errorf("params must be an object")
	}

	for key, v := range obj {
		switch key {
		case "bidi_enable", "trigger_first_bit":
			b, okB := asBool(v)
			if !okB {
				return Errorf(key + " must be a boolean")
			}
			if key == "bidi_enable" {
				sys.Params.SetBiDiEnable(b)
			} else {
				sys.Params.SetTriggerFirstBit(b)
			}

		case "preamble_bits", "bit1_duration", "bit0_duration":
			n, okN := asInt(v)
			if !okN || n < 0 || n > 255 {
				return Errorf(key + " must be a positive integer")
			}
			switch key {
			case "preamble_bits":
				sys.Params.SetPreambleBits(uint8(n))
			case "bit1_duration":
				sys.Params.SetBit1Duration(uint8(n))
			case "bit0_duration":
				sys.Params.SetBit0Duration(uint8(n))
			}

		case "bidi_dac":
			n, okN := asInt(v)
			if !okN || n < 0 || n > 4095 {
				return Errorf("bidi_dac must be an integer 0..4095")
			}
			sys.Params.SetBiDiDAC(uint16(n))
			if err := sys.Station.SetBiDiThreshold(uint16(n)); err != nil {
				return Errorf(err.Error())
			}

		case "track_voltage":
			n, okN := asInt(v)
			if !okN || n < 0 || n > 65535 {
				return Errorf("track_voltage must be a positive integer")
			}
			sys.Params.SetTrackVoltage(uint16(n))

		default:
			// unknown keys are ignored, as the host tooling expects.
		}
	}

	// a running station picks the new timing up at the next
	// inter-packet boundary.
	if err := sys.Station.SetConfigNow(); err != nil {
		return Errorf(err.Error())
	}
	return ok("message", "Command station parameters updated")
}

func (sys System) csGetParams(raw json.RawMessage) any {
	var (
		d   = sys.Params.Data()
		ovr = sys.Station.Engine().GetOverride()
	)
	return ok("parameters", map[string]any{
		"track_voltage":         d.TrackVoltage,
		"preamble_bits":         d.PreambleBits,
		"bit1_duration":         d.Bit1Duration,
		"bit0_duration":         d.Bit0Duration,
		"bidi_enable":           d.BiDiEnable,
		"bidi_dac":              d.BiDiDAC,
		"trigger_first_bit":     d.TriggerFirstBit,
		"zerobit_override_mask": fmt.Sprintf("0x%016X", ovr.Mask),
		"zerobit_deltaP":        ovr.DeltaP,
		"zerobit_deltaN":        ovr.DeltaN,
	})
}

// maskValue accepts the override mask as a JSON number or a hex
// string ("0x...").
func maskValue(raw json.RawMessage) (uint64, bool) {
	if n, okN := asInt(raw); okN {
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (sys System) csOverride(raw json.RawMessage) any {
	obj, okO := asObject(raw)
	if !okO {
		return Errorf("params must be an object")
	}

	ovr := sys.Station.Engine().GetOverride()
	if v, present := obj["zerobit_override_mask"]; present {
		mask, okM := maskValue(v)
		if !okM {
			return Errorf("zerobit_override_mask must be a 64-bit mask")
		}
		ovr.Mask = mask
	}
	if v, present := obj["zerobit_deltaP"]; present {
		n, okN := asInt(v)
		if !okN {
			return Errorf("zerobit_deltaP must be an integer")
		}
		ovr.DeltaP = int32(n)
	}
	if v, present := obj["zerobit_deltaN"]; present {
		n, okN := asInt(v)
		if !okN {
			return Errorf("zerobit_deltaN must be an integer")
		}
		ovr.DeltaN = int32(n)
	}
	sys.Station.Engine().SetOverride(ovr)
	return ok("message", "Packet override parameters updated")
}

func (sys System) csResetOverride(raw json.RawMessage) any {
	sys.Station.Engine().ResetOverride()
	return ok("message", "Packet override parameters reset to 0")
}

func (sys System) csGetOverride(raw json.RawMessage) any {
	ovr := sys.Station.Engine().GetOverride()
	return ok(
		"zerobit_override_mask", fmt.Sprintf("0x%016X", ovr.Mask),
		"zerobit_override_mask_decimal", ovr.Mask,
		"zerobit_deltaP", ovr.DeltaP,
		"zerobit_deltaN", ovr.DeltaN,
	)
}

// ---- decoder ----

func (sys System) decStart(raw json.RawMessage) any {
	if err := sys.Decoder.Start(); err != nil {
		if errors.Is(err, decoder.ErrBusy) {
			return Errorf("Decoder is already running")
		}
		return Errorf(err.Error())
	}
	return ok("message", "Decoder started")
}

func (sys System) decStop(raw json.RawMessage) any {
	if err := sys.Decoder.Stop(); err != nil {
		if errors.Is(err, decoder.ErrBusy) {
			return Errorf("Decoder is not running")
		}
		return Errorf(err.Error())
	}
	return ok("message", "Decoder stopped")
}

// ---- persistent parameters ----

func (sys System) paramsSave(raw json.RawMessage) any {
	if err := sys.Params.Save(); err != nil {
		return Errorf(err.Error())
	}
	return ok("message", "Parameters saved to flash")
}

func (sys System) paramsRestore(raw json.RawMessage) any {
	if err := sys.Params.Restore(); err != nil {
		return Errorf(err.Error())
	}
	return ok("message", "Parameters restored from flash")
}

func (sys System) paramsFactoryReset(raw json.RawMessage) any {
	if err := sys.Params.FactoryReset(); err != nil {
		return Errorf(err.Error())
	}
	return ok("message", "Factory reset completed - all parameters restored to defaults")
}

// ---- analog feedback ----

// feedbackArgs extracts the optional averaging parameters. Averaged
// mode needs both of them.
func feedbackArgs(raw json.RawMessage) (n int64, delay int64, averaged bool, rep any) {
	n, delay = 1, 0
	obj, okO := asObject(raw)
	if !okO {
		return n, delay, false, nil
	}
	vN, haveN := obj["num_samples"]
	vD, haveD := obj["sample_delay_ms"]
	if !haveN || !haveD {
		return n, delay, false, nil
	}
	var okN, okD bool
	n, okN = asInt(vN)
	delay, okD = asInt(vD)
	switch {
	case !okN || n < 1 || n > analog.MaxSamples:
		return 0, 0, false, Errorf(fmt.Sprintf("num_samples must be between 1 and %d", analog.MaxSamples))
	case !okD || delay < 0 || delay > 1000:
		return 0, 0, false, Errorf("sample_delay_ms must be between 0 and 1000")
	}
	return n, delay, true, nil
}

func (sys System) voltageFeedback(raw json.RawMessage) any {
	n, delay, averaged, rep := feedbackArgs(raw)
	if rep != nil {
		return rep
	}
	v, err := sys.Analog.VoltageFeedbackMV(int(n), time.Duration(delay)*time.Millisecond)
	if err != nil {
		return Errorf(err.Error())
	}
	if averaged {
		return ok("voltage_mv", v, "averaged", true, "num_samples", n, "sample_delay_ms", delay)
	}
	return ok("voltage_mv", v)
}

func (sys System) currentFeedback(raw json.RawMessage) any {
	n, delay, averaged, rep := feedbackArgs(raw)
	if rep != nil {
		return rep
	}
	v, err := sys.Analog.CurrentFeedbackMA(int(n), time.Duration(delay)*time.Millisecond)
	if err != nil {
		return Errorf(err.Error())
	}
	if averaged {
		return ok("current_ma", v, "averaged", true, "num_samples", n, "sample_delay_ms", delay)
	}
	return ok("current_ma", v)
}

// ---- gpio ----

func gpioPin(raw json.RawMessage) (int, any) {
	obj, okO := asObject(raw)
	if !okO {
		return 0, Errorf("params must be an object")
	}
	v, present := obj["pin"]
	if !present {
		return 0, Errorf("pin must be an integer 1..16")
	}
	n, okN := asInt(v)
	if !okN || n < 1 || n > 16 {
		return 0, Errorf("pin must be an integer 1..16")
	}
	return int(n), nil
}

func (sys System) gpioInput(raw json.RawMessage) any {
	pin, rep := gpioPin(raw)
	if rep != nil {
		return rep
	}
	v, err := sys.GPIO.Input(pin)
	if err != nil {
		return Errorf(err.Error())
	}
	state := 0
	if v {
		state = 1
	}
	return ok("pin", pin, "value", state)
}

func (sys System) gpioInputs(raw json.RawMessage) any {
	v, err := sys.GPIO.Inputs()
	if err != nil {
		return Errorf(err.Error())
	}
	return ok("value", v)
}

func gpioState(raw json.RawMessage) (bool, bool) {
	obj, okO := asObject(raw)
	if !okO {
		return false, false
	}
	v, present := obj["state"]
	if !present {
		return false, false
	}
	n, okN := asInt(v)
	if !okN || n < 0 || n > 1 {
		return false, false
	}
	return n == 1, true
}

func (sys System) gpioConfigureOutput(raw json.RawMessage) any {
	pin, rep := gpioPin(raw)
	if rep != nil {
		return rep
	}
	if err := sys.GPIO.ConfigureOutput(pin); err != nil {
		return Errorf(err.Error())
	}
	if state, present := gpioState(raw); present {
		if err := sys.GPIO.SetOutput(pin, state); err != nil {
			return Errorf(err.Error())
		}
	}
	return ok("pin", pin)
}

func (sys System) gpioSetOutput(raw json.RawMessage) any {
	pin, rep := gpioPin(raw)
	if rep != nil {
		return rep
	}
	state, present := gpioState(raw)
	if !present {
		return Errorf("state must be 0 or 1")
	}
	if err := sys.GPIO.SetOutput(pin, state); err != nil {
		return Errorf(err.Error())
	}
	return ok("pin", pin, "state", map[bool]int{false: 0, true: 1}[state])
}

// ---- rtc ----

func (sys System) rtcGet(raw json.RawMessage) any {
	now, err := sys.RTC.Now()
	if err != nil {
		return Errorf(err.Error())
	}
	return ok(
		"year", now.Year(),
		"month", int(now.Month()),
		"day", now.Day(),
		"hours", now.Hour(),
		"minutes", now.Minute(),
		"seconds", now.Second(),
	)
}

func (sys System) rtcSet(raw json.RawMessage) any {
	obj, okO := asObject(raw)
	if !okO {
		return Errorf("params must be an object")
	}
	get := func(key string, lo, hi int64) (int64, any) {
		v, present := obj[key]
		if !present {
			return 0, Errorf(key + " is required")
		}
		n, okN := asInt(v)
		if !okN || n < lo || n > hi {
			return 0, Errorf(fmt.Sprintf("%s must be an integer %d..%d", key, lo, hi))
		}
		return n, nil
	}

	year, rep := get("year", 2000, 2099)
	if rep != nil {
		return rep
	}
	month, rep := get("month", 1, 12)
	if rep != nil {
		return rep
	}
	day, rep := get("day", 1, 31)
	if rep != nil {
		return rep
	}
	hours, rep := get("hours", 0, 23)
	if rep != nil {
		return rep
	}
	minutes, rep := get("minutes", 0, 59)
	if rep != nil {
		return rep
	}
	seconds, rep := get("seconds", 0, 59)
	if rep != nil {
		return rep
	}

	t := time.Date(int(year), time.Month(month), int(day),
		int(hours), int(minutes), int(seconds), 0, time.Local)
	if err := sys.RTC.Set(t); err != nil {
		return Errorf(err.Error())
	}
	return ok("message", "RTC updated")
}

// ---- system ----

func (sys System) systemReboot(raw json.RawMessage) any {
	// the response goes out first; the reset fires once the
	// transport has flushed it.
	time.AfterFunc(rebootDelay, sys.Reboot.Reboot)
	return ok("message", "System rebooting...")
}

func (sys System) usbStatus(raw json.RawMessage) any {
	connected := true
	if sys.USBConnected != nil {
		connected = sys.USBConnected()
	}
	return ok("usb_connected", connected)
}
