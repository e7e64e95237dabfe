// Copyright 2025 The dcc-tester Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analog provides on-demand, averaged ADC readings of the
// track voltage and current. The converter is a shared resource: reads
// are serialized through a semaphore with a 100 ms acquire timeout.
package analog // import "github.com/nmradcc/dcc-tester/analog"

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nmradcc/dcc-tester/hw"
)

const (
	// AcquireTimeout bounds the wait for the ADC semaphore.
	AcquireTimeout = 100 * time.Millisecond

	// MaxSamples bounds an averaging request.
	MaxSamples = 16
	// MaxSampleDelay bounds the inter-sample delay.
	MaxSampleDelay = 1000 * time.Millisecond

	// voltageScaleMV converts ADC counts to track millivolts.
	voltageScaleMV = 11
	// currentScaleMA converts ADC counts to track milliamps
	// (0.5 mA per count).
	currentScaleMA = 2
)

var (
	// ErrTimeout is returned when the ADC semaphore cannot be
	// acquired in time.
	ErrTimeout = errors.New("analog: adc acquire timeout")
	// ErrInvalidArgument is returned for out-of-range sampling
	// requests.
	ErrInvalidArgument = errors.New("analog: invalid argument")
)

// Manager serializes access to the feedback ADC.
type Manager struct {
	adc hw.ADC
	sem *semaphore.Weighted
}

// New returns a manager owning adc.
func New(adc hw.ADC) *Manager {
	return &Manager{
		adc: adc,
		sem: semaphore.NewWeighted(1),
	}
}

// read acquires the converter and averages n conversions of channel
// ch, sleeping delay between samples.
func (mgr *Manager) read(ch, n int, delay time.Duration) (uint16, error) {
	switch {
	case n < 1 || n > MaxSamples:
		return 0, fmt.Errorf("analog: num-samples %d out of range 1..%d: %w", n, MaxSamples, ErrInvalidArgument)
	case delay < 0 || delay > MaxSampleDelay:
		return 0, fmt.Errorf("analog: sample-delay %v out of range: %w", delay, ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(context.Background(), AcquireTimeout)
	defer cancel()
	if err := mgr.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("analog: could not acquire adc: %w", ErrTimeout)
	}
	defer mgr.sem.Release(1)

	var sum uint32
	for i := 0; i < n; i++ {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		v, err := mgr.adc.Read(ch)
		if err != nil {
			return 0, fmt.Errorf("analog: could not read adc channel %d: %w", ch, err)
		}
		sum += uint32(v)
	}
	return uint16(sum / uint32(n)), nil
}

// VoltageFeedbackMV returns the averaged track voltage in millivolts.
func (mgr *Manager) VoltageFeedbackMV(n int, delay time.Duration) (uint16, error) {
	v, err := mgr.read(hw.ADCTrackVoltage, n, delay)
	if err != nil {
		return 0, err
	}
	return v * voltageScaleMV, nil
}

// CurrentFeedbackMA returns the averaged track current in milliamps.
func (mgr *Manager) CurrentFeedbackMA(n int, delay time.Duration) (uint16, error) {
	v, err := mgr.read(hw.ADCTrackCurrent, n, delay)
	if err != nil {
		return 0, err
	}
	return v / currentScaleMA, nil
}
