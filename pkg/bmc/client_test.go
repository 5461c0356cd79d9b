// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thermoquad/bmcstat/internal/sim"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// startClient runs a client against a simulated BMC until the test ends
func startClient(t *testing.T, b *sim.BMC, opts ClientOptions) (*Client, *sim.Transport) {
	t.Helper()
	tr := b.Transport()
	opts.Logger = quietLogger()
	c := NewClient(tr, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c, tr
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================
// Client Tests
// ============================================================

func TestClient_Discover(t *testing.T) {
	b := sim.Demo(sim.Options{MaxChunk: 32})
	tr := b.Transport()
	c := NewClient(tr, ClientOptions{Logger: quietLogger()})

	var calls atomic.Int32
	c.OnDiscovered(func(d []sdr.Descriptor) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	sensors, err := c.Discover(testContext(t))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(sensors) != 10 {
		t.Errorf("expected 10 sensors, got %d", len(sensors))
	}

	// a second call returns the same table without walking again
	before := b.Requests()
	again, err := c.Discover(testContext(t))
	if err != nil || len(again) != len(sensors) {
		t.Errorf("second Discover: %d sensors, %v", len(again), err)
	}
	if b.Requests() != before {
		t.Error("second Discover sent requests")
	}
	if calls.Load() != 1 {
		t.Errorf("expected one discovery callback, got %d", calls.Load())
	}

	st, err := c.Stats(testContext(t))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.State != StateDiscovered || st.Sensors != 10 || st.Chunk != 16 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestClient_Scaled(t *testing.T) {
	b := sim.Demo(sim.Options{})
	c, _ := startClient(t, b, ClientOptions{})
	ctx := testContext(t)

	if _, err := c.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	v, err := c.Scaled(ctx, sdr.KindFan, 0)
	if err != nil {
		t.Fatalf("Scaled: %v", err)
	}
	if v.Reading() != 70*75 || v.Lower() != 4*75 {
		t.Errorf("fan1: unexpected values %v", v.Elements)
	}

	v, err = c.Scaled(ctx, sdr.KindVoltage, 0)
	if err != nil {
		t.Fatalf("Scaled: %v", err)
	}
	if v.Reading() != 150*8 || v.DecimalPlaces != 3 {
		t.Errorf("in1: unexpected values %v (%d places)", v.Elements, v.DecimalPlaces)
	}
	if got := sdr.FormatFixed(v.Reading(), v.DecimalPlaces); got != "1.200" {
		t.Errorf("in1: expected 1.200, got %s", got)
	}

	if _, err := c.Scaled(ctx, sdr.KindCurrent, 3); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("expected ErrUnknownSensor, got %v", err)
	}
}

func TestClient_RefreshSkipsFreshReadings(t *testing.T) {
	b := sim.Demo(sim.Options{})
	c, _ := startClient(t, b, ClientOptions{StaleAfter: time.Minute})
	ctx := testContext(t)

	c.Discover(ctx)
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := b.Requests()
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if b.Requests() != before {
		t.Errorf("fresh readings were polled again: %d requests", b.Requests()-before)
	}

	st, _ := c.Stats(ctx)
	if st.State != StateReadDone || st.LastRead.IsZero() {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestClient_RefreshBeforeDiscovery(t *testing.T) {
	c, _ := startClient(t, sim.Demo(sim.Options{}), ClientOptions{})
	if err := c.Refresh(testContext(t)); !errors.Is(err, ErrNotDiscovered) {
		t.Errorf("expected ErrNotDiscovered, got %v", err)
	}
}

func TestClient_UpdateTimeout(t *testing.T) {
	b := sim.Demo(sim.Options{})
	c, tr := startClient(t, b, ClientOptions{
		UpdateTimeout:   50 * time.Millisecond,
		ResponseTimeout: time.Minute,
	})
	ctx := testContext(t)

	if _, err := c.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	tr.SetMuted(true)

	v, err := c.Scaled(ctx, sdr.KindTemperature, 0)
	if !errors.Is(err, ErrUpdateTimeout) {
		t.Fatalf("expected ErrUpdateTimeout, got %v", err)
	}
	if len(v.Elements) != 3 {
		t.Errorf("expected values alongside the timeout, got %v", v.Elements)
	}

	// the cycle keeps running; a second caller waits on the same cycle
	if err := c.Refresh(ctx); !errors.Is(err, ErrUpdateTimeout) {
		t.Errorf("expected ErrUpdateTimeout, got %v", err)
	}
	st, _ := c.Stats(ctx)
	if st.State != StateReading {
		t.Errorf("expected reading state, got %s", st.State)
	}
}

func TestClient_ResponseTimeout(t *testing.T) {
	b := sim.Demo(sim.Options{})
	c, tr := startClient(t, b, ClientOptions{
		UpdateTimeout:   2 * time.Second,
		ResponseTimeout: 40 * time.Millisecond,
	})
	ctx := testContext(t)

	if _, err := c.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	tr.SetMuted(true)

	if err := c.Refresh(ctx); !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}

	// the BMC comes back and the next cycle succeeds
	tr.SetMuted(false)
	if err := c.Refresh(ctx); err != nil {
		t.Errorf("Refresh after recovery: %v", err)
	}
}

func TestClient_DiscoveryFailure(t *testing.T) {
	b := sim.New(sim.Options{})
	c, _ := startClient(t, b, ClientOptions{})
	ctx := testContext(t)

	// an empty repository answers the first Get SDR with 0xCB
	if _, err := c.Discover(ctx); err == nil {
		t.Fatal("expected discovery to fail")
	}
	if _, err := c.Scaled(ctx, sdr.KindTemperature, 0); err == nil {
		t.Error("expected Scaled to fail after failed discovery")
	}
}

func TestClient_TransportClosed(t *testing.T) {
	b := sim.Demo(sim.Options{})
	tr := b.Transport()
	c := NewClient(tr, ClientOptions{Logger: quietLogger()})

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	if _, err := c.Discover(testContext(t)); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	tr.Close()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("expected ErrTransportClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the transport closed")
	}

	if _, err := c.Sensors(testContext(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
