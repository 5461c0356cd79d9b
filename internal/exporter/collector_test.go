// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exporter

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/bmc"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

type fakeSource struct {
	refreshErr error
	sensors    []sdr.Descriptor
	stats      bmc.Stats
}

func (f *fakeSource) Refresh(context.Context) error { return f.refreshErr }

func (f *fakeSource) Sensors(context.Context) ([]sdr.Descriptor, error) { return f.sensors, nil }

func (f *fakeSource) Stats(context.Context) (bmc.Stats, error) { return f.stats, nil }

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testSource() *fakeSource {
	volt := sdr.Descriptor{
		Kind:       sdr.KindVoltage,
		Name:       "in1",
		ID:         "Vcore",
		Conversion: sdr.Conversion{M: 8, ExpResult: 0x0d},
		Limits:     [sdr.NumLimits]uint8{0, 0, 175, 0, 0, 112, 0, 0},
		Upper:      sdr.Selection{Slot: sdr.SlotUpperNonCritical, Writable: true},
		Lower:      sdr.Selection{Slot: sdr.SlotLowerNonCritical},
		Reading:    150,
		Valid:      true,
	}
	fan := sdr.Descriptor{
		Kind:       sdr.KindFan,
		Name:       "fan1",
		Conversion: sdr.Conversion{M: 75},
		Lower:      sdr.None,
		Upper:      sdr.None,
	}
	return &fakeSource{
		sensors: []sdr.Descriptor{volt, fan},
		stats: bmc.Stats{
			LastRead:      time.Unix(1700000000, 0),
			Cancellations: 2,
			Link:          bmc.LinkStats{Requests: 30, Responses: 29, Dropped: 1},
		},
	}
}

func gather(t *testing.T, c *Collector) map[string][]*dto.Metric {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string][]*dto.Metric)
	for _, f := range families {
		out[f.GetName()] = f.GetMetric()
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// ============================================================
// Collector Tests
// ============================================================

func TestCollector_Sensors(t *testing.T) {
	got := gather(t, NewCollector(testSource(), time.Second, quietLogger()))

	if up := got["bmc_up"]; len(up) != 1 || up[0].GetGauge().GetValue() != 1 {
		t.Errorf("expected bmc_up 1, got %v", up)
	}

	readings := got["bmc_sensor_reading"]
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading (fan has none), got %d", len(readings))
	}
	r := readings[0]
	if labelValue(r, "sensor") != "in1" || labelValue(r, "label") != "Vcore" || labelValue(r, "kind") != "voltage" {
		t.Errorf("unexpected labels %v", r.GetLabel())
	}
	if v := r.GetGauge().GetValue(); v < 1.1999 || v > 1.2001 {
		t.Errorf("expected 1.2 V, got %g", v)
	}

	if upper := got["bmc_sensor_upper_limit"]; len(upper) != 1 || upper[0].GetGauge().GetValue() != 1.4 {
		t.Errorf("unexpected upper limit %v", upper)
	}
	if w := got["bmc_sensor_thresholds_writable"]; len(w) != 2 {
		t.Errorf("expected writable flag per sensor, got %d", len(w))
	}
	if d := got["bmc_link_dropped_total"]; len(d) != 1 || d[0].GetCounter().GetValue() != 1 {
		t.Errorf("unexpected dropped counter %v", d)
	}
	if ts := got["bmc_last_read_timestamp_seconds"]; len(ts) != 1 || ts[0].GetGauge().GetValue() != 1700000000 {
		t.Errorf("unexpected last read %v", ts)
	}
}

func TestCollector_RefreshFailure(t *testing.T) {
	src := testSource()
	src.refreshErr = bmc.ErrUpdateTimeout
	got := gather(t, NewCollector(src, time.Second, quietLogger()))

	if up := got["bmc_up"]; len(up) != 1 || up[0].GetGauge().GetValue() != 0 {
		t.Errorf("expected bmc_up 0, got %v", up)
	}
	// stale values are still exported
	if len(got["bmc_sensor_reading"]) != 1 {
		t.Error("expected the stale reading to be exported")
	}
}

func TestHandler(t *testing.T) {
	h, err := Handler(NewCollector(testSource(), time.Second, quietLogger()))
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `bmc_sensor_reading{kind="voltage",label="Vcore",sensor="in1"} 1.2`) {
		t.Errorf("reading missing from output:\n%s", body)
	}
}
