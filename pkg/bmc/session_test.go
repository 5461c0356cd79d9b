// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmc

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/internal/sim"
	"github.com/Thermoquad/bmcstat/pkg/ipmi"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

type request struct {
	netFn uint8
	cmd   uint8
	data  []byte
}

// fakeTransport records requests and never answers on its own
type fakeTransport struct {
	sent      []request
	seq       uint8
	err       error
	responses chan *ipmi.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(chan *ipmi.Message, 8)}
}

func (f *fakeTransport) Send(netFn, cmd uint8, data []byte) (uint8, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, request{netFn: netFn, cmd: cmd, data: append([]byte(nil), data...)})
	seq := f.seq
	f.seq = (f.seq + 1) & ipmi.SeqMask
	return seq, nil
}

func (f *fakeTransport) Responses() <-chan *ipmi.Message {
	return f.responses
}

func (f *fakeTransport) last() request {
	if len(f.sent) == 0 {
		return request{}
	}
	return f.sent[len(f.sent)-1]
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func reservation(id uint16) []byte {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, id)
	return data
}

func recordResponse(next uint16, rec []byte) []byte {
	data := make([]byte, 2, 2+len(rec))
	binary.LittleEndian.PutUint16(data, next)
	return append(data, rec...)
}

// drive answers every request from b until the running cycle ends
func drive(t *testing.T, s *Session, ft *fakeTransport, b *sim.BMC) {
	t.Helper()
	for i := 0; s.State().Active(); i++ {
		if i > 20000 {
			t.Fatalf("cycle did not end, state %s", s.State())
		}
		req := ft.last()
		cc, data := b.Handle(req.netFn, req.cmd, req.data)
		s.HandleResponse(cc, data)
	}
}

func thermometer() sdr.RecordTemplate {
	tmpl := sdr.ThresholdTemplate(0x0001, sdr.KindTemperature, 0x01, "CPU Temp")
	tmpl.M = 10
	tmpl.ExpResult = -8 // encodes exponent field 8
	return tmpl
}

// ============================================================
// Discovery Tests
// ============================================================

func TestSession_EndToEnd(t *testing.T) {
	ft := newFakeTransport()
	var discovered [][]sdr.Descriptor
	s := NewSession(ft, SessionConfig{
		Logger:       quietLogger(),
		OnDiscovered: func(d []sdr.Descriptor) { discovered = append(discovered, d) },
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateReserve {
		t.Fatalf("expected reserve state, got %s", s.State())
	}

	s.HandleResponse(ipmi.CompletionOK, reservation(0x0042))
	if s.State() != StateWalk {
		t.Fatalf("expected walk state, got %s", s.State())
	}

	s.HandleResponse(ipmi.CompletionOK, recordResponse(sdr.EndOfRepository, thermometer().Encode()))
	if s.State() != StateDiscovered {
		t.Fatalf("expected discovered state, got %s (%v)", s.State(), s.Err())
	}
	if len(discovered) != 1 || len(discovered[0]) != 1 {
		t.Fatalf("expected one callback with one sensor, got %v", discovered)
	}
	if d := discovered[0][0]; d.Kind != sdr.KindTemperature || d.Name != "temp1" || d.ID != "CPU Temp" {
		t.Errorf("unexpected descriptor %+v", d)
	}

	started, err := s.StartReading()
	if !started || err != nil {
		t.Fatalf("StartReading: %v, %v", started, err)
	}
	if req := ft.last(); req.netFn != ipmi.NetFnSensor || req.cmd != ipmi.CmdGetSensorReading || req.data[0] != 0x01 {
		t.Errorf("unexpected reading request %+v", req)
	}

	s.HandleResponse(ipmi.CompletionOK, []byte{50, 0xc0, 0x00})
	if s.State() != StateReadDone {
		t.Fatalf("expected read-done state, got %s", s.State())
	}

	v := sdr.Scale(s.Sensor(sdr.KindTemperature, 0))
	if v.Reading() != 500 {
		t.Errorf("expected reading 500, got %d", v.Reading())
	}
	if v.DecimalPlaces != 8 {
		t.Errorf("expected 8 decimal places, got %d", v.DecimalPlaces)
	}
}

func TestSession_RequestsCarryReservation(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger()})
	s.Start()

	if req := ft.last(); req.netFn != ipmi.NetFnStorage || req.cmd != ipmi.CmdReserveSDR {
		t.Fatalf("expected reserve request, got %+v", req)
	}

	s.HandleResponse(ipmi.CompletionOK, reservation(0x1234))
	want := []byte{0x34, 0x12, 0x00, 0x00, 0x00, sdr.FullChunk}
	if req := ft.last(); req.cmd != ipmi.CmdGetSDR || string(req.data) != string(want) {
		t.Errorf("expected Get SDR %x, got %x", want, req.data)
	}

	rec := sdr.ThresholdTemplate(0x0005, sdr.KindFan, 0x30, "FAN1").Encode()
	s.HandleResponse(ipmi.CompletionOK, recordResponse(0x0009, rec))
	want = []byte{0x34, 0x12, 0x09, 0x00, 0x00, sdr.FullChunk}
	if req := ft.last(); string(req.data) != string(want) {
		t.Errorf("expected Get SDR %x, got %x", want, req.data)
	}
}

func TestSession_ChunkShrink(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger()})
	s.Start()
	s.HandleResponse(ipmi.CompletionOK, reservation(1))

	for _, want := range []int{33, 16, 8} {
		s.HandleResponse(ipmi.CompletionCannotReturnBytes, nil)
		if s.State() != StateWalk {
			t.Fatalf("chunk %d: expected walk state, got %s", want, s.State())
		}
		if s.Chunk() != want {
			t.Errorf("expected chunk %d, got %d", want, s.Chunk())
		}
		req := ft.last()
		if int(req.data[5]) != want || req.data[4] != 0 {
			t.Errorf("chunk %d: unexpected request %x", want, req.data)
		}
	}

	// 8 halves to 4, below the minimum
	s.HandleResponse(ipmi.CompletionCannotReturnBytes, nil)
	if s.State() != StateDiscoveryFailed {
		t.Fatalf("expected discovery failure, got %s", s.State())
	}
	if !errors.Is(s.Err(), ErrBuffersTooSmall) {
		t.Errorf("expected ErrBuffersTooSmall, got %v", s.Err())
	}
}

func TestSession_ShrinkRestartsCurrentRecord(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger()})
	s.Start()
	s.HandleResponse(ipmi.CompletionOK, reservation(1))

	rec := sdr.ThresholdTemplate(0x0001, sdr.KindFan, 0x30, "FAN1").Encode()
	s.HandleResponse(ipmi.CompletionOK, recordResponse(0x0002, rec))
	s.HandleResponse(ipmi.CompletionCannotReturnBytes, nil)

	req := ft.last()
	if id := binary.LittleEndian.Uint16(req.data[2:]); id != 0x0002 {
		t.Errorf("expected record 0x0002 to be requested again, got 0x%04x", id)
	}
	if req.data[4] != 0 || req.data[5] != 33 {
		t.Errorf("expected offset 0 count 33, got %x", req.data)
	}
}

func TestSession_EmptyFragmentEndsWalk(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger(), InitialChunk: 16})
	s.Start()
	s.HandleResponse(ipmi.CompletionOK, reservation(1))

	rec := thermometer().Encode()
	s.HandleResponse(ipmi.CompletionOK, recordResponse(sdr.EndOfRepository, rec[:16]))
	if !s.Partial() {
		t.Fatal("expected a partial record")
	}
	sent := len(ft.sent)

	s.HandleResponse(ipmi.CompletionOK, recordResponse(sdr.EndOfRepository, nil))
	if s.State() != StateDiscoveryFailed {
		t.Fatalf("expected discovery failure, got %s", s.State())
	}
	if !errors.Is(s.Err(), sdr.ErrShortRecord) {
		t.Errorf("expected ErrShortRecord, got %v", s.Err())
	}
	if len(ft.sent) != sent {
		t.Errorf("expected no further requests, got %d", len(ft.sent)-sent)
	}
}

func TestSession_CancelStorm(t *testing.T) {
	tests := []struct {
		name    string
		cancels int
		want    State
	}{
		{"at limit", MaxCancellations, StateDiscovered},
		{"over limit", MaxCancellations + 1, StateDiscoveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			s := NewSession(ft, SessionConfig{Logger: quietLogger()})
			s.Start()
			s.HandleResponse(ipmi.CompletionOK, reservation(1))

			for i := 0; i < tt.cancels && s.State() == StateWalk; i++ {
				s.HandleResponse(ipmi.CompletionInvalidReservation, nil)
				if s.State() != StateUncancel {
					break
				}
				if req := ft.last(); req.cmd != ipmi.CmdReserveSDR {
					t.Fatalf("expected reserve request, got %+v", req)
				}
				s.HandleResponse(ipmi.CompletionOK, reservation(uint16(i+2)))
			}

			if s.State() == StateWalk {
				s.HandleResponse(ipmi.CompletionOK, recordResponse(sdr.EndOfRepository, thermometer().Encode()))
			}
			if s.State() != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, s.State(), s.Err())
			}
			if tt.want == StateDiscoveryFailed && !errors.Is(s.Err(), ErrTooManyCancellations) {
				t.Errorf("expected ErrTooManyCancellations, got %v", s.Err())
			}
		})
	}
}

func TestSession_ReservesAfterCancel(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger(), InitialChunk: 16})
	s.Start()
	s.HandleResponse(ipmi.CompletionOK, reservation(1))

	rec := sdr.ThresholdTemplate(0x0003, sdr.KindFan, 0x30, "FAN1").Encode()
	s.HandleResponse(ipmi.CompletionOK, recordResponse(sdr.EndOfRepository, rec[:16]))
	if !s.Partial() {
		t.Fatal("expected a partial record")
	}

	s.HandleResponse(ipmi.CompletionInvalidReservation, nil)
	if s.Partial() {
		t.Error("partial record survived a cancelled reservation")
	}
	s.HandleResponse(ipmi.CompletionOK, reservation(7))

	req := ft.last()
	if binary.LittleEndian.Uint16(req.data) != 7 {
		t.Errorf("expected new reservation 7, got %x", req.data[:2])
	}
	if req.data[4] != 0 {
		t.Errorf("expected the record to restart at offset 0, got %d", req.data[4])
	}
	if s.Cancellations() != 1 {
		t.Errorf("expected 1 cancellation, got %d", s.Cancellations())
	}
}

func TestSession_WalkWithFaults(t *testing.T) {
	tests := []struct {
		name string
		opts sim.Options
	}{
		{"clean", sim.Options{}},
		{"small buffers", sim.Options{MaxChunk: 16}},
		{"tiny buffers", sim.Options{MaxChunk: 8}},
		{"cancellations", sim.Options{CancelEvery: 5}},
		{"both", sim.Options{MaxChunk: 20, CancelEvery: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sim.Demo(tt.opts)
			ft := newFakeTransport()
			calls := 0
			s := NewSession(ft, SessionConfig{
				Logger:       quietLogger(),
				OnDiscovered: func([]sdr.Descriptor) { calls++ },
			})
			s.Start()
			drive(t, s, ft, b)

			if s.State() != StateDiscovered {
				t.Fatalf("expected discovered, got %s (%v)", s.State(), s.Err())
			}
			if calls != 1 {
				t.Errorf("expected one discovery callback, got %d", calls)
			}

			sensors := s.Sensors()
			names := make([]string, len(sensors))
			for i, d := range sensors {
				names[i] = d.Name
			}
			want := []string{"temp1", "temp2", "temp3", "in1", "in2", "in3", "curr1", "fan1", "fan2", "fan3"}
			if len(names) != len(want) {
				t.Fatalf("expected %v, got %v", want, names)
			}
			for i := range want {
				if names[i] != want[i] {
					t.Errorf("sensor %d: expected %s, got %s", i, want[i], names[i])
				}
			}
			if got := s.Sensor(sdr.KindVoltage, 2).ID; got != "5VSB" {
				t.Errorf("expected packed identifier 5VSB, got %q", got)
			}
		})
	}
}

func TestSession_NoSensors(t *testing.T) {
	b := sim.New(sim.Options{})
	b.AddRecord([]byte{0x01, 0x00, 0x51, 0x12, 0x06, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00})

	ft := newFakeTransport()
	var got [][]sdr.Descriptor
	s := NewSession(ft, SessionConfig{
		Logger:       quietLogger(),
		OnDiscovered: func(d []sdr.Descriptor) { got = append(got, d) },
	})
	s.Start()
	drive(t, s, ft, b)

	if s.State() != StateDiscoveryFailed {
		t.Fatalf("expected discovery failure, got %s", s.State())
	}
	if !errors.Is(s.Err(), ErrNoSensors) {
		t.Errorf("expected ErrNoSensors, got %v", s.Err())
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Errorf("expected one callback with an empty list, got %v", got)
	}
	if _, err := s.StartReading(); !errors.Is(err, ErrNoSensors) {
		t.Errorf("StartReading: expected ErrNoSensors, got %v", err)
	}
}

func TestSession_Capacity(t *testing.T) {
	t.Run("total", func(t *testing.T) {
		b := sim.New(sim.Options{})
		id := uint16(1)
		for _, kind := range []sdr.Kind{sdr.KindTemperature, sdr.KindVoltage, sdr.KindFan} {
			for i := 0; i < sdr.MaxPerKind; i++ {
				b.AddSensor(sdr.ThresholdTemplate(id, kind, uint8(id), "S"), 1)
				id++
			}
		}

		ft := newFakeTransport()
		s := NewSession(ft, SessionConfig{Logger: quietLogger()})
		s.Start()
		drive(t, s, ft, b)

		if s.State() != StateDiscovered {
			t.Fatalf("expected discovered, got %s (%v)", s.State(), s.Err())
		}
		if n := len(s.Sensors()); n != sdr.MaxSensors {
			t.Errorf("expected %d sensors, got %d", sdr.MaxSensors, n)
		}
		// the walk stops at the first rejected record: reserve + 51 records
		if len(ft.sent) != 1+sdr.MaxSensors+1 {
			t.Errorf("expected %d requests, got %d", 1+sdr.MaxSensors+1, len(ft.sent))
		}
	})

	t.Run("per kind", func(t *testing.T) {
		b := sim.New(sim.Options{})
		for i := 0; i < sdr.MaxPerKind+5; i++ {
			b.AddSensor(sdr.ThresholdTemplate(uint16(i+1), sdr.KindTemperature, uint8(i), "T"), 1)
		}
		b.AddSensor(sdr.ThresholdTemplate(0x0100, sdr.KindFan, 0x80, "FAN"), 1)

		ft := newFakeTransport()
		s := NewSession(ft, SessionConfig{Logger: quietLogger()})
		s.Start()
		drive(t, s, ft, b)

		if s.State() != StateDiscovered {
			t.Fatalf("expected discovered, got %s", s.State())
		}
		sensors := s.Sensors()
		if len(sensors) != sdr.MaxPerKind+1 {
			t.Fatalf("expected %d sensors, got %d", sdr.MaxPerKind+1, len(sensors))
		}
		if last := sensors[len(sensors)-1]; last.Kind != sdr.KindFan {
			t.Errorf("expected the fan after the skipped temperatures, got %s", last.Name)
		}
	})
}

func TestSession_FatalCompletion(t *testing.T) {
	ft := newFakeTransport()
	var doneStates []State
	s := NewSession(ft, SessionConfig{
		Logger: quietLogger(),
		OnDone: func(st State, _ error) { doneStates = append(doneStates, st) },
	})
	s.Start()
	s.HandleResponse(ipmi.CompletionInvalidCommand, nil)

	if s.State() != StateDiscoveryFailed {
		t.Fatalf("expected discovery failure, got %s", s.State())
	}
	var ce *CompletionError
	if !errors.As(s.Err(), &ce) || ce.Code != ipmi.CompletionInvalidCommand || ce.Cmd != ipmi.CmdReserveSDR {
		t.Errorf("unexpected error %v", s.Err())
	}

	// a late response must not disturb the terminal state
	s.HandleResponse(ipmi.CompletionOK, reservation(3))
	if s.State() != StateDiscoveryFailed {
		t.Errorf("late response moved state to %s", s.State())
	}
	if len(doneStates) != 1 {
		t.Errorf("expected one completion, got %v", doneStates)
	}
}

func TestSession_CannotReturnBytesOutsideWalk(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger()})
	s.Start()
	s.HandleResponse(ipmi.CompletionCannotReturnBytes, nil)

	if s.State() != StateDiscoveryFailed {
		t.Fatalf("expected discovery failure, got %s", s.State())
	}
}

func TestSession_StartErrors(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger()})

	if _, err := s.StartReading(); !errors.Is(err, ErrNotDiscovered) {
		t.Errorf("expected ErrNotDiscovered, got %v", err)
	}
	s.Start()
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	broken := newFakeTransport()
	broken.err = errors.New("line down")
	s = NewSession(broken, SessionConfig{Logger: quietLogger()})
	if err := s.Start(); err == nil {
		t.Error("expected send error")
	}
	if s.State() != StateDiscoveryFailed {
		t.Errorf("expected discovery failure, got %s", s.State())
	}
}

// ============================================================
// Reading Tests
// ============================================================

func discoveredSession(t *testing.T, b *sim.BMC, cfg SessionConfig) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	cfg.Logger = quietLogger()
	s := NewSession(ft, cfg)
	s.Start()
	drive(t, s, ft, b)
	if s.State() != StateDiscovered {
		t.Fatalf("discovery failed: %v", s.Err())
	}
	return s, ft
}

func TestSession_ReadingCycle(t *testing.T) {
	b := sim.Demo(sim.Options{})
	now := time.Unix(1700000000, 0)
	s, ft := discoveredSession(t, b, SessionConfig{Now: func() time.Time { return now }})

	started, err := s.StartReading()
	if !started || err != nil {
		t.Fatalf("StartReading: %v, %v", started, err)
	}
	if again, err := s.StartReading(); again || err != nil {
		t.Errorf("second StartReading: expected (false, nil), got (%v, %v)", again, err)
	}
	drive(t, s, ft, b)

	if s.State() != StateReadDone {
		t.Fatalf("expected read-done, got %s (%v)", s.State(), s.Err())
	}
	if !s.LastRead().Equal(now) {
		t.Errorf("expected last read %v, got %v", now, s.LastRead())
	}

	tests := []struct {
		kind  sdr.Kind
		index int
		raw   uint8
	}{
		{sdr.KindTemperature, 0, 45},
		{sdr.KindTemperature, 2, 24},
		{sdr.KindVoltage, 1, 190},
		{sdr.KindCurrent, 0, 64},
		{sdr.KindFan, 2, 80},
	}
	for _, tt := range tests {
		d := s.Sensor(tt.kind, tt.index)
		if d == nil {
			t.Errorf("%s %d: missing", tt.kind, tt.index)
			continue
		}
		if !d.Valid || d.Reading != tt.raw {
			t.Errorf("%s: expected reading %d, got %d (valid %v)", d.Name, tt.raw, d.Reading, d.Valid)
		}
	}

	v := sdr.Scale(s.Sensor(sdr.KindTemperature, 0))
	if v.Upper() != 90 || v.Lower() != 88 || v.Reading() != 45 {
		t.Errorf("cpu temp: unexpected values %v", v.Elements)
	}
}

func TestSession_ReadFailure(t *testing.T) {
	b := sim.Demo(sim.Options{ReadingCompletion: ipmi.CompletionNodeBusy})
	s, ft := discoveredSession(t, b, SessionConfig{})

	s.StartReading()
	drive(t, s, ft, b)

	if s.State() != StateReadFailed {
		t.Fatalf("expected read-failed, got %s", s.State())
	}
	var ce *CompletionError
	if !errors.As(s.ReadErr(), &ce) || ce.Code != ipmi.CompletionNodeBusy {
		t.Errorf("unexpected read error %v", s.ReadErr())
	}
	if s.DiscoveryErr() != nil {
		t.Errorf("discovery error set by reading failure: %v", s.DiscoveryErr())
	}
	if len(s.Sensors()) != 10 {
		t.Errorf("descriptors lost after read failure: %d", len(s.Sensors()))
	}

	// a new cycle may start after a failed one
	if started, err := s.StartReading(); !started || err != nil {
		t.Errorf("restart: %v, %v", started, err)
	}
}

func TestSession_Overdue(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ft := newFakeTransport()
	s := NewSession(ft, SessionConfig{Logger: quietLogger(), Now: func() time.Time { return now }})
	s.Start()

	if s.Overdue(time.Second) {
		t.Error("fresh request reported overdue")
	}
	now = now.Add(2 * time.Second)
	if !s.Overdue(time.Second) {
		t.Fatal("expected overdue request")
	}

	s.Abort(ErrResponseTimeout)
	if s.State() != StateDiscoveryFailed || !errors.Is(s.Err(), ErrResponseTimeout) {
		t.Errorf("expected timeout failure, got %s (%v)", s.State(), s.Err())
	}
	if s.Overdue(time.Second) {
		t.Error("terminal session reported overdue")
	}
}
