// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim is a simulated BMC: a sensor data repository, live sensor
// readings and fault injection for the SDR walk. It answers requests
// in-process through Transport or as a serial basic-mode peer via Serve.
package sim

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Options configures fault injection. The zero value is a well-behaved BMC.
type Options struct {
	// MaxChunk answers Get SDR requests for more bytes with 0xCA
	MaxChunk int
	// CancelEvery cancels the reservation before every n-th Get SDR
	CancelEvery int
	// CancelLimit stops cancelling after this many cancellations (0 = no limit)
	CancelLimit int
	// ReadingCompletion answers every Get Sensor Reading with this code
	ReadingCompletion uint8
	// Jitter varies readings by up to ±Jitter counts on every read
	Jitter int
	Seed   int64
	Logger *logrus.Entry
}

type sensor struct {
	raw        uint8
	status     uint8
	thresholds uint8
}

// BMC is a simulated baseboard management controller. It is safe for
// concurrent use.
type BMC struct {
	mu      sync.Mutex
	opts    Options
	log     *logrus.Entry
	rng     *rand.Rand
	records [][]byte
	sensors map[uint8]*sensor

	resid         uint16
	getSDRs       int
	cancellations int
	requests      int
}

// New creates a BMC with an empty repository
func New(opts Options) *BMC {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BMC{
		opts:    opts,
		log:     opts.Logger.WithField("component", "sim"),
		rng:     rand.New(rand.NewSource(opts.Seed)),
		sensors: make(map[uint8]*sensor),
		resid:   0x0101,
	}
}

// AddRecord appends raw record bytes to the repository
func (b *BMC) AddRecord(rec []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, append([]byte(nil), rec...))
}

// AddSensor appends the record for t and gives its sensor an initial reading
func (b *BMC) AddSensor(t sdr.RecordTemplate, raw uint8) {
	b.AddRecord(t.Encode())
	b.SetReading(t.Number, raw, 0xC0, 0)
}

// SetReading sets the live reading of a sensor number
func (b *BMC) SetReading(number, raw, status, thresholds uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors[number] = &sensor{raw: raw, status: status, thresholds: thresholds}
}

// CancelReservation invalidates the current reservation, as a repository
// update would
func (b *BMC) CancelReservation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel()
}

// Cancellations returns how many reservations the BMC has cancelled
func (b *BMC) Cancellations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancellations
}

// Requests returns how many requests the BMC has answered
func (b *BMC) Requests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

// Handle answers one request with a completion code and response data
func (b *BMC) Handle(netFn, cmd uint8, data []byte) (uint8, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++

	switch {
	case netFn == ipmi.NetFnStorage && cmd == ipmi.CmdReserveSDR:
		return b.reserve()
	case netFn == ipmi.NetFnStorage && cmd == ipmi.CmdGetSDR:
		return b.getSDR(data)
	case netFn == ipmi.NetFnSensor && cmd == ipmi.CmdGetSensorReading:
		return b.reading(data)
	case netFn == ipmi.NetFnApp && cmd == ipmi.CmdGetDeviceID:
		return ipmi.CompletionOK, []byte{0x20, 0x01, 0x01, 0x00, 0x51, 0x0f}
	}

	b.log.WithField("cmd", ipmi.FormatCommand(netFn, cmd)).Debug("unsupported command")
	return ipmi.CompletionInvalidCommand, nil
}

func (b *BMC) reserve() (uint8, []byte) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, b.resid)
	return ipmi.CompletionOK, out
}

func (b *BMC) cancel() {
	b.resid++
	if b.resid == 0 {
		b.resid = 1
	}
	b.cancellations++
}

func (b *BMC) getSDR(data []byte) (uint8, []byte) {
	if len(data) < 6 {
		return ipmi.CompletionInvalidLength, nil
	}
	resid := binary.LittleEndian.Uint16(data[0:])
	id := binary.LittleEndian.Uint16(data[2:])
	offset := int(data[4])
	count := int(data[5])

	b.getSDRs++
	if b.opts.CancelEvery > 0 && b.getSDRs%b.opts.CancelEvery == 0 &&
		(b.opts.CancelLimit == 0 || b.cancellations < b.opts.CancelLimit) {
		b.cancel()
	}

	if resid != b.resid {
		return ipmi.CompletionInvalidReservation, nil
	}
	if b.opts.MaxChunk > 0 && count > b.opts.MaxChunk {
		return ipmi.CompletionCannotReturnBytes, nil
	}

	i := b.lookup(id)
	if i < 0 {
		return ipmi.CompletionNotPresent, nil
	}
	rec := b.records[i]
	if offset > len(rec) {
		return ipmi.CompletionParamOutOfRange, nil
	}

	next := uint16(sdr.EndOfRepository)
	if i+1 < len(b.records) {
		next = sdr.RecordID(b.records[i+1])
	}

	end := offset + count
	if end > len(rec) {
		end = len(rec)
	}
	out := make([]byte, 2, 2+end-offset)
	binary.LittleEndian.PutUint16(out, next)
	return ipmi.CompletionOK, append(out, rec[offset:end]...)
}

// lookup finds a record by id; id 0 is the first record
func (b *BMC) lookup(id uint16) int {
	if len(b.records) == 0 {
		return -1
	}
	if id == 0 {
		return 0
	}
	for i, rec := range b.records {
		if sdr.RecordID(rec) == id {
			return i
		}
	}
	return -1
}

func (b *BMC) reading(data []byte) (uint8, []byte) {
	if b.opts.ReadingCompletion != ipmi.CompletionOK {
		return b.opts.ReadingCompletion, nil
	}
	if len(data) < 1 {
		return ipmi.CompletionInvalidLength, nil
	}
	s, ok := b.sensors[data[0]]
	if !ok {
		return ipmi.CompletionNotPresent, nil
	}

	raw := s.raw
	if b.opts.Jitter > 0 {
		v := int(raw) + b.rng.Intn(2*b.opts.Jitter+1) - b.opts.Jitter
		if v < 0 {
			v = 0
		}
		if v > 0xff {
			v = 0xff
		}
		raw = uint8(v)
	}
	return ipmi.CompletionOK, []byte{raw, s.status, s.thresholds}
}
