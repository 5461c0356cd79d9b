// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bmc discovers and polls the threshold sensors of an IPMI BMC.
//
// A Session is the protocol state machine: it reserves the sensor data
// repository, walks its records (reassembling chunked records and
// re-reserving when a reservation is cancelled), then polls one reading
// per discovered sensor on demand. A Session is not safe for concurrent
// use; Client owns one from a single goroutine and offers blocking calls.
package bmc

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// MaxCancellations bounds reservation-cancelled retries over a whole walk
const MaxCancellations = 275

// SessionConfig tunes a Session. Zero values select the defaults.
type SessionConfig struct {
	InitialChunk     int
	MinChunk         int
	MaxCancellations int
	Logger           *logrus.Entry
	Now              func() time.Time

	// OnDiscovered receives the sensor list once the walk reaches the end
	// of the repository. An empty list means no sensor was recognized.
	OnDiscovered func([]sdr.Descriptor)
	// OnDone is called whenever a discovery or reading cycle ends
	OnDone func(State, error)
}

// Session is the discovery and reading state machine for one BMC
type Session struct {
	cfg  SessionConfig
	log  *logrus.Entry
	link *link

	state         State
	resid         uint16
	next          uint16 // record being fetched
	chunk         int
	cancellations int
	partial       *sdr.Reassembler
	table         *sdr.Table
	cursor        int
	lastRead      time.Time

	discoveryErr error
	readErr      error
}

// NewSession creates a session that sends through t
func NewSession(t Transport, cfg SessionConfig) *Session {
	if cfg.InitialChunk <= 0 {
		cfg.InitialChunk = sdr.FullChunk
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = sdr.MinChunk
	}
	if cfg.MaxCancellations <= 0 {
		cfg.MaxCancellations = MaxCancellations
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger.WithField("component", "bmc")

	return &Session{
		cfg:     cfg,
		log:     log,
		link:    newLink(t, log, cfg.Now),
		state:   StateInit,
		chunk:   cfg.InitialChunk,
		partial: sdr.NewReassembler(),
		table:   sdr.NewTable(),
	}
}

// State returns the current protocol state
func (s *Session) State() State {
	return s.state
}

// Err returns the error of the most recent failed cycle
func (s *Session) Err() error {
	if s.state == StateReadFailed {
		return s.readErr
	}
	return s.discoveryErr
}

// DiscoveryErr returns why discovery failed, or nil
func (s *Session) DiscoveryErr() error {
	return s.discoveryErr
}

// ReadErr returns why the last reading cycle failed, or nil
func (s *Session) ReadErr() error {
	return s.readErr
}

// Partial reports whether a chunked record is being reassembled
func (s *Session) Partial() bool {
	return s.state == StateWalk && s.partial.Active()
}

// Chunk returns the current Get SDR bytes-to-read
func (s *Session) Chunk() int {
	return s.chunk
}

// Reservation returns the current reservation id
func (s *Session) Reservation() uint16 {
	return s.resid
}

// Cancellations returns how many reservations were cancelled during the walk
func (s *Session) Cancellations() int {
	return s.cancellations
}

// LinkStats returns the request/response counters
func (s *Session) LinkStats() LinkStats {
	return s.link.stats
}

// LastRead returns when the last reading cycle completed
func (s *Session) LastRead() time.Time {
	return s.lastRead
}

// Sensors returns a copy of the discovered sensors in discovery order
func (s *Session) Sensors() []sdr.Descriptor {
	return s.table.Snapshot()
}

// Sensor returns the index-th sensor of kind, or nil
func (s *Session) Sensor(kind sdr.Kind, index int) *sdr.Descriptor {
	return s.table.ByKind(kind, index)
}

// Start begins discovery by reserving the repository
func (s *Session) Start() error {
	if s.state != StateInit {
		return ErrAlreadyStarted
	}
	s.log.Info("scanning for sensors")
	s.state = StateReserve
	if err := s.reserve(); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// StartReading begins a reading cycle. It returns false without error if a
// cycle is already running.
func (s *Session) StartReading() (bool, error) {
	switch s.state {
	case StateReading:
		return false, nil
	case StateDiscovered, StateReadDone, StateReadFailed:
	case StateDiscoveryFailed:
		return false, s.discoveryErr
	default:
		return false, ErrNotDiscovered
	}

	s.log.Debug("starting update")
	s.cursor = 0
	s.readErr = nil
	s.state = StateReading
	if err := s.requestReading(0); err != nil {
		s.fail(err)
		return false, err
	}
	return true, nil
}

// Deliver routes a response from the transport. Responses that do not
// answer the outstanding request are dropped.
func (s *Session) Deliver(m *ipmi.Message) {
	if !s.link.matches(m) {
		return
	}
	s.HandleResponse(m.Completion(), m.Data())
}

// HandleResponse processes the response to the outstanding request.
// data excludes the completion code.
func (s *Session) HandleResponse(cc uint8, data []byte) {
	netFn, cmd := s.outstandingCommand()
	s.link.complete()

	if !s.state.Active() {
		s.log.WithFields(logrus.Fields{"state": s.state, "cc": cc}).Warn("response with no cycle running")
		return
	}

	if s.state == StateWalk && cc == ipmi.CompletionInvalidReservation {
		s.cancelled()
		return
	}
	if cc != ipmi.CompletionOK && !(s.state == StateWalk && cc == ipmi.CompletionCannotReturnBytes) {
		s.fail(&CompletionError{NetFn: netFn, Cmd: cmd, Code: cc, State: s.state})
		return
	}

	switch s.state {
	case StateReserve:
		if !s.takeReservation(data) {
			return
		}
		s.state = StateWalk
		s.next = 0
		s.requestRecord(0, 0)

	case StateWalk:
		s.handleRecord(cc, data)

	case StateUncancel:
		if !s.takeReservation(data) {
			return
		}
		s.partial.Reset()
		s.state = StateWalk
		s.requestRecord(s.next, 0)

	case StateReading:
		s.handleReading(data)
	}
}

// Abort ends the running cycle with err, abandoning the outstanding request
func (s *Session) Abort(err error) {
	if !s.state.Active() {
		return
	}
	s.link.abandon()
	s.fail(err)
}

// Overdue reports whether the outstanding request has waited longer than timeout
func (s *Session) Overdue(timeout time.Duration) bool {
	return s.state.Active() && s.link.overdue(timeout)
}

func (s *Session) outstandingCommand() (uint8, uint8) {
	if p := s.link.inflight; p != nil {
		return p.netFn, p.cmd
	}
	return 0, 0
}

func (s *Session) takeReservation(data []byte) bool {
	if len(data) < 2 {
		s.fail(ErrShortResponse)
		return false
	}
	s.resid = binary.LittleEndian.Uint16(data)
	s.log.WithField("resid", s.resid).Debug("got reservation")
	return true
}

func (s *Session) cancelled() {
	s.cancellations++
	if s.cancellations > s.cfg.MaxCancellations {
		s.fail(ErrTooManyCancellations)
		return
	}
	s.log.WithField("resid", s.resid).Debug("reservation cancelled, getting new one")
	s.state = StateUncancel
	if err := s.reserve(); err != nil {
		s.fail(err)
	}
}

func (s *Session) handleRecord(cc uint8, data []byte) {
	if cc == ipmi.CompletionCannotReturnBytes {
		s.chunk /= 2
		if s.chunk < s.cfg.MinChunk {
			s.fail(ErrBuffersTooSmall)
			return
		}
		s.log.WithField("chunk", s.chunk).Debug("reducing SDR request size")
		s.partial.Reset()
		s.requestRecord(s.next, 0)
		return
	}

	var rec []byte
	var next uint16
	if s.chunk < sdr.FullChunk {
		done, err := s.partial.Feed(data)
		if err != nil {
			s.fail(err)
			return
		}
		if !done {
			s.requestRecord(s.partial.RecordID(), s.partial.NextOffset())
			return
		}
		rec, next = s.partial.Record(), s.partial.NextRecord()
	} else {
		if len(data) < 2 {
			s.fail(ErrShortResponse)
			return
		}
		rec, next = data[2:], binary.LittleEndian.Uint16(data)
	}

	next = s.collect(rec, next)
	s.partial.Reset()

	if next == sdr.EndOfRepository {
		s.finish()
		return
	}
	s.next = next
	s.requestRecord(next, 0)
}

// collect adds the record to the table if it describes a threshold sensor
// of a supported kind. It returns the next record to fetch, which is the
// end of the repository once the table is full.
func (s *Session) collect(rec []byte, next uint16) uint16 {
	log := s.log.WithField("record", sdr.RecordID(rec))

	kind, err := sdr.RecordKind(rec)
	if err != nil {
		log.WithError(err).Debug("skipping record")
		return next
	}

	if err := s.table.Admit(kind); err != nil {
		switch {
		case errors.Is(err, sdr.ErrTotalCapacity):
			log.Info(err)
			return sdr.EndOfRepository
		case errors.Is(err, sdr.ErrKindCapacity):
			log.Info(err)
		default:
			log.WithError(err).Debug("ignoring sensor")
		}
		return next
	}

	d, err := sdr.DecodeRecord(rec)
	if err != nil {
		if sdr.IsNonThreshold(err) {
			log.Info(err)
		} else {
			log.WithError(err).Warn("skipping record")
		}
		return next
	}

	if err := s.table.Append(d); err != nil {
		log.WithError(err).Warn("skipping record")
		return next
	}
	log.WithFields(logrus.Fields{"sensor": d.Name, "number": d.Number}).Debug("collected sensor")
	return next
}

func (s *Session) finish() {
	sensors := s.table.Snapshot()
	if len(sensors) == 0 {
		s.log.Info("no recognized sensors found")
		s.discoveryErr = ErrNoSensors
		if s.cfg.OnDiscovered != nil {
			s.cfg.OnDiscovered(sensors)
		}
		s.state = StateDiscoveryFailed
		s.notify()
		return
	}

	s.logRegistration()
	if s.cfg.OnDiscovered != nil {
		s.cfg.OnDiscovered(sensors)
	}
	s.state = StateDiscovered
	s.notify()
}

func (s *Session) logRegistration() {
	for i := 0; i < s.table.Len(); i++ {
		d := s.table.At(i)
		c := d.Conversion
		log := s.log.WithFields(logrus.Fields{"sensor": d.Name, "index": i})

		log.Infof("registering sensor %d: (type 0x%02x) (fmt=%d; m=%d; b=%d; k1=%d; k2=%d; cap=0x%02x; mask=0x%04x)",
			i, uint8(d.Kind), c.Format, c.M, c.B, c.ExpB, c.ExpResult, d.Capabilities, d.ThresholdMask)
		if d.ID != "" {
			log.Infof("label %s %q", d.Name, d.ID)
		}
		if d.Upper.Valid() {
			log.Infof("using %s for upper limit", d.Upper.Slot)
		} else {
			log.Debug("no readable upper limit")
		}
		if d.Lower.Valid() {
			log.Infof("using %s for lower limit", d.Lower.Slot)
		} else {
			log.Debug("no readable lower limit")
		}
		if reason := d.DegradedReason(); reason != "" {
			log.Warn(reason)
		}
	}

	s.log.Infof("%d reservations cancelled", s.cancellations)
	s.log.Infof("registered %d temp, %d volt, %d current, %d fan sensors",
		s.table.Count(sdr.KindTemperature), s.table.Count(sdr.KindVoltage),
		s.table.Count(sdr.KindCurrent), s.table.Count(sdr.KindFan))
}

func (s *Session) handleReading(data []byte) {
	if s.cursor >= s.table.Len() {
		s.cursor = 0
		s.completeReading()
		return
	}
	if len(data) < 1 {
		s.fail(ErrShortResponse)
		return
	}

	var status, thresholds uint8
	if len(data) > 1 {
		status = data[1]
	}
	if len(data) > 2 {
		thresholds = data[2]
	}
	d := s.table.At(s.cursor)
	d.SetReading(data[0], status, thresholds, s.cfg.Now())
	s.log.WithFields(logrus.Fields{"sensor": d.Name, "raw": data[0]}).Trace("reading")

	s.cursor++
	if s.cursor >= s.table.Len() {
		s.cursor = 0
		s.completeReading()
		return
	}
	if err := s.requestReading(s.cursor); err != nil {
		s.fail(err)
	}
}

func (s *Session) completeReading() {
	s.lastRead = s.cfg.Now()
	s.state = StateReadDone
	s.notify()
}

func (s *Session) fail(err error) {
	s.partial.Reset()
	entry := s.log.WithError(err).WithField("state", s.state)
	if s.state == StateReading {
		s.readErr = err
		s.state = StateReadFailed
		entry.Error("reading cycle failed")
	} else {
		s.discoveryErr = err
		s.state = StateDiscoveryFailed
		entry.Error("discovery failed")
	}
	s.notify()
}

func (s *Session) notify() {
	if s.cfg.OnDone != nil {
		s.cfg.OnDone(s.state, s.Err())
	}
}

func (s *Session) reserve() error {
	return s.link.send(ipmi.NetFnStorage, ipmi.CmdReserveSDR, nil)
}

func (s *Session) requestRecord(record uint16, offset uint8) {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:], s.resid)
	binary.LittleEndian.PutUint16(data[2:], record)
	data[4] = offset
	data[5] = uint8(s.chunk)

	s.log.WithFields(logrus.Fields{
		"resid":  s.resid,
		"record": record,
		"offset": offset,
	}).Trace("get sdr")
	if err := s.link.send(ipmi.NetFnStorage, ipmi.CmdGetSDR, data); err != nil {
		s.fail(err)
	}
}

func (s *Session) requestReading(i int) error {
	d := s.table.At(i)
	return s.link.send(ipmi.NetFnSensor, ipmi.CmdGetSensorReading, []byte{d.Number})
}
