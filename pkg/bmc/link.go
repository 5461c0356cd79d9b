// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmc

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
)

// Transport carries requests to the BMC and delivers its responses.
// Send returns the sequence number the response will echo.
type Transport interface {
	Send(netFn, cmd uint8, data []byte) (uint8, error)
	Responses() <-chan *ipmi.Message
}

// LinkStats counts traffic through the single-request link
type LinkStats struct {
	Requests  uint64
	Responses uint64
	Dropped   uint64 // responses not matching the outstanding request
}

type outstanding struct {
	netFn uint8
	cmd   uint8
	seq   uint8
	sent  time.Time
}

// link allows exactly one outstanding request
type link struct {
	t        Transport
	inflight *outstanding
	stats    LinkStats
	log      *logrus.Entry
	now      func() time.Time
}

func newLink(t Transport, log *logrus.Entry, now func() time.Time) *link {
	return &link{t: t, log: log, now: now}
}

// send issues a request, or fails with ErrRequestInFlight while one is pending
func (l *link) send(netFn, cmd uint8, data []byte) error {
	if l.inflight != nil {
		return ErrRequestInFlight
	}

	seq, err := l.t.Send(netFn, cmd, data)
	if err != nil {
		return err
	}
	l.inflight = &outstanding{netFn: netFn, cmd: cmd, seq: seq, sent: l.now()}
	l.stats.Requests++

	l.log.WithFields(logrus.Fields{
		"cmd": ipmi.FormatCommand(netFn, cmd),
		"seq": seq,
	}).Trace("request sent")
	return nil
}

// matches reports whether m answers the outstanding request. Mismatches
// are counted and dropped.
func (l *link) matches(m *ipmi.Message) bool {
	p := l.inflight
	if p != nil && m.IsResponse() && m.RequestNetFn() == p.netFn && m.Cmd() == p.cmd && m.Seq() == p.seq {
		return true
	}

	l.stats.Dropped++
	l.log.WithFields(logrus.Fields{
		"cmd": ipmi.FormatCommand(m.NetFn(), m.Cmd()),
		"seq": m.Seq(),
	}).Debug("dropping unexpected response")
	return false
}

// complete clears the outstanding request
func (l *link) complete() {
	if l.inflight != nil {
		l.stats.Responses++
	}
	l.inflight = nil
}

// abandon forgets the outstanding request without counting a response
func (l *link) abandon() {
	l.inflight = nil
}

func (l *link) busy() bool {
	return l.inflight != nil
}

// overdue reports whether the outstanding request has waited longer than timeout
func (l *link) overdue(timeout time.Duration) bool {
	return l.inflight != nil && timeout > 0 && l.now().Sub(l.inflight.sent) > timeout
}
