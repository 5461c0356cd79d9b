// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
)

// ErrTransportClosed is returned by Send after Close
var ErrTransportClosed = errors.New("sim: transport closed")

// Transport connects a client to a BMC in-process. Every Send is answered
// immediately on the Responses channel.
type Transport struct {
	bmc *BMC

	mu        sync.Mutex
	seq       uint8
	muted     bool
	closed    bool
	responses chan *ipmi.Message
}

// Transport returns a new in-process link to b
func (b *BMC) Transport() *Transport {
	return &Transport{bmc: b, responses: make(chan *ipmi.Message, 16)}
}

// Send hands the request to the BMC and queues its response
func (t *Transport) Send(netFn, cmd uint8, data []byte) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrTransportClosed
	}

	seq := t.seq
	t.seq = (t.seq + 1) & ipmi.SeqMask
	if t.muted {
		return seq, nil
	}

	req := ipmi.NewRequest(netFn, seq, cmd, append([]byte(nil), data...))
	cc, resp := t.bmc.Handle(netFn, cmd, data)
	select {
	case t.responses <- ipmi.NewResponse(req, cc, resp):
	default:
		t.bmc.log.Warn("response queue full, dropping response")
	}
	return seq, nil
}

// Inject queues an arbitrary message, as a noisy line would deliver it
func (t *Transport) Inject(m *ipmi.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.responses <- m
	}
}

// SetMuted makes the BMC stop answering
func (t *Transport) SetMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
}

// Responses returns the response channel
func (t *Transport) Responses() <-chan *ipmi.Message {
	return t.responses
}

// Close closes the response channel
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.responses)
	}
	return nil
}

// Serve answers framed requests read from rw until ctx is cancelled or the
// stream fails. Frames that are not requests to the BMC address are ignored.
func (b *BMC) Serve(ctx context.Context, rw io.ReadWriter) error {
	decoder := ipmi.NewDecoder()
	buf := make([]byte, 256)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := rw.Read(buf)
		for i := 0; i < n; i++ {
			req, err := decoder.DecodeByte(buf[i])
			if err != nil {
				b.log.WithError(err).Debug("bad frame")
				continue
			}
			if req == nil || req.IsResponse() || req.DstAddr() != ipmi.BMCAddress {
				continue
			}

			cc, data := b.Handle(req.NetFn(), req.Cmd(), req.Data())
			frame, err := ipmi.Encode(ipmi.NewResponse(req, cc, data))
			if err != nil {
				b.log.WithError(err).Warn("cannot encode response")
				continue
			}
			b.log.WithFields(logrus.Fields{
				"cmd": ipmi.FormatCommand(req.NetFn(), req.Cmd()),
				"cc":  cc,
			}).Trace("answered")
			if _, err := rw.Write(frame); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
