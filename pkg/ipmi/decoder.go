// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ipmi

import (
	"errors"
	"fmt"
	"time"
)

// Decoder errors
var (
	ErrChecksum = errors.New("checksum mismatch")
	ErrFraming  = errors.New("framing error")
)

// Decoder states
const (
	stateIdle = iota
	stateBody
)

// Decoder implements the basic-mode frame decoder state machine
type Decoder struct {
	state      int
	buffer     []byte
	escapeNext bool
	rawBuffer  []byte // raw bytes including framing
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxMessageSize),
		rawBuffer: make([]byte, 0, MaxMessageSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last message
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed message, or nil if the frame is incomplete.
// Returns an error if decoding fails.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	switch b {
	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateBody
		return nil, nil

	case HandshakeByte:
		// flow control, never part of a message
		return nil, nil

	case StopByte:
		if d.state != stateBody {
			d.Reset()
			return nil, fmt.Errorf("%w: stop byte outside a frame", ErrFraming)
		}
		d.rawBuffer = append(d.rawBuffer, b)
		if d.escapeNext {
			d.Reset()
			return nil, fmt.Errorf("%w: stop byte after escape", ErrFraming)
		}
		msg, err := ParseBody(d.buffer)
		d.state = stateIdle
		d.buffer = d.buffer[:0]
		return msg, err
	}

	if d.state == stateIdle {
		// noise between frames
		return nil, nil
	}

	d.rawBuffer = append(d.rawBuffer, b)

	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}
	if d.escapeNext {
		u, ok := unescapes[b]
		d.escapeNext = false
		if !ok {
			d.Reset()
			return nil, fmt.Errorf("%w: invalid escape 0x%02X", ErrFraming, b)
		}
		b = u
	}

	if len(d.buffer) >= MaxMessageSize {
		d.Reset()
		return nil, fmt.Errorf("buffer overflow: message exceeds %d bytes", MaxMessageSize)
	}
	d.buffer = append(d.buffer, b)
	return nil, nil
}

// ParseBody parses an unescaped message body and validates both checksums
func ParseBody(body []byte) (*Message, error) {
	if len(body) < minRequestSize {
		return nil, fmt.Errorf("message too short: %d bytes", len(body))
	}
	if !validChecksum(body[:3]) {
		return nil, fmt.Errorf("%w: header 0x%02X, expected 0x%02X", ErrChecksum, body[2], Checksum(body[:2]))
	}
	if !validChecksum(body[3:]) {
		last := len(body) - 1
		return nil, fmt.Errorf("%w: body 0x%02X, expected 0x%02X", ErrChecksum, body[last], Checksum(body[3:last]))
	}

	m := &Message{
		dstAddr:   body[0],
		netFn:     body[1] >> 2,
		dstLUN:    body[1] & 0x03,
		srcAddr:   body[3],
		seq:       body[4] >> 2,
		srcLUN:    body[4] & 0x03,
		cmd:       body[5],
		timestamp: time.Now(),
	}

	payload := body[6 : len(body)-1]
	if m.IsResponse() {
		if len(body) < minResponse {
			return nil, fmt.Errorf("response too short: %d bytes", len(body))
		}
		m.completion = payload[0]
		payload = payload[1:]
	}
	m.data = append([]byte(nil), payload...)
	return m, nil
}
