// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ipmi

import "time"

// Message represents a decoded IPMI request or response.
// Responses carry an odd network function and a completion code.
type Message struct {
	dstAddr    uint8
	dstLUN     uint8
	srcAddr    uint8
	srcLUN     uint8
	netFn      uint8
	seq        uint8
	cmd        uint8
	completion uint8
	data       []byte
	timestamp  time.Time
}

// NewRequest creates a request from the software address to the BMC
func NewRequest(netFn, seq, cmd uint8, data []byte) *Message {
	return &Message{
		dstAddr:   BMCAddress,
		srcAddr:   SoftwareAddress,
		netFn:     netFn &^ 0x01,
		seq:       seq & SeqMask,
		cmd:       cmd,
		data:      data,
		timestamp: time.Now(),
	}
}

// NewResponse creates the response to req with the given completion code
func NewResponse(req *Message, completion uint8, data []byte) *Message {
	return &Message{
		dstAddr:    req.srcAddr,
		dstLUN:     req.srcLUN,
		srcAddr:    req.dstAddr,
		srcLUN:     req.dstLUN,
		netFn:      req.netFn | 0x01,
		seq:        req.seq,
		cmd:        req.cmd,
		completion: completion,
		data:       data,
		timestamp:  time.Now(),
	}
}

// WithAddresses overrides the destination and source slave addresses
func (m *Message) WithAddresses(dst, src uint8) *Message {
	m.dstAddr = dst
	m.srcAddr = src
	return m
}

// DstAddr returns the destination slave address
func (m *Message) DstAddr() uint8 {
	return m.dstAddr
}

// SrcAddr returns the source slave address
func (m *Message) SrcAddr() uint8 {
	return m.srcAddr
}

// NetFn returns the network function (odd for responses)
func (m *Message) NetFn() uint8 {
	return m.netFn
}

// RequestNetFn returns the network function with the response bit cleared
func (m *Message) RequestNetFn() uint8 {
	return m.netFn &^ 0x01
}

// IsResponse reports whether the message is a response
func (m *Message) IsResponse() bool {
	return m.netFn&0x01 != 0
}

// Seq returns the requester sequence number
func (m *Message) Seq() uint8 {
	return m.seq
}

// Cmd returns the command code
func (m *Message) Cmd() uint8 {
	return m.cmd
}

// Completion returns the completion code of a response
func (m *Message) Completion() uint8 {
	return m.completion
}

// Data returns the message data, excluding the completion code
func (m *Message) Data() []byte {
	return m.data
}

// Timestamp returns when the message was created or decoded
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}
