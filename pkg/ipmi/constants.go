// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ipmi implements the IPMI serial basic-mode message format.
//
// A basic-mode frame carries one IPMB-style message between a start and a
// stop byte, with framing bytes escaped inside the frame. This package
// provides message encoding/decoding, checksum validation, a request
// sequencing connection over any byte stream and human-readable formatting.
package ipmi

// Framing bytes
const (
	StartByte     = 0xA0
	StopByte      = 0xA5
	HandshakeByte = 0xA6
	EscByte       = 0xAA
)

// escapes maps a byte that needs escaping to the byte that follows EscByte
var escapes = map[byte]byte{
	0xA0: 0xB0,
	0xA5: 0xB5,
	0xAA: 0xBA,
	0xA6: 0xB6,
	0x1B: 0x3B, // ESC
}

// unescapes is the inverse of escapes
var unescapes = map[byte]byte{
	0xB0: 0xA0,
	0xB5: 0xA5,
	0xBA: 0xAA,
	0xB6: 0xA6,
	0x3B: 0x1B,
}

// Message size limits (unescaped, without framing)
const (
	MaxMessageSize = 128
	minRequestSize = 7 // addr, netfn/lun, chk1, addr, seq/lun, cmd, chk2
	minResponse    = 8 // request layout plus the completion code
)

// Default slave addresses
const (
	BMCAddress      = 0x20
	SoftwareAddress = 0x81
)

// Network functions (request values; responses are odd)
const (
	NetFnSensor  = 0x04
	NetFnApp     = 0x06
	NetFnStorage = 0x0A
)

// Commands
const (
	CmdGetDeviceID      = 0x01 // NetFnApp
	CmdGetSensorReading = 0x2D // NetFnSensor
	CmdReserveSDR       = 0x22 // NetFnStorage
	CmdGetSDR           = 0x23 // NetFnStorage
)

// Completion codes
const (
	CompletionOK                 = 0x00
	CompletionNodeBusy           = 0xC0
	CompletionInvalidCommand     = 0xC1
	CompletionTimeout            = 0xC3
	CompletionOutOfSpace         = 0xC4
	CompletionInvalidReservation = 0xC5
	CompletionDataTruncated      = 0xC6
	CompletionInvalidLength      = 0xC7
	CompletionLengthExceeded     = 0xC8
	CompletionParamOutOfRange    = 0xC9
	CompletionCannotReturnBytes  = 0xCA
	CompletionNotPresent         = 0xCB
	CompletionInvalidField       = 0xCC
	CompletionUnspecified        = 0xFF
)

// SeqMask bounds request sequence numbers to 6 bits
const SeqMask = 0x3F
