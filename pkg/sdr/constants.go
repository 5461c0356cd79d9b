// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sdr decodes IPMI Sensor Data Repository records.
//
// It holds the pure helpers used while walking a BMC's repository: the
// record codec for full and compact sensor records, identifier string
// decoding, threshold selection, the linear value converter, the fragment
// reassembler for chunked Get SDR transfers and the capacity-bounded
// sensor table. Nothing in this package performs I/O.
package sdr

// Record types
const (
	RecordTypeFull    = 0x01
	RecordTypeCompact = 0x02
)

// Event/reading type code of a threshold sensor
const EventTypeThreshold = 0x01

// EndOfRepository is the next-record id that terminates a walk
const EndOfRepository = 0xFFFF

// Capacity limits
const (
	MaxSensors  = 50
	MaxPerKind  = 20
	MaxIDLength = 16

	// maxUnpackedIDLength is the longest identifier a 6-bit packed field can expand to
	maxUnpackedIDLength = MaxIDLength*4/3 + 2
)

// Get SDR transfer sizes
const (
	// FullChunk is the initial bytes-to-read; it covers the largest sensor record
	FullChunk = 67
	// MinChunk is the smallest chunk size tried before giving up
	MinChunk = 8
)

// Record header and sensor body offsets, relative to the record id
const (
	offRecordID     = 0
	offVersion      = 2
	offRecordType   = 3
	offBodyLength   = 4
	offSensorNumber = 7
	offCapabilities = 11
	offSensorKind   = 12
	offEventType    = 13
	offMask         = 18

	// full record only
	offUnits     = 21
	offLinear    = 23
	offM         = 24
	offMHigh     = 25
	offB         = 26
	offBHigh     = 27
	offExponents = 29
	offNominal   = 31
	offLimits    = 36
	offFullID    = 47

	// compact record only
	offCompactID = 31

	headerLength = 5
)

// Reading format tags (units byte, bits 7:6) that degrade conversion
const (
	FormatOnesComplement = 0x02
	FormatThresholdOnly  = 0x03
)

// NumLimits is the number of threshold slots in a full record
const NumLimits = 8
