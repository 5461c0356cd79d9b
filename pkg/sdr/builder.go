// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import "encoding/binary"

// RecordTemplate describes a sensor record to encode. It is the inverse of
// DecodeRecord and backs the simulator repository and tests.
type RecordTemplate struct {
	RecordID      uint16
	Compact       bool
	Kind          Kind
	Number        uint8
	Capabilities  uint8
	EventType     uint8
	ThresholdMask uint16
	Format        uint8
	Linearization uint8
	M             int16
	B             int16
	ExpB          int8 // -8..7
	ExpResult     int8 // -8..7
	Nominal       uint8
	Limits        [NumLimits]uint8
	IDEncoding    IDEncoding
	ID            []byte
}

// Encode returns the record bytes (header + body)
func (t RecordTemplate) Encode() []byte {
	id := t.ID
	if len(id) > 0x1f {
		id = id[:0x1f]
	}

	idOff := offFullID
	rtype := uint8(RecordTypeFull)
	if t.Compact {
		idOff = offCompactID
		rtype = RecordTypeCompact
	}

	rec := make([]byte, idOff+1+len(id))
	binary.LittleEndian.PutUint16(rec[offRecordID:], t.RecordID)
	rec[offVersion] = 0x51
	rec[offRecordType] = rtype
	rec[offBodyLength] = uint8(len(rec) - headerLength)
	rec[offSensorNumber] = t.Number
	rec[offCapabilities] = t.Capabilities
	rec[offSensorKind] = uint8(t.Kind)
	rec[offEventType] = t.EventType
	binary.LittleEndian.PutUint16(rec[offMask:], t.ThresholdMask)

	if !t.Compact {
		rec[offUnits] = t.Format << 6
		rec[offLinear] = t.Linearization & 0x7f
		rec[offM], rec[offMHigh] = split10(t.M)
		rec[offB], rec[offBHigh] = split10(t.B)
		rec[offExponents] = nibble(t.ExpResult)<<4 | nibble(t.ExpB)
		rec[offNominal] = t.Nominal
		copy(rec[offLimits:], t.Limits[:])
	}

	rec[idOff] = uint8(t.IDEncoding&0x03)<<6 | uint8(len(id))
	copy(rec[idOff+1:], id)
	return rec
}

// ThresholdTemplate returns a full threshold-sensor template with a
// plain ASCII identifier.
func ThresholdTemplate(id uint16, kind Kind, number uint8, name string) RecordTemplate {
	return RecordTemplate{
		RecordID:   id,
		Kind:       kind,
		Number:     number,
		EventType:  EventTypeThreshold,
		M:          1,
		IDEncoding: IDPlainASCII,
		ID:         []byte(name),
	}
}

func split10(v int16) (lo, hi uint8) {
	u := uint16(v) & 0x03ff
	return uint8(u), uint8(u>>8) << 6
}

func nibble(v int8) uint8 {
	return uint8(v) & 0x0f
}
