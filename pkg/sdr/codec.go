// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RecordID returns the record id of a record or 0 if rec is too short
func RecordID(rec []byte) uint16 {
	if len(rec) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(rec[offRecordID:])
}

// RecordLength returns the total length (header + body) a record declares
func RecordLength(rec []byte) int {
	if len(rec) <= offBodyLength {
		return 0
	}
	return headerLength + int(rec[offBodyLength])
}

// RecordKind validates the record type and returns the sensor kind.
// Unknown record types return ErrUnsupportedRecordType; sensor types above
// MaxKind return ErrUnsupportedKind.
func RecordKind(rec []byte) (Kind, error) {
	if len(rec) <= offRecordType {
		return KindUnspecified, errors.Wrapf(ErrShortRecord, "%d bytes", len(rec))
	}
	rtype := rec[offRecordType]
	if rtype != RecordTypeFull && rtype != RecordTypeCompact {
		return KindUnspecified, errors.Wrapf(ErrUnsupportedRecordType, "record 0x%04x type 0x%02x", RecordID(rec), rtype)
	}
	if len(rec) <= offEventType {
		return KindUnspecified, errors.Wrapf(ErrShortRecord, "record 0x%04x: %d bytes", RecordID(rec), len(rec))
	}
	kind := Kind(rec[offSensorKind])
	if kind > MaxKind {
		return kind, errors.Wrapf(ErrUnsupportedKind, "record 0x%04x sensor type 0x%02x", RecordID(rec), uint8(kind))
	}
	return kind, nil
}

// DecodeRecord decodes a complete full or compact sensor record into a
// Descriptor with its thresholds selected. Records of other types,
// unsupported kinds and non-threshold sensors are rejected with the
// errors declared in this package.
func DecodeRecord(rec []byte) (*Descriptor, error) {
	kind, err := RecordKind(rec)
	if err != nil {
		return nil, err
	}

	rtype := rec[offRecordType]
	idOff := offCompactID
	if rtype == RecordTypeFull {
		idOff = offFullID
	}
	if len(rec) <= idOff {
		return nil, errors.Wrapf(ErrShortRecord, "record 0x%04x: %d bytes, type 0x%02x", RecordID(rec), len(rec), rtype)
	}

	enc, raw := idField(rec, idOff)
	if ev := rec[offEventType]; ev != EventTypeThreshold {
		return nil, &NonThresholdError{ID: DecodeID(enc, raw), EventType: ev}
	}

	d := &Descriptor{
		Kind:          kind,
		RecordID:      RecordID(rec),
		RecordType:    rtype,
		Number:        rec[offSensorNumber],
		Capabilities:  rec[offCapabilities],
		ThresholdMask: binary.LittleEndian.Uint16(rec[offMask:]),
		Conversion:    identityConversion,
		IDEncoding:    enc,
		RawID:         append([]byte(nil), raw...),
		ID:            DecodeID(enc, raw),
	}

	if rtype == RecordTypeFull {
		d.Conversion = Conversion{
			M:             signExtend10(rec[offM], rec[offMHigh]),
			B:             signExtend10(rec[offB], rec[offBHigh]),
			ExpB:          rec[offExponents] & 0x0f,
			ExpResult:     rec[offExponents] >> 4,
			Linearization: rec[offLinear] & 0x7f,
			Format:        rec[offUnits] >> 6,
		}
		d.Nominal = rec[offNominal]
		copy(d.Limits[:], rec[offLimits:offLimits+NumLimits])
	}

	d.Upper, d.Lower = SelectThresholds(d.Capabilities, d.ThresholdMask)
	return d, nil
}

// idField splits the type/length byte at off and returns the ID bytes,
// bounded by the record and by MaxIDLength.
func idField(rec []byte, off int) (IDEncoding, []byte) {
	tl := rec[off]
	enc := IDEncoding(tl >> 6)
	n := int(tl & 0x1f)
	if n > MaxIDLength {
		n = MaxIDLength
	}
	start := off + 1
	if start+n > len(rec) {
		n = len(rec) - start
	}
	return enc, rec[start : start+n]
}

// signExtend10 joins an 8-bit low field with the top two bits of hi into
// a 10-bit two's-complement value.
func signExtend10(lo, hi uint8) int16 {
	v := uint16(lo) | uint16(hi&0xc0)<<2
	if v&0x0200 != 0 {
		v |= 0xfc00
	}
	return int16(v)
}
