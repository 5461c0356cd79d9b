// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// reassemblyCapacity bounds the buffer: completion code, next id and the
// largest record a one-byte length can declare.
const reassemblyCapacity = 3 + headerLength + 0xff

// Reassembler accumulates a record fetched in several Get SDR fragments.
//
// The buffer keeps the response layout: completion code at 0, next
// record id at 1-2 and the record from 3 on, so the record's body length
// byte sits at index 7 and a record is complete once the write offset
// passes buf[7]+7.
type Reassembler struct {
	buf    []byte
	offset int
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{buf: make([]byte, 0, reassemblyCapacity)}
}

// Reset discards any partial record
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.offset = 0
}

// Active reports whether a partial record is held
func (r *Reassembler) Active() bool {
	return r.offset > 0
}

// Feed adds the payload of one successful Get SDR response (next record
// id followed by record bytes). It returns true once the record is complete.
func (r *Reassembler) Feed(payload []byte) (bool, error) {
	if len(payload) < 2 {
		r.Reset()
		return false, errors.Wrapf(ErrShortRecord, "fragment of %d bytes", len(payload))
	}

	if r.offset == 0 {
		// the first fragment must carry the record header
		if len(payload) < 2+headerLength {
			r.Reset()
			return false, errors.Wrapf(ErrShortRecord, "first fragment of %d bytes", len(payload))
		}
		r.buf = append(r.buf[:0], 0x00)
		r.buf = append(r.buf, payload...)
	} else {
		// a continuation without record bytes would re-request the same offset
		if len(payload) == 2 {
			r.Reset()
			return false, errors.Wrap(ErrShortRecord, "empty continuation fragment")
		}
		r.buf = append(r.buf, payload[2:]...)
	}
	if len(r.buf) > reassemblyCapacity {
		r.Reset()
		return false, ErrRecordOverflow
	}
	r.offset = len(r.buf)

	return r.offset > int(r.buf[7])+7, nil
}

// RecordID returns the id of the record being reassembled
func (r *Reassembler) RecordID() uint16 {
	if len(r.buf) < 5 {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[3:])
}

// NextOffset returns the record offset of the next fragment to request
func (r *Reassembler) NextOffset() uint8 {
	if r.offset < 3 {
		return 0
	}
	return uint8(r.offset - 3)
}

// NextRecord returns the next record id reported by the first fragment
func (r *Reassembler) NextRecord() uint16 {
	if len(r.buf) < 3 {
		return EndOfRepository
	}
	return binary.LittleEndian.Uint16(r.buf[1:])
}

// Record returns the reassembled record, trimmed to its declared length.
// The slice is only valid until the next Feed or Reset.
func (r *Reassembler) Record() []byte {
	if len(r.buf) < 3 {
		return nil
	}
	rec := r.buf[3:]
	if n := RecordLength(rec); n > 0 && n < len(rec) {
		rec = rec[:n]
	}
	return rec
}
