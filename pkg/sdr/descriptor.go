// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import (
	"fmt"
	"time"
)

// Kind is the sensor type byte of a record. Only the first four non-zero
// values are collected.
type Kind uint8

const (
	KindUnspecified Kind = 0x00
	KindTemperature Kind = 0x01
	KindVoltage     Kind = 0x02
	KindCurrent     Kind = 0x03
	KindFan         Kind = 0x04

	// MaxKind is the last sensor type that is collected
	MaxKind = KindFan
)

// Kinds lists the collected sensor kinds in presentation order
var Kinds = []Kind{KindTemperature, KindVoltage, KindCurrent, KindFan}

func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindVoltage:
		return "voltage"
	case KindCurrent:
		return "current"
	case KindFan:
		return "fan"
	default:
		return fmt.Sprintf("type 0x%02x", uint8(k))
	}
}

// Prefix returns the short name used for per-kind sensor names (temp1, in1, ...)
func (k Kind) Prefix() string {
	switch k {
	case KindTemperature:
		return "temp"
	case KindVoltage:
		return "in"
	case KindCurrent:
		return "curr"
	case KindFan:
		return "fan"
	default:
		return "unk"
	}
}

// ParseKind maps a kind name or prefix back to a Kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == k.String() || s == k.Prefix() {
			return k, nil
		}
	}
	return KindUnspecified, fmt.Errorf("unknown sensor kind %q", s)
}

// Conversion holds the linear formula of a full sensor record.
// M and B are already sign-extended.
type Conversion struct {
	M             int16
	B             int16
	ExpB          uint8 // 4-bit signed-magnitude exponent applied to B
	ExpResult     uint8 // 4-bit signed-magnitude exponent applied to the result
	Linearization uint8
	Format        uint8
}

// Nonlinear reports whether the record uses a linearization function
func (c Conversion) Nonlinear() bool {
	return c.Linearization != 0
}

// identityConversion is the formula of compact records
var identityConversion = Conversion{M: 1}

// Descriptor describes one discovered threshold sensor.
//
// Everything above the reading fields is fixed once discovery completes;
// the reading fields are rewritten on every poll.
type Descriptor struct {
	Kind          Kind
	Index         int    // position among sensors of the same kind
	Name          string // temp1, in3, fan2, ...
	RecordID      uint16
	RecordType    uint8
	Number        uint8
	Capabilities  uint8
	ThresholdMask uint16
	Conversion    Conversion
	Nominal       uint8
	Limits        [NumLimits]uint8
	Upper         Selection
	Lower         Selection
	ID            string
	IDEncoding    IDEncoding
	RawID         []byte

	// Reading fields
	Reading    uint8
	Status     uint8
	Thresholds uint8
	Valid      bool
	Updated    time.Time
}

// Label returns the identifier if present, otherwise the per-kind name
func (d *Descriptor) Label() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Name
}

// Writable reports whether either selected threshold can be written
func (d *Descriptor) Writable() bool {
	return d.Upper.Writable || d.Lower.Writable
}

// DegradedReason explains why converted values are approximate or
// unavailable. It returns "" for a well-formed linear sensor.
func (d *Descriptor) DegradedReason() string {
	c := d.Conversion
	switch {
	case c.Nonlinear():
		return fmt.Sprintf("nonlinear function 0x%02x unsupported, expect bad results", c.Linearization)
	case c.Format&0x03 == FormatOnesComplement:
		return "1's complement format unsupported, expect bad results"
	case c.Format&0x03 == FormatThresholdOnly:
		return "threshold sensor only, no readings available"
	}
	return ""
}

// Degraded reports whether DegradedReason is non-empty
func (d *Descriptor) Degraded() bool {
	return d.DegradedReason() != ""
}

// SetReading stores a Get Sensor Reading response
func (d *Descriptor) SetReading(reading, status, thresholds uint8, at time.Time) {
	d.Reading = reading
	d.Status = status
	d.Thresholds = thresholds
	d.Valid = true
	d.Updated = at
}

// Clone returns a copy that shares no memory with d
func (d *Descriptor) Clone() Descriptor {
	c := *d
	if d.RawID != nil {
		c.RawID = append([]byte(nil), d.RawID...)
	}
	return c
}
