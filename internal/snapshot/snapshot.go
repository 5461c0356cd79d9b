// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package snapshot stores discovered sensors and their last readings in a
// CBOR file, so a later run can print them without walking the repository.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Version is the file format version written by Encode
const Version = 1

// Snapshot is a saved sensor table
type Snapshot struct {
	Taken   time.Time
	Source  string
	Sensors []sdr.Descriptor
}

// file and sensor are the on-disk layout. Integer keys keep files small.
type file struct {
	Version uint     `cbor:"1,keyasint"`
	Taken   int64    `cbor:"2,keyasint"` // unix nanoseconds
	Source  string   `cbor:"3,keyasint,omitempty"`
	Sensors []sensor `cbor:"4,keyasint"`
}

type sensor struct {
	Kind          uint8    `cbor:"1,keyasint"`
	Index         int      `cbor:"2,keyasint"`
	Name          string   `cbor:"3,keyasint"`
	RecordID      uint16   `cbor:"4,keyasint"`
	RecordType    uint8    `cbor:"5,keyasint"`
	Number        uint8    `cbor:"6,keyasint"`
	Capabilities  uint8    `cbor:"7,keyasint"`
	ThresholdMask uint16   `cbor:"8,keyasint"`
	Conversion    [6]int16 `cbor:"9,keyasint"` // m, b, k1, k2, linearization, format
	Nominal       uint8    `cbor:"10,keyasint"`
	Limits        []byte   `cbor:"11,keyasint"`
	Upper         [2]int8  `cbor:"12,keyasint"` // slot, writable
	Lower         [2]int8  `cbor:"13,keyasint"`
	ID            string   `cbor:"14,keyasint,omitempty"`
	IDEncoding    uint8    `cbor:"15,keyasint"`
	RawID         []byte   `cbor:"16,keyasint,omitempty"`
	Reading       []byte   `cbor:"17,keyasint,omitempty"` // reading, status, thresholds
	Updated       int64    `cbor:"18,keyasint,omitempty"`
}

// New snapshots sensors taken at t
func New(source string, sensors []sdr.Descriptor, t time.Time) *Snapshot {
	out := make([]sdr.Descriptor, len(sensors))
	for i := range sensors {
		out[i] = sensors[i].Clone()
	}
	return &Snapshot{Taken: t, Source: source, Sensors: out}
}

// Encode serializes s as canonical CBOR
func Encode(s *Snapshot) ([]byte, error) {
	f := file{
		Version: Version,
		Taken:   s.Taken.UnixNano(),
		Source:  s.Source,
		Sensors: make([]sensor, len(s.Sensors)),
	}
	for i := range s.Sensors {
		f.Sensors[i] = fromDescriptor(&s.Sensors[i])
	}

	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(f)
}

// Decode parses a snapshot produced by Encode
func Decode(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}

	var f file
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", f.Version)
	}

	s := &Snapshot{
		Taken:   time.Unix(0, f.Taken),
		Source:  f.Source,
		Sensors: make([]sdr.Descriptor, len(f.Sensors)),
	}
	for i := range f.Sensors {
		d, err := f.Sensors[i].descriptor()
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", i, err)
		}
		s.Sensors[i] = d
	}
	return s, nil
}

// Save writes s to path, replacing any existing file atomically
func Save(path string, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a snapshot file
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func fromDescriptor(d *sdr.Descriptor) sensor {
	c := d.Conversion
	s := sensor{
		Kind:          uint8(d.Kind),
		Index:         d.Index,
		Name:          d.Name,
		RecordID:      d.RecordID,
		RecordType:    d.RecordType,
		Number:        d.Number,
		Capabilities:  d.Capabilities,
		ThresholdMask: d.ThresholdMask,
		Conversion:    [6]int16{c.M, c.B, int16(c.ExpB), int16(c.ExpResult), int16(c.Linearization), int16(c.Format)},
		Nominal:       d.Nominal,
		Limits:        append([]byte(nil), d.Limits[:]...),
		Upper:         selection(d.Upper),
		Lower:         selection(d.Lower),
		ID:            d.ID,
		IDEncoding:    uint8(d.IDEncoding),
		RawID:         d.RawID,
	}
	if d.Valid {
		s.Reading = []byte{d.Reading, d.Status, d.Thresholds}
		s.Updated = d.Updated.UnixNano()
	}
	return s
}

func (s *sensor) descriptor() (sdr.Descriptor, error) {
	if len(s.Limits) != sdr.NumLimits {
		return sdr.Descriptor{}, fmt.Errorf("expected %d limits, got %d", sdr.NumLimits, len(s.Limits))
	}
	if s.Kind == 0 || sdr.Kind(s.Kind) > sdr.MaxKind {
		return sdr.Descriptor{}, fmt.Errorf("unsupported sensor type 0x%02x", s.Kind)
	}

	c := s.Conversion
	d := sdr.Descriptor{
		Kind:          sdr.Kind(s.Kind),
		Index:         s.Index,
		Name:          s.Name,
		RecordID:      s.RecordID,
		RecordType:    s.RecordType,
		Number:        s.Number,
		Capabilities:  s.Capabilities,
		ThresholdMask: s.ThresholdMask,
		Conversion: sdr.Conversion{
			M:             c[0],
			B:             c[1],
			ExpB:          uint8(c[2]),
			ExpResult:     uint8(c[3]),
			Linearization: uint8(c[4]),
			Format:        uint8(c[5]),
		},
		Nominal:    s.Nominal,
		Upper:      sdr.Selection{Slot: sdr.Slot(s.Upper[0]), Writable: s.Upper[1] != 0},
		Lower:      sdr.Selection{Slot: sdr.Slot(s.Lower[0]), Writable: s.Lower[1] != 0},
		ID:         s.ID,
		IDEncoding: sdr.IDEncoding(s.IDEncoding),
		RawID:      s.RawID,
	}
	copy(d.Limits[:], s.Limits)
	if len(s.Reading) == 3 {
		d.SetReading(s.Reading[0], s.Reading[1], s.Reading[2], time.Unix(0, s.Updated))
	}
	return d, nil
}

func selection(s sdr.Selection) [2]int8 {
	w := int8(0)
	if s.Writable {
		w = 1
	}
	return [2]int8{int8(s.Slot), w}
}
