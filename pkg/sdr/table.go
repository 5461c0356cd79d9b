// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import (
	"fmt"

	"github.com/pkg/errors"
)

// kindLimits caps the sensors collected per kind. Kind 0 is never collected.
var kindLimits = [MaxKind + 1]int{0, MaxPerKind, MaxPerKind, MaxPerKind, MaxPerKind}

// Table is the ordered, capacity-bounded list of discovered sensors
type Table struct {
	sensors []*Descriptor
	counts  [MaxKind + 1]int
}

// NewTable creates an empty sensor table
func NewTable() *Table {
	return &Table{sensors: make([]*Descriptor, 0, MaxSensors)}
}

// Admit checks whether one more sensor of kind fits. The per-kind limit is
// checked before the total.
func (t *Table) Admit(kind Kind) error {
	if kind > MaxKind || kindLimits[kind] == 0 {
		return errors.Wrapf(ErrUnsupportedKind, "sensor type 0x%02x", uint8(kind))
	}
	if t.counts[kind] >= kindLimits[kind] {
		return errors.Wrapf(ErrKindCapacity, "sensor type 0x%x (max %d)", uint8(kind), kindLimits[kind])
	}
	if len(t.sensors) >= MaxSensors {
		return errors.Wrapf(ErrTotalCapacity, "max %d", MaxSensors)
	}
	return nil
}

// Append admits d, names it after its kind and position and stores it
func (t *Table) Append(d *Descriptor) error {
	if err := t.Admit(d.Kind); err != nil {
		return err
	}
	d.Index = t.counts[d.Kind]
	t.counts[d.Kind]++
	d.Name = fmt.Sprintf("%s%d", d.Kind.Prefix(), t.counts[d.Kind])
	t.sensors = append(t.sensors, d)
	return nil
}

// Len returns the number of sensors
func (t *Table) Len() int {
	return len(t.sensors)
}

// At returns the i-th sensor in discovery order
func (t *Table) At(i int) *Descriptor {
	if i < 0 || i >= len(t.sensors) {
		return nil
	}
	return t.sensors[i]
}

// ByKind returns the index-th sensor of a kind (0-based)
func (t *Table) ByKind(kind Kind, index int) *Descriptor {
	for _, d := range t.sensors {
		if d.Kind == kind && d.Index == index {
			return d
		}
	}
	return nil
}

// Count returns the number of sensors of a kind
func (t *Table) Count(kind Kind) int {
	if kind > MaxKind {
		return 0
	}
	return t.counts[kind]
}

// Snapshot copies every descriptor
func (t *Table) Snapshot() []Descriptor {
	out := make([]Descriptor, len(t.sensors))
	for i, d := range t.sensors {
		out[i] = d.Clone()
	}
	return out
}

// Reset empties the table
func (t *Table) Reset() {
	t.sensors = t.sensors[:0]
	t.counts = [MaxKind + 1]int{}
}
