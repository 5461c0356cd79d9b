// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

// Slot indexes a record's Limits array, in protocol order
type Slot int8

const (
	NoSlot                  Slot = -1
	SlotUpperNonRecoverable Slot = 0
	SlotUpperCritical       Slot = 1
	SlotUpperNonCritical    Slot = 2
	SlotLowerNonRecoverable Slot = 3
	SlotLowerCritical       Slot = 4
	SlotLowerNonCritical    Slot = 5
	SlotPositiveHysteresis  Slot = 6
	SlotNegativeHysteresis  Slot = 7
)

var slotNames = [NumLimits]string{
	"upper non-recoverable threshold",
	"upper critical threshold",
	"upper non-critical threshold",
	"lower non-recoverable threshold",
	"lower critical threshold",
	"lower non-critical threshold",
	"positive-going hysteresis",
	"negative-going hysteresis",
}

func (s Slot) String() string {
	if s < 0 || int(s) >= NumLimits {
		return "none"
	}
	return slotNames[s]
}

// Selection is a chosen threshold slot and whether it may be written
type Selection struct {
	Slot     Slot
	Writable bool
}

// None is the empty selection
var None = Selection{Slot: NoSlot}

// Valid reports whether a slot was selected
func (s Selection) Valid() bool {
	return s.Slot >= 0 && int(s.Slot) < NumLimits
}

// Capability field patterns (capabilities byte)
const (
	capThresholdMask  = 0x0c
	capThresholdRead  = 0x04
	capThresholdFull  = 0x08
	capHysteresisMask = 0x30
	capHysteresisRead = 0x10
	capHysteresisFull = 0x20
)

type candidate struct {
	readBit  uint16
	writeBit uint16
	slot     Slot
}

// Readable bits are checked in this order; first match wins.
var (
	upperCandidates = []candidate{
		{0x0010, 0x1000, SlotUpperCritical},
		{0x0020, 0x2000, SlotUpperNonRecoverable},
		{0x0008, 0x0800, SlotUpperNonCritical},
	}
	lowerCandidates = []candidate{
		{0x0002, 0x0200, SlotLowerCritical},
		{0x0004, 0x0400, SlotLowerNonRecoverable},
		{0x0001, 0x0100, SlotLowerNonCritical},
	}
)

// SelectThresholds picks one upper and one lower representative threshold.
//
// Nothing is selected unless the capabilities report readable thresholds.
// Readable hysteresis pins the lower selection to the positive-going
// hysteresis slot, which is never writable; the upper search is unaffected.
func SelectThresholds(capab uint8, mask uint16) (upper, lower Selection) {
	upper, lower = None, None

	access := capab & capThresholdMask
	if access != capThresholdRead && access != capThresholdFull {
		return upper, lower
	}
	full := access == capThresholdFull

	upper = pick(upperCandidates, mask, full)

	if h := capab & capHysteresisMask; h == capHysteresisRead || h == capHysteresisFull {
		lower = Selection{Slot: SlotPositiveHysteresis}
	} else {
		lower = pick(lowerCandidates, mask, full)
	}
	return upper, lower
}

func pick(candidates []candidate, mask uint16, full bool) Selection {
	for _, c := range candidates {
		if mask&c.readBit != 0 {
			return Selection{Slot: c.slot, Writable: full && mask&c.writeBit != 0}
		}
	}
	return None
}
