// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Record rejection reasons. Each one is skip-and-continue for a walker.
var (
	ErrShortRecord           = errors.New("record too short")
	ErrUnsupportedRecordType = errors.New("unsupported record type")
	ErrUnsupportedKind       = errors.New("unsupported sensor type")
	ErrKindCapacity          = errors.New("per-type sensor limit exceeded")
	ErrTotalCapacity         = errors.New("total sensor limit exceeded")
	ErrRecordOverflow        = errors.New("record exceeds reassembly buffer")
)

// NonThresholdError rejects a sensor whose readings have no thresholds.
// ID carries the decoded identifier for logging.
type NonThresholdError struct {
	ID        string
	EventType uint8
}

func (e *NonThresholdError) Error() string {
	return fmt.Sprintf("skipping non-threshold sensor %q (event type 0x%02x)", e.ID, e.EventType)
}

// IsNonThreshold reports whether err rejects a non-threshold sensor
func IsNonThreshold(err error) bool {
	var nt *NonThresholdError
	return errors.As(err, &nt)
}
