// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import (
	"fmt"
	"math"
	"strings"
)

// powers of ten for exponent magnitudes 0-8
var exps = [...]int64{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

// Convert applies the linear formula to a raw reading or limit byte.
//
// The B exponent is applied in both directions. A positive result exponent
// multiplies the result; a negative one is not applied here and is
// reported by DecimalPlaces instead.
func Convert(raw uint8, c Conversion) int64 {
	r := int64(raw) * int64(c.M)

	k1 := c.ExpB & 0x0f
	if k1 < 8 {
		r += int64(c.B) * exps[k1]
	} else {
		r += int64(c.B) / exps[16-k1]
	}

	if k2 := c.ExpResult & 0x0f; k2 < 8 {
		r *= exps[k2]
	}
	return r
}

// DecimalPlaces returns how many low digits of a converted value are fractional
func DecimalPlaces(c Conversion) int {
	k2 := c.ExpResult & 0x0f
	if k2 < 8 {
		return 0
	}
	return 16 - int(k2)
}

// Values is a scaled sensor result.
//
// Fans carry [lower limit, reading]; every other kind carries
// [upper limit, lower limit, reading]. Unselected limits are 0.
type Values struct {
	Kind          Kind
	Elements      []int64
	DecimalPlaces int
}

// Reading returns the converted live reading
func (v Values) Reading() int64 {
	if len(v.Elements) == 0 {
		return 0
	}
	return v.Elements[len(v.Elements)-1]
}

// Upper returns the upper limit, or 0 for fans
func (v Values) Upper() int64 {
	if v.Kind == KindFan || len(v.Elements) < 3 {
		return 0
	}
	return v.Elements[0]
}

// Lower returns the lower limit
func (v Values) Lower() int64 {
	switch {
	case v.Kind == KindFan && len(v.Elements) == 2:
		return v.Elements[0]
	case len(v.Elements) == 3:
		return v.Elements[1]
	}
	return 0
}

// Scale converts the stored limits and last reading of d
func Scale(d *Descriptor) Values {
	c := d.Conversion
	v := Values{Kind: d.Kind, DecimalPlaces: DecimalPlaces(c)}

	limit := func(s Selection) int64 {
		if !s.Valid() {
			return 0
		}
		return Convert(d.Limits[s.Slot], c)
	}

	reading := Convert(d.Reading, c)
	if d.Kind == KindFan {
		v.Elements = []int64{limit(d.Lower), reading}
		return v
	}

	upper := limit(d.Upper)
	lower := limit(d.Lower)
	if d.Lower.Slot == SlotPositiveHysteresis {
		// hysteresis is reported as an offset below the upper limit
		lower = upper - lower
	}
	v.Elements = []int64{upper, lower, reading}
	return v
}

// FormatFixed renders a converted value with the given number of decimal places
func FormatFixed(value int64, places int) string {
	if places <= 0 {
		return fmt.Sprintf("%d", value)
	}

	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	digits := fmt.Sprintf("%d", value)
	if len(digits) <= places {
		digits = strings.Repeat("0", places-len(digits)+1) + digits
	}
	cut := len(digits) - places
	return sign + digits[:cut] + "." + digits[cut:]
}

// Float returns a converted value as a float, applying its decimal places
func Float(value int64, places int) float64 {
	if places <= 0 {
		return float64(value)
	}
	return float64(value) / math.Pow10(places)
}
