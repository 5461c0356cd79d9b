// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

func unit(k sdr.Kind) string {
	switch k {
	case sdr.KindTemperature:
		return "°C"
	case sdr.KindVoltage:
		return "V"
	case sdr.KindCurrent:
		return "A"
	case sdr.KindFan:
		return "RPM"
	}
	return ""
}

// formatValue renders a converted value with its unit, or "-" when the
// element is not available
func formatValue(d *sdr.Descriptor, v sdr.Values, value int64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s %s", sdr.FormatFixed(value, v.DecimalPlaces), unit(d.Kind))
}

// formatReading returns the reading, upper and lower columns of d
func formatReading(d *sdr.Descriptor) (reading, upper, lower string) {
	v := sdr.Scale(d)
	reading = formatValue(d, v, v.Reading(), d.Valid)
	upper = formatValue(d, v, v.Upper(), d.Upper.Valid())
	lower = formatValue(d, v, v.Lower(), d.Lower.Valid())
	return reading, upper, lower
}

func formatSelection(s sdr.Selection) string {
	if !s.Valid() {
		return "-"
	}
	if s.Writable {
		return s.Slot.String() + " (rw)"
	}
	return s.Slot.String()
}

// printSensorTable prints one line per sensor. With readings, converted
// values are shown instead of the raw record layout.
func printSensorTable(sensors []sdr.Descriptor, readings bool) {
	if readings {
		fmt.Printf("%-8s %-16s %14s %14s %14s\n", "SENSOR", "LABEL", "READING", "UPPER", "LOWER")
	} else {
		fmt.Printf("%-8s %-16s %-11s %6s %7s %-10s %-10s\n", "SENSOR", "LABEL", "KIND", "NUMBER", "RECORD", "UPPER", "LOWER")
	}
	fmt.Println(strings.Repeat("-", 78))

	for i := range sensors {
		d := &sensors[i]
		if readings {
			r, u, l := formatReading(d)
			fmt.Printf("%-8s %-16s %14s %14s %14s\n", d.Name, d.Label(), r, u, l)
		} else {
			fmt.Printf("%-8s %-16s %-11s %6d %#7x %-10s %-10s\n", d.Name, d.Label(), d.Kind,
				d.Number, d.RecordID, formatSelection(d.Upper), formatSelection(d.Lower))
		}
		if reason := d.DegradedReason(); reason != "" {
			fmt.Printf("         ! %s\n", reason)
		}
	}
}
