// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Demo returns a BMC populated with a small server board: temperatures,
// voltages, a current and fans, plus records the client must skip.
func Demo(opts Options) *BMC {
	b := New(opts)
	id := uint16(1)
	nextID := func() uint16 {
		id++
		return id - 1
	}

	// management controller locator, not a sensor
	locator := nextID()
	b.AddRecord([]byte{byte(locator), byte(locator >> 8), 0x51, 0x12, 0x06, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00})

	cpu := sdr.ThresholdTemplate(nextID(), sdr.KindTemperature, 0x01, "CPU Temp")
	cpu.Capabilities = 0x68
	cpu.ThresholdMask = 0x3f3f
	cpu.Limits = [sdr.NumLimits]uint8{95, 90, 85, 5, 8, 10, 2, 2}
	b.AddSensor(cpu, 45)

	sys := sdr.ThresholdTemplate(nextID(), sdr.KindTemperature, 0x02, "System Temp")
	sys.Capabilities = 0x48
	sys.ThresholdMask = 0x1212
	sys.Limits = [sdr.NumLimits]uint8{0, 75, 0, 0, 5, 0, 0, 0}
	b.AddSensor(sys, 31)

	// compact records carry no conversion; raw counts are reported as-is
	inlet := sdr.ThresholdTemplate(nextID(), sdr.KindTemperature, 0x03, "Inlet")
	inlet.Compact = true
	b.AddSensor(inlet, 24)

	vcore := sdr.ThresholdTemplate(nextID(), sdr.KindVoltage, 0x10, "Vcore")
	vcore.M = 8
	vcore.ExpResult = -3
	vcore.Capabilities = 0x48
	vcore.ThresholdMask = 0x0909
	vcore.Limits = [sdr.NumLimits]uint8{0, 0, 175, 0, 0, 112, 0, 0}
	b.AddSensor(vcore, 150)

	v12 := sdr.ThresholdTemplate(nextID(), sdr.KindVoltage, 0x11, "12V")
	v12.M = 63
	v12.ExpResult = -3
	v12.Capabilities = 0x48
	v12.ThresholdMask = 0x0909
	v12.Limits = [sdr.NumLimits]uint8{0, 0, 210, 0, 0, 171, 0, 0}
	b.AddSensor(v12, 190)

	v5 := sdr.ThresholdTemplate(nextID(), sdr.KindVoltage, 0x12, "5VSB")
	v5.M = 26
	v5.ExpResult = -3
	v5.IDEncoding = sdr.IDPacked6Bit
	v5.ID = sdr.EncodePacked6Bit("5VSB")
	b.AddSensor(v5, 192)

	psu := sdr.ThresholdTemplate(nextID(), sdr.KindCurrent, 0x20, "PSU1 Current")
	psu.M = 5
	psu.ExpResult = -2
	psu.Capabilities = 0x48
	psu.ThresholdMask = 0x0808
	psu.Limits = [sdr.NumLimits]uint8{0, 0, 240, 0, 0, 0, 0, 0}
	b.AddSensor(psu, 64)

	for i, number := range []uint8{0x30, 0x31, 0x32} {
		fan := sdr.ThresholdTemplate(nextID(), sdr.KindFan, number, "FAN"+string(rune('1'+i)))
		fan.M = 75
		fan.Capabilities = 0x48
		fan.ThresholdMask = 0x0202
		fan.Limits = [sdr.NumLimits]uint8{0, 0, 0, 0, 4, 0, 0, 0}
		b.AddSensor(fan, uint8(70+5*i))
	}

	// discrete processor hot sensor, skipped by discovery
	prochot := sdr.ThresholdTemplate(nextID(), sdr.KindTemperature, 0x40, "CPU Prochot")
	prochot.EventType = 0x07
	b.AddSensor(prochot, 0)

	return b
}
