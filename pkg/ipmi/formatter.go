// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ipmi

import (
	"fmt"
	"strings"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.timestamp.Format("15:04:05.000")
	dir := "REQ"
	if m.IsResponse() {
		dir = "RSP"
	}

	result := fmt.Sprintf("[%s] %s %s (0x%02X/0x%02X) %02X->%02X seq=%d",
		timestamp, dir, FormatCommand(m.RequestNetFn(), m.cmd), m.netFn, m.cmd, m.srcAddr, m.dstAddr, m.seq)
	if m.IsResponse() {
		result += fmt.Sprintf(" cc=0x%02X (%s)", m.completion, FormatCompletionCode(m.completion))
	}
	if len(m.data) > 0 {
		result += fmt.Sprintf(" data=% X", m.data)
	}
	return result + "\n"
}

// FormatCommand returns the human-readable name for a command
func FormatCommand(netFn, cmd uint8) string {
	switch netFn &^ 0x01 {
	case NetFnStorage:
		switch cmd {
		case CmdReserveSDR:
			return "RESERVE_SDR_REPOSITORY"
		case CmdGetSDR:
			return "GET_SDR"
		}
	case NetFnSensor:
		if cmd == CmdGetSensorReading {
			return "GET_SENSOR_READING"
		}
	case NetFnApp:
		if cmd == CmdGetDeviceID {
			return "GET_DEVICE_ID"
		}
	}
	return fmt.Sprintf("%s_CMD_0x%02X", FormatNetFn(netFn), cmd)
}

// FormatNetFn returns the name of a network function
func FormatNetFn(netFn uint8) string {
	switch netFn &^ 0x01 {
	case NetFnSensor:
		return "SENSOR"
	case NetFnApp:
		return "APP"
	case NetFnStorage:
		return "STORAGE"
	default:
		return fmt.Sprintf("NETFN_0x%02X", netFn&^0x01)
	}
}

// FormatCompletionCode returns the description of a completion code
func FormatCompletionCode(cc uint8) string {
	switch cc {
	case CompletionOK:
		return "ok"
	case CompletionNodeBusy:
		return "node busy"
	case CompletionInvalidCommand:
		return "invalid command"
	case CompletionTimeout:
		return "timeout"
	case CompletionOutOfSpace:
		return "out of space"
	case CompletionInvalidReservation:
		return "reservation cancelled"
	case CompletionDataTruncated:
		return "request data truncated"
	case CompletionInvalidLength:
		return "invalid data length"
	case CompletionLengthExceeded:
		return "data length exceeded"
	case CompletionParamOutOfRange:
		return "parameter out of range"
	case CompletionCannotReturnBytes:
		return "cannot return requested bytes"
	case CompletionNotPresent:
		return "not present"
	case CompletionInvalidField:
		return "invalid data field"
	case CompletionUnspecified:
		return "unspecified error"
	default:
		return "unknown"
	}
}

// FormatHex formats raw bytes the way raw_log prints them
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
