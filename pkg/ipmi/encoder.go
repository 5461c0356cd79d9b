// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ipmi

import "fmt"

// Encode encodes a message to wire format.
// Returns the frame bytes ready for transmission, including framing and escapes.
func Encode(m *Message) ([]byte, error) {
	body, err := MarshalBody(m)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(body)*2+2)
	frame = append(frame, StartByte)
	frame = append(frame, escapeBytes(body)...)
	frame = append(frame, StopByte)
	return frame, nil
}

// MarshalBody builds the unescaped message: connection header, checksum,
// requester fields, command, completion code (responses only), data and
// the trailing checksum.
func MarshalBody(m *Message) ([]byte, error) {
	size := minRequestSize + len(m.data)
	if m.IsResponse() {
		size++
	}
	if size > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", size, MaxMessageSize)
	}

	body := make([]byte, 0, size)
	body = append(body, m.dstAddr, m.netFn<<2|m.dstLUN&0x03)
	body = append(body, Checksum(body))
	body = append(body, m.srcAddr, m.seq<<2|m.srcLUN&0x03, m.cmd)
	if m.IsResponse() {
		body = append(body, m.completion)
	}
	body = append(body, m.data...)
	body = append(body, Checksum(body[3:]))
	return body, nil
}

// escapeBytes replaces framing bytes with EscByte and their escaped value
func escapeBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if e, ok := escapes[b]; ok {
			result = append(result, EscByte, e)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnescapeBytes removes escapes from framed data.
// This is the inverse of escapeBytes.
func UnescapeBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			u, ok := unescapes[b]
			if !ok {
				return nil, fmt.Errorf("invalid escape sequence 0x%02X 0x%02X", EscByte, b)
			}
			result = append(result, u)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
