// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sdr

import "strings"

// IDEncoding is the 2-bit type of a record's ID string field
type IDEncoding uint8

const (
	IDRaw7Bit    IDEncoding = 0x00
	IDBCDPlus    IDEncoding = 0x01
	IDPacked6Bit IDEncoding = 0x02
	IDPlainASCII IDEncoding = 0x03
)

func (e IDEncoding) String() string {
	switch e {
	case IDRaw7Bit:
		return "raw7bit"
	case IDBCDPlus:
		return "bcdplus"
	case IDPacked6Bit:
		return "packed6bit"
	case IDPlainASCII:
		return "ascii"
	default:
		return "unknown"
	}
}

const bcdPlus = "0123456789 -.:,_"

// DecodeID unpacks an ID string field. At most MaxIDLength raw bytes are
// considered. Packed 6-bit input is only exact when its length is a
// multiple of 3; missing trailing bytes read as zero.
func DecodeID(enc IDEncoding, raw []byte) string {
	if len(raw) > MaxIDLength {
		raw = raw[:MaxIDLength]
	}

	var sb strings.Builder
	sb.Grow(maxUnpackedIDLength)

	switch enc & 0x03 {
	case IDRaw7Bit:
		for _, b := range raw {
			sb.WriteByte(b & 0x7f)
		}
	case IDBCDPlus:
		for _, b := range raw {
			sb.WriteByte(bcdPlus[b&0x0f])
		}
	case IDPacked6Bit:
		out := make([]byte, 0, maxUnpackedIDLength)
		at := func(i int) byte {
			if i < len(raw) {
				return raw[i]
			}
			return 0
		}
		for i := 0; i < len(raw); i += 3 {
			b0, b1, b2 := at(i), at(i+1), at(i+2)
			out = append(out,
				b0&0x3f,
				b0>>6|(b1&0x0f)<<2,
				b1>>4|(b2&0x03)<<4,
				b2>>2&0x3f,
			)
		}
		if n := len(raw) * 4 / 3; len(out) > n {
			out = out[:n]
		}
		for i := range out {
			// 6-bit ASCII starts at space
			out[i] += 0x20
		}
		// zero padding of the last group unpacks to spaces
		sb.WriteString(strings.TrimRight(string(out), " "))
	case IDPlainASCII:
		sb.Write(raw)
	}

	return strings.TrimRight(sb.String(), "\x00")
}

// EncodePacked6Bit packs printable ASCII (0x20-0x5f) three bytes per four
// characters. Used to build test records and the simulator repository.
func EncodePacked6Bit(s string) []byte {
	chars := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		chars[i] = (s[i] - 0x20) & 0x3f
	}
	for len(chars)%4 != 0 {
		chars = append(chars, 0)
	}

	out := make([]byte, 0, len(chars)*3/4)
	for i := 0; i < len(chars); i += 4 {
		c0, c1, c2, c3 := chars[i], chars[i+1], chars[i+2], chars[i+3]
		out = append(out,
			c0|c1<<6,
			c1>>2|c2<<4,
			c2>>4|c3<<2,
		)
	}
	return out[:(len(s)*6+7)/8]
}
