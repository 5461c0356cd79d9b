// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ipmi

// Checksum computes the two's-complement checksum for data: the value that
// makes the byte sum of data plus checksum zero modulo 256.
func Checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return -sum
}

// validChecksum reports whether data, including its trailing checksum, sums to zero
func validChecksum(data []byte) bool {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum == 0
}
