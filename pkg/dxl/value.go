// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import "fmt"

// MaxValueLength is the widest register a value operation can decode
const MaxValueLength = 8

func checkValueLength(op string, length int) error {
	if length < 1 || length > MaxValueLength {
		return invalid(op, "length %d out of range (1-%d)", length, MaxValueLength)
	}
	return nil
}

// EncodeValue serializes value little-endian into length bytes, checking it
// fits the signed or unsigned range of that width
func EncodeValue(value int64, length int, signed bool) ([]byte, error) {
	if err := checkValueLength("encode", length); err != nil {
		return nil, err
	}
	bits := uint(8 * length)
	if signed {
		if bits < 64 {
			limit := int64(1) << (bits - 1)
			if value < -limit || value >= limit {
				return nil, fmt.Errorf("value %d does not fit %d signed bytes", value, length)
			}
		}
	} else {
		if value < 0 {
			return nil, fmt.Errorf("negative value %d for unsigned field", value)
		}
		if bits < 64 && uint64(value) >= uint64(1)<<bits {
			return nil, fmt.Errorf("value %d does not fit %d unsigned bytes", value, length)
		}
	}

	out := make([]byte, length)
	u := uint64(value)
	for i := range out {
		out[i] = byte(u >> (8 * i))
	}
	return out, nil
}

// DecodeValue reads a little-endian value, sign-extending when signed.
// Unsigned 8 byte values above the int64 range wrap.
func DecodeValue(data []byte, signed bool) int64 {
	var u uint64
	for i := len(data) - 1; i >= 0; i-- {
		u = u<<8 | uint64(data[i])
	}
	if signed && len(data) > 0 && len(data) < 8 {
		shift := uint(64 - 8*len(data))
		return int64(u<<shift) >> shift
	}
	return int64(u)
}
