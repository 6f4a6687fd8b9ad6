// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

// Stuff escapes every FF FF FD run in data by appending an extra FD, so the
// payload of a protocol 2.0 frame can never contain a header
func Stuff(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/3)
	for _, b := range data {
		out = append(out, b)
		n := len(out)
		if n >= 3 && out[n-3] == 0xFF && out[n-2] == 0xFF && out[n-1] == 0xFD {
			out = append(out, 0xFD)
		}
	}
	return out
}

// Unstuff reverses Stuff
func Unstuff(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		out = append(out, data[i])
		if i >= 2 && data[i-2] == 0xFF && data[i-1] == 0xFF && data[i] == 0xFD &&
			i+1 < len(data) && data[i+1] == 0xFD {
			i++
		}
	}
	return out
}
