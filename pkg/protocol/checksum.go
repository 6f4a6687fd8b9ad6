// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "github.com/sigurn/crc16"

// CRC-16/BUYPASS (poly 0x8005, init 0, no reflection, no final xor) is the
// table published for protocol 2.0
var crcTable = crc16.MakeTable(crc16.CRC16_BUYPASS)

// ChecksumV1 computes the protocol 1.0 checksum: the one's complement of the
// truncated sum of every byte from ID through the last parameter
func ChecksumV1(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return ^sum
}

// CRCV2 computes the protocol 2.0 CRC over data, continuing from seed.
// A fresh frame starts from seed 0.
func CRCV2(data []byte, seed uint16) uint16 {
	return crc16.Update(seed, data, crcTable)
}
