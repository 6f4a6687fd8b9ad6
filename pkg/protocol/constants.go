// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol implements the Dynamixel serial wire formats.
//
// Both protocol generations are supported: protocol 1.0 (two byte header,
// one's-complement checksum) and protocol 2.0 (four byte header, 16-bit
// length, CRC-16 and byte stuffing). This package provides packet encoding
// and decoding, checksum/CRC calculation, a stream decoder for sniffing,
// frame formatting, anomaly detection and traffic statistics.
//
// Each generation is a Codec, selected once with CodecFor and shared by the
// encoder and decoder paths.
package protocol

import "fmt"

// Version selects the protocol generation spoken on a bus
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "1.0"
	case V2:
		return "2.0"
	}
	return fmt.Sprintf("unknown(%d)", uint8(v))
}

// ParseVersion converts a CLI/config value (1, 2, "1.0", "2.0") into a Version
func ParseVersion(s string) (Version, error) {
	switch s {
	case "1", "1.0":
		return V1, nil
	case "2", "2.0":
		return V2, nil
	}
	return 0, fmt.Errorf("unknown protocol version %q (use 1 or 2)", s)
}

// Instruction is the opcode carried in an instruction packet
type Instruction uint8

// Instruction opcodes
const (
	InstPing               Instruction = 0x01
	InstRead               Instruction = 0x02
	InstWrite              Instruction = 0x03
	InstRegWrite           Instruction = 0x04
	InstAction             Instruction = 0x05
	InstFactoryReset       Instruction = 0x06
	InstReboot             Instruction = 0x08
	InstClear              Instruction = 0x10
	InstControlTableBackup Instruction = 0x20
	InstStatus             Instruction = 0x55
	InstSyncRead           Instruction = 0x82
	InstSyncWrite          Instruction = 0x83
	InstFastSyncRead       Instruction = 0x8A
	InstBulkRead           Instruction = 0x92
	InstBulkWrite          Instruction = 0x93
	InstFastBulkRead       Instruction = 0x9A
)

// Special IDs
const (
	BroadcastID = 0xFE
	MaxIDV1     = 0xFD
	MaxIDV2     = 0xFC // 0xFD is reserved in 2.0
)

// MaxID returns the highest ID an actuator may use in this generation
func (v Version) MaxID() uint8 {
	if v == V1 {
		return MaxIDV1
	}
	return MaxIDV2
}

// Frame size limits
const (
	headerSizeV1 = 4 // FF FF ID LEN
	headerSizeV2 = 7 // FF FF FD 00 ID LEN_L LEN_H

	minLengthV1 = 2 // instruction/error + checksum
	maxLengthV1 = 0xFF

	minLengthV2 = 3 // instruction + CRC
	MaxLengthV2 = 4096
)

var (
	headerV1 = []byte{0xFF, 0xFF}
	headerV2 = []byte{0xFF, 0xFF, 0xFD, 0x00}
)

// Immediate parameters for the factory reset sub-modes (protocol 2.0)
const (
	FactoryResetAll          = 0xFF
	FactoryResetExceptID     = 0x01
	FactoryResetExceptIDBaud = 0x02
)

// Immediate parameters for the clear and backup instructions (protocol 2.0)
var (
	ClearPositionParams = []byte{0x01, 0x44, 0x58, 0x4C, 0x22}
	ClearErrorsParams   = []byte{0x02, 0x45, 0x52, 0x43, 0x4C}
	BackupParams        = []byte{0x01, 0x43, 0x54, 0x52, 0x4C}
	RestoreParams       = []byte{0x02, 0x43, 0x54, 0x52, 0x4C}
)

var supportedV1 = map[Instruction]bool{
	InstPing:         true,
	InstRead:         true,
	InstWrite:        true,
	InstRegWrite:     true,
	InstAction:       true,
	InstFactoryReset: true,
	InstReboot:       true,
	InstSyncWrite:    true,
	InstBulkRead:     true,
}

// Supports reports whether the instruction exists in the given protocol generation
func (v Version) Supports(inst Instruction) bool {
	switch v {
	case V1:
		return supportedV1[inst]
	case V2:
		return FormatInstruction(inst) != "UNKNOWN" && inst != InstStatus
	}
	return false
}
