// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Decode errors
var (
	ErrIncomplete       = errors.New("incomplete frame")
	ErrHeaderNotFound   = errors.New("header not found")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrBadLength        = errors.New("invalid length field")
	ErrIDMismatch       = errors.New("response ID does not match request")
	ErrNotStatus        = errors.New("frame is not a status packet")
	ErrInvalidID        = errors.New("invalid ID")
)

// IsFramingError reports whether err means the stream has to be resynchronized
// rather than the frame being rejected for its content
func IsFramingError(err error) bool {
	return errors.Is(err, ErrHeaderNotFound) || errors.Is(err, ErrBadLength) ||
		errors.Is(err, ErrIDMismatch) || errors.Is(err, ErrNotStatus)
}

// Protocol 1.0 status error bits
const (
	ErrBitInputVoltage = 1 << 0
	ErrBitAngleLimit   = 1 << 1
	ErrBitOverheating  = 1 << 2
	ErrBitRange        = 1 << 3
	ErrBitChecksum     = 1 << 4
	ErrBitOverload     = 1 << 5
	ErrBitInstruction  = 1 << 6
)

var v1ErrorNames = []string{
	"input voltage",
	"angle limit",
	"overheating",
	"range",
	"checksum",
	"overload",
	"instruction",
}

var v1ErrorMessages = []string{
	"applied voltage is out of the operating range set in the control table",
	"goal position is outside the CW/CCW angle limits",
	"internal temperature is out of the operating range set in the control table",
	"instruction parameter is out of range",
	"checksum of the instruction packet is incorrect",
	"current load cannot be controlled with the set torque",
	"undefined instruction, or action sent without a pending reg write",
}

// Protocol 2.0 status error numbers (lower 7 bits) and the alert flag
const (
	AlertBit = 0x80

	ErrNumResultFail  = 0x01
	ErrNumInstruction = 0x02
	ErrNumCRC         = 0x03
	ErrNumDataRange   = 0x04
	ErrNumDataLength  = 0x05
	ErrNumDataLimit   = 0x06
	ErrNumAccess      = 0x07
)

var v2ErrorNames = map[uint8]string{
	ErrNumResultFail:  "result fail",
	ErrNumInstruction: "instruction error",
	ErrNumCRC:         "CRC error",
	ErrNumDataRange:   "data range error",
	ErrNumDataLength:  "data length error",
	ErrNumDataLimit:   "data limit error",
	ErrNumAccess:      "access error",
}

// HardwareError is a fault reported by an actuator in the error field of an
// otherwise valid status packet
type HardwareError struct {
	ID      uint8
	Version Version
	Code    uint8
}

// Alert reports whether a protocol 2.0 actuator raised its hardware alert
// flag. The cause is left in the actuator's Hardware Error Status register.
func (e *HardwareError) Alert() bool {
	return e.Version == V2 && e.Code&AlertBit != 0
}

// Flags returns the short names of every fault encoded in Code
func (e *HardwareError) Flags() []string {
	var flags []string
	if e.Version == V1 {
		for i, name := range v1ErrorNames {
			if e.Code&(1<<i) != 0 {
				flags = append(flags, name)
			}
		}
		return flags
	}

	if e.Code&AlertBit != 0 {
		flags = append(flags, "hardware alert")
	}
	if num := e.Code &^ AlertBit; num != 0 {
		name, ok := v2ErrorNames[num]
		if !ok {
			name = fmt.Sprintf("error 0x%02X", num)
		}
		flags = append(flags, name)
	}
	return flags
}

// Describe returns the long-form explanation of a protocol 1.0 fault
// bitmask, one sentence per set bit
func (e *HardwareError) Describe() []string {
	if e.Version != V1 {
		return e.Flags()
	}
	var msgs []string
	for i, msg := range v1ErrorMessages {
		if e.Code&(1<<i) != 0 {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Error implements the error interface
func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware error on ID %d (0x%02X): %s", e.ID, e.Code, strings.Join(e.Flags(), ", "))
}
