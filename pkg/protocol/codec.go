// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"bytes"
	"fmt"
)

// Codec encodes instruction packets and decodes frames for one protocol
// generation
type Codec interface {
	// Version returns the protocol generation handled by the codec
	Version() Version

	// Encode builds a complete wire frame for (id, inst, params)
	Encode(id uint8, inst Instruction, params []byte) ([]byte, error)

	// Decode scans buf for the first frame. It returns the frame and the
	// number of bytes of buf that were consumed. On ErrIncomplete, consumed
	// covers only garbage in front of the candidate header and the caller
	// should read more. On any other error the consumed bytes must be
	// dropped before decoding again.
	Decode(buf []byte) (Frame, int, error)

	// Field encodes one address or length field at this generation's width
	// (1 byte for 1.0, 2 bytes little-endian for 2.0)
	Field(v int) []byte

	// MaxField returns the largest value Field can carry
	MaxField() int

	// AddressParams encodes an address/length pair
	AddressParams(address, length int) []byte

	// BulkReadParams encodes the bulk read entry list
	BulkReadParams(entries []BulkReadEntry) []byte

	// StatusSize returns the unstuffed wire size of a status packet
	// carrying n parameter bytes
	StatusSize(n int) int
}

// CodecFor returns the codec for the given protocol generation
func CodecFor(v Version) (Codec, error) {
	switch v {
	case V1:
		return codecV1{}, nil
	case V2:
		return codecV2{}, nil
	}
	return nil, fmt.Errorf("unsupported protocol version %d", uint8(v))
}

// BulkReadEntry is one target of a bulk read request
type BulkReadEntry struct {
	ID      uint8
	Address int
	Length  int
}

// Frame is one validated frame taken off the wire
type Frame struct {
	Version Version
	ID      uint8

	// Body holds the instruction (or 1.0 error) byte followed by the
	// parameters, with 2.0 byte stuffing already removed
	Body []byte

	// Raw holds the frame exactly as received, header and checksum included
	Raw []byte
}

// StatusPacket is the response an actuator sends back to the controller
type StatusPacket struct {
	ID     uint8
	Error  uint8
	Params []byte
}

// IsStatus reports whether the frame can be read as a status packet.
// Protocol 1.0 has no marker to tell an echoed instruction from a status
// packet, so every 1.0 frame qualifies.
func (f Frame) IsStatus() bool {
	switch f.Version {
	case V1:
		return len(f.Body) >= 1
	case V2:
		return len(f.Body) >= 2 && Instruction(f.Body[0]) == InstStatus
	}
	return false
}

// Status interprets the frame as a status packet
func (f Frame) Status() (StatusPacket, error) {
	if !f.IsStatus() {
		return StatusPacket{}, ErrNotStatus
	}
	if f.Version == V1 {
		return StatusPacket{ID: f.ID, Error: f.Body[0], Params: f.Body[1:]}, nil
	}
	return StatusPacket{ID: f.ID, Error: f.Body[1], Params: f.Body[2:]}, nil
}

// Instruction interprets the frame as an instruction packet
func (f Frame) Instruction() (Instruction, []byte) {
	if len(f.Body) == 0 {
		return 0, nil
	}
	return Instruction(f.Body[0]), f.Body[1:]
}

// Err returns the status error as a HardwareError, or nil if the actuator
// reported no fault
func (s StatusPacket) Err(v Version) *HardwareError {
	if s.Error == 0 {
		return nil
	}
	return &HardwareError{ID: s.ID, Version: v, Code: s.Error}
}

// partialHeader returns how many trailing bytes of buf could still be the
// start of header
func partialHeader(buf, header []byte) int {
	for n := len(header) - 1; n > 0; n-- {
		if len(buf) >= n && bytes.Equal(buf[len(buf)-n:], header[:n]) {
			return n
		}
	}
	return 0
}

func checkID(id uint8) error {
	if id > BroadcastID {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return nil
}

// ============================================================
// Protocol 1.0
// ============================================================

type codecV1 struct{}

func (codecV1) Version() Version { return V1 }

func (codecV1) Encode(id uint8, inst Instruction, params []byte) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	length := len(params) + 2
	if length > maxLengthV1 {
		return nil, fmt.Errorf("%w: %d parameter bytes (max %d)", ErrBadLength, len(params), maxLengthV1-2)
	}

	packet := make([]byte, 0, headerSizeV1+length)
	packet = append(packet, headerV1...)
	packet = append(packet, id, uint8(length), uint8(inst))
	packet = append(packet, params...)
	packet = append(packet, ChecksumV1(packet[2:]))
	return packet, nil
}

func (codecV1) Decode(buf []byte) (Frame, int, error) {
	start := bytes.Index(buf, headerV1)
	if start < 0 {
		return Frame{}, len(buf) - partialHeader(buf, headerV1), ErrHeaderNotFound
	}
	frame := buf[start:]
	if len(frame) < headerSizeV1 {
		return Frame{}, start, ErrIncomplete
	}

	// FF FF FF: the first FF is noise in front of the real header
	if frame[2] == 0xFF {
		return Frame{}, start + 1, ErrHeaderNotFound
	}

	length := int(frame[3])
	if length < minLengthV1 {
		return Frame{}, start + 1, fmt.Errorf("%w: %d", ErrBadLength, length)
	}
	total := headerSizeV1 + length
	if len(frame) < total {
		return Frame{}, start, ErrIncomplete
	}

	want := frame[total-1]
	if got := ChecksumV1(frame[2 : total-1]); got != want {
		return Frame{}, start + 1, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksumMismatch, got, want)
	}

	return Frame{
		Version: V1,
		ID:      frame[2],
		Body:    bytes.Clone(frame[headerSizeV1 : total-1]),
		Raw:     bytes.Clone(frame[:total]),
	}, start + total, nil
}

func (codecV1) Field(v int) []byte { return []byte{uint8(v)} }

func (codecV1) MaxField() int { return 0xFF }

func (codecV1) AddressParams(address, length int) []byte {
	return []byte{uint8(address), uint8(length)}
}

// BulkReadParams for 1.0 is a reserved zero byte followed by
// (length, id, address) triples
func (codecV1) BulkReadParams(entries []BulkReadEntry) []byte {
	params := make([]byte, 0, 1+3*len(entries))
	params = append(params, 0x00)
	for _, e := range entries {
		params = append(params, uint8(e.Length), e.ID, uint8(e.Address))
	}
	return params
}

func (codecV1) StatusSize(n int) int {
	// header, ID, length, error, params, checksum
	return headerSizeV1 + 1 + n + 1
}

// ============================================================
// Protocol 2.0
// ============================================================

type codecV2 struct{}

func (codecV2) Version() Version { return V2 }

func (codecV2) Encode(id uint8, inst Instruction, params []byte) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	// Stuffing covers the instruction byte too, matching what Decode undoes
	body := Stuff(append([]byte{uint8(inst)}, params...))
	length := len(body) + 2
	if length > MaxLengthV2 {
		return nil, fmt.Errorf("%w: %d parameter bytes (max %d)", ErrBadLength, len(body)-1, MaxLengthV2-3)
	}

	packet := make([]byte, 0, headerSizeV2+length)
	packet = append(packet, headerV2...)
	packet = append(packet, id, uint8(length), uint8(length>>8))
	packet = append(packet, body...)
	crc := CRCV2(packet, 0)
	packet = append(packet, uint8(crc), uint8(crc>>8))
	return packet, nil
}

func (codecV2) Decode(buf []byte) (Frame, int, error) {
	start := bytes.Index(buf, headerV2)
	if start < 0 {
		return Frame{}, len(buf) - partialHeader(buf, headerV2), ErrHeaderNotFound
	}
	frame := buf[start:]
	if len(frame) < headerSizeV2 {
		return Frame{}, start, ErrIncomplete
	}

	id := frame[4]
	if id > BroadcastID {
		return Frame{}, start + 1, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	length := int(frame[5]) | int(frame[6])<<8
	if length < minLengthV2 || length > MaxLengthV2 {
		return Frame{}, start + 1, fmt.Errorf("%w: %d", ErrBadLength, length)
	}
	total := headerSizeV2 + length
	if len(frame) < total {
		return Frame{}, start, ErrIncomplete
	}

	want := uint16(frame[total-2]) | uint16(frame[total-1])<<8
	if got := CRCV2(frame[:total-2], 0); got != want {
		return Frame{}, start + 1, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksumMismatch, got, want)
	}

	return Frame{
		Version: V2,
		ID:      id,
		Body:    Unstuff(frame[headerSizeV2 : total-2]),
		Raw:     bytes.Clone(frame[:total]),
	}, start + total, nil
}

func (codecV2) Field(v int) []byte { return []byte{uint8(v), uint8(v >> 8)} }

func (codecV2) MaxField() int { return 0xFFFF }

func (codecV2) AddressParams(address, length int) []byte {
	return []byte{uint8(address), uint8(address >> 8), uint8(length), uint8(length >> 8)}
}

// BulkReadParams for 2.0 is a list of (id, address, length) entries
func (codecV2) BulkReadParams(entries []BulkReadEntry) []byte {
	params := make([]byte, 0, 5*len(entries))
	for _, e := range entries {
		params = append(params, e.ID,
			uint8(e.Address), uint8(e.Address>>8),
			uint8(e.Length), uint8(e.Length>>8))
	}
	return params
}

func (codecV2) StatusSize(n int) int {
	// header, ID, length, instruction, error, params, CRC
	return headerSizeV2 + 2 + n + 2
}
