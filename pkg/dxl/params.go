// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import "github.com/Thermoquad/dxlstat/pkg/protocol"

type entryMode int

const (
	modeEmpty entryMode = iota
	modeRead
	modeWrite
)

func (m entryMode) String() string {
	switch m {
	case modeRead:
		return "read"
	case modeWrite:
		return "write"
	}
	return "empty"
}

func checkGroupID(op string, id uint8) error {
	if id > protocol.MaxIDV1 {
		return invalid(op, "ID %d is not an actuator ID", id)
	}
	return nil
}

// ============================================================
// Sync Parameters
// ============================================================

// SyncParams lists the actuators of a sync instruction. Every entry shares
// one address, length and signedness. Entries are either all reads
// (AddMotor) or all writes (AddValue) and keep insertion order.
type SyncParams struct {
	address int
	length  int
	signed  bool
	mode    entryMode
	ids     []uint8
	values  []int64
	seen    map[uint8]bool
}

// NewSyncParams starts a sync parameter set for one register
func NewSyncParams(address, length int, signed bool) (*SyncParams, error) {
	if address < 0 {
		return nil, invalid("sync params", "negative address %d", address)
	}
	if err := checkValueLength("sync params", length); err != nil {
		return nil, err
	}
	return &SyncParams{
		address: address,
		length:  length,
		signed:  signed,
		seen:    make(map[uint8]bool),
	}, nil
}

func (p *SyncParams) add(mode entryMode, id uint8) error {
	if err := checkGroupID("sync params", id); err != nil {
		return err
	}
	if p.mode != modeEmpty && p.mode != mode {
		return invalid("sync params", "cannot add a %s entry to %s params", mode, p.mode)
	}
	if p.seen[id] {
		return invalid("sync params", "duplicate ID %d", id)
	}
	p.mode = mode
	p.seen[id] = true
	p.ids = append(p.ids, id)
	return nil
}

// AddMotor adds a read target
func (p *SyncParams) AddMotor(id uint8) error {
	return p.add(modeRead, id)
}

// AddValue adds a write target with the value to store
func (p *SyncParams) AddValue(id uint8, value int64) error {
	if _, err := EncodeValue(value, p.length, p.signed); err != nil {
		return invalid("sync params", "ID %d: %v", id, err)
	}
	if err := p.add(modeWrite, id); err != nil {
		return err
	}
	p.values = append(p.values, value)
	return nil
}

// Address returns the shared register address
func (p *SyncParams) Address() int { return p.address }

// Length returns the shared register width in bytes
func (p *SyncParams) Length() int { return p.length }

// Signed reports whether values are two's complement
func (p *SyncParams) Signed() bool { return p.signed }

// IDs returns the targets in insertion order
func (p *SyncParams) IDs() []uint8 { return append([]uint8(nil), p.ids...) }

func (p *SyncParams) targets() []target {
	out := make([]target, len(p.ids))
	for i, id := range p.ids {
		out[i] = target{id: id, length: p.length, signed: p.signed}
	}
	return out
}

// readParams serializes [address, length, id...]
func (p *SyncParams) readParams(c protocol.Codec) []byte {
	params := c.AddressParams(p.address, p.length)
	return append(params, p.ids...)
}

// writeParams serializes [address, length, (id, value)...]
func (p *SyncParams) writeParams(c protocol.Codec) ([]byte, error) {
	params := c.AddressParams(p.address, p.length)
	for i, id := range p.ids {
		data, err := EncodeValue(p.values[i], p.length, p.signed)
		if err != nil {
			return nil, invalid("sync write", "ID %d: %v", id, err)
		}
		params = append(params, id)
		params = append(params, data...)
	}
	return params, nil
}

// ============================================================
// Bulk Parameters
// ============================================================

// BulkEntry is one actuator of a bulk instruction
type BulkEntry struct {
	ID      uint8
	Address int
	Length  int
	Signed  bool
	Value   int64
}

// BulkParams lists the actuators of a bulk instruction, each with its own
// register. Entries are either all reads or all writes and keep insertion
// order.
type BulkParams struct {
	mode    entryMode
	entries []BulkEntry
	seen    map[uint8]bool
}

// NewBulkParams starts an empty bulk parameter set
func NewBulkParams() *BulkParams {
	return &BulkParams{seen: make(map[uint8]bool)}
}

func (p *BulkParams) add(mode entryMode, e BulkEntry) error {
	if err := checkGroupID("bulk params", e.ID); err != nil {
		return err
	}
	if e.Address < 0 {
		return invalid("bulk params", "ID %d: negative address %d", e.ID, e.Address)
	}
	if err := checkValueLength("bulk params", e.Length); err != nil {
		return err
	}
	if p.mode != modeEmpty && p.mode != mode {
		return invalid("bulk params", "cannot add a %s entry to %s params", mode, p.mode)
	}
	if p.seen[e.ID] {
		return invalid("bulk params", "duplicate ID %d", e.ID)
	}
	p.mode = mode
	p.seen[e.ID] = true
	p.entries = append(p.entries, e)
	return nil
}

// AddAddress adds a read target
func (p *BulkParams) AddAddress(id uint8, address, length int, signed bool) error {
	return p.add(modeRead, BulkEntry{ID: id, Address: address, Length: length, Signed: signed})
}

// AddValue adds a write target with the value to store
func (p *BulkParams) AddValue(id uint8, address, length int, value int64, signed bool) error {
	if err := checkValueLength("bulk params", length); err != nil {
		return err
	}
	if _, err := EncodeValue(value, length, signed); err != nil {
		return invalid("bulk params", "ID %d: %v", id, err)
	}
	return p.add(modeWrite, BulkEntry{ID: id, Address: address, Length: length, Signed: signed, Value: value})
}

// Entries returns the targets in insertion order
func (p *BulkParams) Entries() []BulkEntry { return append([]BulkEntry(nil), p.entries...) }

func (p *BulkParams) targets() []target {
	out := make([]target, len(p.entries))
	for i, e := range p.entries {
		out[i] = target{id: e.ID, length: e.Length, signed: e.Signed}
	}
	return out
}

func (p *BulkParams) readParams(c protocol.Codec) []byte {
	entries := make([]protocol.BulkReadEntry, len(p.entries))
	for i, e := range p.entries {
		entries[i] = protocol.BulkReadEntry{ID: e.ID, Address: e.Address, Length: e.Length}
	}
	return c.BulkReadParams(entries)
}

// writeParams serializes (id, address, length, value) entries
func (p *BulkParams) writeParams(c protocol.Codec) ([]byte, error) {
	var params []byte
	for _, e := range p.entries {
		data, err := EncodeValue(e.Value, e.Length, e.Signed)
		if err != nil {
			return nil, invalid("bulk write", "ID %d: %v", e.ID, err)
		}
		params = append(params, e.ID)
		params = append(params, c.AddressParams(e.Address, e.Length)...)
		params = append(params, data...)
	}
	return params, nil
}

// target is one expected responder of a group read
type target struct {
	id     uint8
	length int
	signed bool
}
