// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"errors"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

func groupFailed(err error) GroupResponse[int64] {
	return GroupResponse[int64]{Err: err}
}

// checkGroup validates group parameters against the bus before any I/O
func (b *Bus) checkGroup(op string, inst protocol.Instruction, want, mode entryMode, ids []uint8) error {
	if err := b.checkSupported(op, inst); err != nil {
		return err
	}
	if len(ids) == 0 {
		return invalid(op, "no actuators added")
	}
	if mode != want {
		return invalid(op, "%s params given to a %s operation", mode, want)
	}
	for _, id := range ids {
		if err := b.checkTarget(op, id, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) checkSync(op string, inst protocol.Instruction, want entryMode, p *SyncParams) error {
	if p == nil {
		return invalid(op, "nil params")
	}
	if err := b.checkGroup(op, inst, want, p.mode, p.ids); err != nil {
		return err
	}
	return b.checkRegister(op, p.address, p.length)
}

func (b *Bus) checkBulk(op string, inst protocol.Instruction, want entryMode, p *BulkParams) error {
	if p == nil {
		return invalid(op, "nil params")
	}
	ids := make([]uint8, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.ID
	}
	if err := b.checkGroup(op, inst, want, p.mode, ids); err != nil {
		return err
	}
	for _, e := range p.entries {
		if err := b.checkRegister(op, e.Address, e.Length); err != nil {
			return err
		}
	}
	return nil
}

// groupRead sends a group read and waits for one status packet per target
func (b *Bus) groupRead(op string, inst protocol.Instruction, params []byte, targets []target) GroupResponse[int64] {
	pkt, err := b.encode(op, protocol.BroadcastID, inst, params)
	if err != nil {
		return groupFailed(err)
	}

	x, err := b.begin()
	if err != nil {
		return groupFailed(err)
	}
	defer x.end()

	if err := x.send(pkt); err != nil {
		b.record(err)
		return groupValues(b.Version(), targets, nil, err)
	}

	rx := 0
	for _, t := range targets {
		rx += b.codec.StatusSize(t.length)
	}
	got, err := x.gather(targets, x.deadline(rx, len(targets)))
	resp := groupValues(b.Version(), targets, got, err)
	b.stats.RecordTransaction(resp.OK, errors.Is(resp.Err, ErrTimeout))
	return resp
}

// fastRead sends a fast group read and splits the single aggregated reply
func (b *Bus) fastRead(op string, inst protocol.Instruction, params []byte, targets []target) GroupResponse[int64] {
	pkt, err := b.encode(op, protocol.BroadcastID, inst, params)
	if err != nil {
		return groupFailed(err)
	}

	x, err := b.begin()
	if err != nil {
		return groupFailed(err)
	}
	defer x.end()

	if err := x.send(pkt); err != nil {
		b.record(err)
		return groupValues(b.Version(), targets, nil, err)
	}

	rx := b.codec.StatusSize(fastPayload(targets))
	st, err := x.status(protocol.BroadcastID, x.deadline(rx, len(targets)))
	var got map[uint8]answer
	if err == nil {
		got, err = splitFast(st, targets)
	}
	resp := groupValues(b.Version(), targets, got, err)
	b.stats.RecordTransaction(resp.OK, errors.Is(resp.Err, ErrTimeout))
	return resp
}

// SyncRead reads the same register from every actuator in params. Each
// actuator answers with its own status packet.
func (b *Bus) SyncRead(params *SyncParams) GroupResponse[int64] {
	if err := b.checkSync("sync read", protocol.InstSyncRead, modeRead, params); err != nil {
		return groupFailed(err)
	}
	return b.groupRead("sync read", protocol.InstSyncRead, params.readParams(b.codec), params.targets())
}

// FastSyncRead is SyncRead with all values returned in one status packet
func (b *Bus) FastSyncRead(params *SyncParams) GroupResponse[int64] {
	if err := b.checkSync("fast sync read", protocol.InstFastSyncRead, modeRead, params); err != nil {
		return groupFailed(err)
	}
	return b.fastRead("fast sync read", protocol.InstFastSyncRead, params.readParams(b.codec), params.targets())
}

// SyncWrite stores one value per actuator in the same register. No status
// is returned; OK means the packet was sent.
func (b *Bus) SyncWrite(params *SyncParams) Response[struct{}] {
	const op = "sync write"
	if err := b.checkSync(op, protocol.InstSyncWrite, modeWrite, params); err != nil {
		return failed[struct{}](err)
	}
	data, err := params.writeParams(b.codec)
	if err != nil {
		return failed[struct{}](err)
	}
	return b.broadcast(op, protocol.InstSyncWrite, data)
}

// BulkRead reads a different register from each actuator in params
func (b *Bus) BulkRead(params *BulkParams) GroupResponse[int64] {
	if err := b.checkBulk("bulk read", protocol.InstBulkRead, modeRead, params); err != nil {
		return groupFailed(err)
	}
	return b.groupRead("bulk read", protocol.InstBulkRead, params.readParams(b.codec), params.targets())
}

// FastBulkRead is BulkRead with all values returned in one status packet
func (b *Bus) FastBulkRead(params *BulkParams) GroupResponse[int64] {
	if err := b.checkBulk("fast bulk read", protocol.InstFastBulkRead, modeRead, params); err != nil {
		return groupFailed(err)
	}
	return b.fastRead("fast bulk read", protocol.InstFastBulkRead, params.readParams(b.codec), params.targets())
}

// BulkWrite stores a value in each actuator's own register. No status is
// returned; OK means the packet was sent.
func (b *Bus) BulkWrite(params *BulkParams) Response[struct{}] {
	const op = "bulk write"
	if err := b.checkBulk(op, protocol.InstBulkWrite, modeWrite, params); err != nil {
		return failed[struct{}](err)
	}
	data, err := params.writeParams(b.codec)
	if err != nil {
		return failed[struct{}](err)
	}
	return b.broadcast(op, protocol.InstBulkWrite, data)
}

func (b *Bus) broadcast(op string, inst protocol.Instruction, params []byte) Response[struct{}] {
	pkt, err := b.encode(op, protocol.BroadcastID, inst, params)
	if err != nil {
		return failed[struct{}](err)
	}
	st, received, err := b.transact(pkt, protocol.BroadcastID, 0)
	return unitResponse(b.Version(), st, received, err)
}
