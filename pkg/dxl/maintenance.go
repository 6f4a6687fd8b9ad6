// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import "github.com/Thermoquad/dxlstat/pkg/protocol"

// factoryReset sends a factory reset with the given mode byte. Protocol 1.0
// has no mode byte and always resets everything.
func (b *Bus) factoryReset(op string, id uint8, mode uint8) Response[struct{}] {
	if b.Version() == protocol.V1 && mode != protocol.FactoryResetAll {
		return failed[struct{}](&ValidationError{
			Op:  op,
			Msg: "reset modes are not available in protocol 1.0",
			Err: ErrUnsupported,
		})
	}
	// Actuators ignore a broadcast reset of everything
	if id == protocol.BroadcastID && mode == protocol.FactoryResetAll {
		return failed[struct{}](ErrNotExecuted)
	}

	var params []byte
	if b.Version() == protocol.V2 {
		params = []byte{mode}
	}
	return b.command(op, protocol.InstFactoryReset, id, params)
}

// FactoryReset restores every register, ID and baud rate included, to the
// factory default. The broadcast ID is rejected by the actuators, so
// addressing it returns ErrNotExecuted without touching the bus.
func (b *Bus) FactoryReset(id uint8) Response[struct{}] {
	return b.factoryReset("factory reset", id, protocol.FactoryResetAll)
}

// FactoryResetExceptID restores every register except the ID. Unlike
// FactoryReset, the broadcast ID is transmitted: actuators accept this mode
// from a broadcast and reset without answering.
func (b *Bus) FactoryResetExceptID(id uint8) Response[struct{}] {
	return b.factoryReset("factory reset except ID", id, protocol.FactoryResetExceptID)
}

// FactoryResetExceptIDBaudRate restores every register except the ID and
// baud rate. As with FactoryResetExceptID, a broadcast is transmitted and
// every actuator resets without answering.
func (b *Bus) FactoryResetExceptIDBaudRate(id uint8) Response[struct{}] {
	return b.factoryReset("factory reset except ID and baud rate", id, protocol.FactoryResetExceptIDBaud)
}

// Reboot restarts the actuator
func (b *Bus) Reboot(id uint8) Response[struct{}] {
	return b.command("reboot", protocol.InstReboot, id, nil)
}

// ClearPosition resets the multi-turn position count. The actuator refuses
// while moving, which is reported as a hardware error.
func (b *Bus) ClearPosition(id uint8) Response[struct{}] {
	return b.command("clear position", protocol.InstClear, id, protocol.ClearPositionParams)
}

// ClearErrors clears latched errors
func (b *Bus) ClearErrors(id uint8) Response[struct{}] {
	return b.command("clear errors", protocol.InstClear, id, protocol.ClearErrorsParams)
}

// ControlTableBackup saves the control table to the backup area. Torque must
// be disabled or the actuator reports a hardware error.
func (b *Bus) ControlTableBackup(id uint8) Response[struct{}] {
	return b.command("control table backup", protocol.InstControlTableBackup, id, protocol.BackupParams)
}

// ControlTableRestore loads the control table from the backup area
func (b *Bus) ControlTableRestore(id uint8) Response[struct{}] {
	return b.command("control table restore", protocol.InstControlTableBackup, id, protocol.RestoreParams)
}
