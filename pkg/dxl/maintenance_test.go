// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

func TestFactoryReset_Broadcast(t *testing.T) {
	bus, port := newTestBus(t, protocol.V2, always(protocol.V2))

	resp := bus.FactoryReset(protocol.BroadcastID)
	if resp.OK || !errors.Is(resp.Err, ErrNotExecuted) {
		t.Errorf("FactoryReset = %+v, want ErrNotExecuted", resp)
	}
	if n := len(port.written()); n != 0 {
		t.Errorf("%d packets written for a broadcast reset", n)
	}
}

func TestFactoryReset_Modes(t *testing.T) {
	tests := []struct {
		name string
		call func(*Bus, uint8) Response[struct{}]
		mode byte
	}{
		{"all", (*Bus).FactoryReset, 0xFF},
		{"except ID", (*Bus).FactoryResetExceptID, 0x01},
		{"except ID and baud rate", (*Bus).FactoryResetExceptIDBaudRate, 0x02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, port := newTestBus(t, protocol.V2, always(protocol.V2))

			if resp := tt.call(bus, 1); !resp.OK {
				t.Fatalf("reset failed: %v", resp.Err)
			}
			inst, id, params := port.lastFrame(t)
			if inst != protocol.InstFactoryReset || id != 1 {
				t.Errorf("sent %v to %d", inst, id)
			}
			if !bytes.Equal(params, []byte{tt.mode}) {
				t.Errorf("params % X, want %02X", params, tt.mode)
			}
		})
	}
}

func TestFactoryResetKeepingID_Broadcast(t *testing.T) {
	tests := []struct {
		name string
		call func(*Bus, uint8) Response[struct{}]
		mode byte
	}{
		{"except ID", (*Bus).FactoryResetExceptID, 0x01},
		{"except ID and baud rate", (*Bus).FactoryResetExceptIDBaudRate, 0x02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, port := newTestBus(t, protocol.V2, nil)

			if resp := tt.call(bus, protocol.BroadcastID); !resp.OK {
				t.Errorf("reset = %+v, want OK", resp)
			}
			if n := len(port.written()); n != 1 {
				t.Fatalf("%d packets written, want 1", n)
			}
			inst, id, params := port.lastFrame(t)
			if inst != protocol.InstFactoryReset || id != protocol.BroadcastID {
				t.Errorf("sent %v to %d", inst, id)
			}
			if !bytes.Equal(params, []byte{tt.mode}) {
				t.Errorf("params % X, want %02X", params, tt.mode)
			}
		})
	}
}

func TestFactoryReset_V1(t *testing.T) {
	bus, port := newTestBus(t, protocol.V1, always(protocol.V1))

	if resp := bus.FactoryReset(1); !resp.OK {
		t.Fatalf("FactoryReset failed: %v", resp.Err)
	}
	if _, _, params := port.lastFrame(t); len(params) != 0 {
		t.Errorf("params % X, want none", params)
	}

	resp := bus.FactoryResetExceptID(1)
	if resp.OK || !errors.Is(resp.Err, ErrUnsupported) {
		t.Errorf("FactoryResetExceptID = %+v, want ErrUnsupported", resp)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Bus, uint8) Response[struct{}]
		inst   protocol.Instruction
		params []byte
	}{
		{"reboot", (*Bus).Reboot, protocol.InstReboot, nil},
		{"clear position", (*Bus).ClearPosition, protocol.InstClear, []byte{0x01, 0x44, 0x58, 0x4C, 0x22}},
		{"clear errors", (*Bus).ClearErrors, protocol.InstClear, []byte{0x02, 0x45, 0x52, 0x43, 0x4C}},
		{"backup", (*Bus).ControlTableBackup, protocol.InstControlTableBackup, []byte{0x01, 0x43, 0x54, 0x52, 0x4C}},
		{"restore", (*Bus).ControlTableRestore, protocol.InstControlTableBackup, []byte{0x02, 0x43, 0x54, 0x52, 0x4C}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, port := newTestBus(t, protocol.V2, always(protocol.V2))

			if resp := tt.call(bus, 4); !resp.OK {
				t.Fatalf("command failed: %v", resp.Err)
			}
			inst, id, params := port.lastFrame(t)
			if inst != tt.inst || id != 4 || !bytes.Equal(params, tt.params) {
				t.Errorf("sent %v to %d with % X", inst, id, params)
			}
		})
	}
}

func TestMaintenance_Refused(t *testing.T) {
	// result fail: the actuator is moving or torque is enabled
	bus, _ := newTestBus(t, protocol.V2, func(inst protocol.Instruction, id uint8, params []byte) [][]byte {
		return [][]byte{status(protocol.V2, id, protocol.ErrNumResultFail)}
	})

	for name, call := range map[string]func(uint8) Response[struct{}]{
		"clear position": bus.ClearPosition,
		"backup":         bus.ControlTableBackup,
		"restore":        bus.ControlTableRestore,
	} {
		resp := call(1)
		if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrNumResultFail {
			t.Errorf("%s = %+v, want result fail", name, resp)
		}
	}
}

func TestMaintenance_V1Unsupported(t *testing.T) {
	bus, port := newTestBus(t, protocol.V1, always(protocol.V1))

	for name, call := range map[string]func(uint8) Response[struct{}]{
		"clear position": bus.ClearPosition,
		"clear errors":   bus.ClearErrors,
		"backup":         bus.ControlTableBackup,
		"restore":        bus.ControlTableRestore,
	} {
		if resp := call(1); resp.OK || !errors.Is(resp.Err, ErrUnsupported) {
			t.Errorf("%s = %+v, want ErrUnsupported", name, resp)
		}
	}
	if n := len(port.written()); n != 0 {
		t.Errorf("%d packets written", n)
	}

	if resp := bus.Reboot(1); !resp.OK {
		t.Errorf("Reboot = %+v, want OK", resp)
	}
}
