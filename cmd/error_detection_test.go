// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

func mustFrame(t *testing.T, v protocol.Version, id uint8, inst protocol.Instruction, params ...byte) protocol.Frame {
	t.Helper()
	codec, err := protocol.CodecFor(v)
	if err != nil {
		t.Fatalf("CodecFor failed: %v", err)
	}
	pkt, err := codec.Encode(id, inst, params)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	f, _, err := codec.Decode(pkt)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return f
}

// ============================================================
// Response Tracker Tests
// ============================================================

func TestResponseTracker(t *testing.T) {
	readParams := []byte{0x84, 0x00, 0x04, 0x00}
	ping := mustFrame(t, protocol.V2, 1, protocol.InstPing)
	read := mustFrame(t, protocol.V2, 2, protocol.InstRead, readParams...)
	reply1 := mustFrame(t, protocol.V2, 1, protocol.InstStatus, 0x00, 0x06, 0x04, 0x2A)
	broadcast := mustFrame(t, protocol.V2, protocol.BroadcastID, protocol.InstAction)

	var rt responseTracker

	if _, _, missed := rt.observe(ping); missed {
		t.Error("first instruction reported as missed")
	}
	if _, _, missed := rt.observe(reply1); missed {
		t.Error("status reported as missed")
	}
	if _, _, missed := rt.observe(read); missed {
		t.Error("answered ping reported as missed")
	}

	// READ to ID 2 never answered
	inst, id, missed := rt.observe(broadcast)
	if !missed || inst != protocol.InstRead || id != 2 {
		t.Errorf("observe = (%v, %d, %v), want (READ, 2, true)", inst, id, missed)
	}

	// Broadcast instructions expect no reply
	if _, _, missed := rt.observe(ping); missed {
		t.Error("broadcast reported as missed")
	}
}

func TestResponseTracker_OtherIDDoesNotAnswer(t *testing.T) {
	var rt responseTracker
	rt.observe(mustFrame(t, protocol.V2, 1, protocol.InstPing))
	rt.observe(mustFrame(t, protocol.V2, 3, protocol.InstStatus, 0x00, 0x06, 0x04, 0x2A))

	if _, id, missed := rt.observe(mustFrame(t, protocol.V2, 1, protocol.InstPing)); !missed || id != 1 {
		t.Errorf("status from ID 3 should not answer ID 1 (missed=%v id=%d)", missed, id)
	}
}

func TestResponseTracker_IgnoresV1(t *testing.T) {
	var rt responseTracker
	for i := 0; i < 3; i++ {
		if _, _, missed := rt.observe(mustFrame(t, protocol.V1, 1, protocol.InstPing)); missed {
			t.Fatal("protocol 1.0 frames cannot be tracked")
		}
	}
}

// ============================================================
// Error Detection Model Tests
// ============================================================

func TestModel_ProcessFrame(t *testing.T) {
	m := initialModel("test", 10, true)

	ok := mustFrame(t, protocol.V2, 1, protocol.InstPing)
	m.processFrame(frameDataMsg{event: frameEvent{frame: ok, at: time.Now()}})

	fault := mustFrame(t, protocol.V2, 1, protocol.InstStatus, 0x80, 0x06, 0x04, 0x2A)
	m.processFrame(frameDataMsg{
		event:            frameEvent{frame: fault, at: time.Now()},
		validationErrors: protocol.ValidateFrame(fault),
	})

	m.processFrame(frameDataMsg{event: frameEvent{at: time.Now(), decodeErr: protocol.ErrChecksumMismatch}})

	snap := m.stats.Snapshot()
	if snap.TotalFrames != 3 {
		t.Errorf("TotalFrames = %d, want 3", snap.TotalFrames)
	}
	if snap.CRCErrors != 1 {
		t.Errorf("CRCErrors = %d, want 1", snap.CRCErrors)
	}
	if snap.HardwareErrors != 1 {
		t.Errorf("HardwareErrors = %d, want 1", snap.HardwareErrors)
	}

	a := m.actuators[1]
	if a == nil {
		t.Fatal("ID 1 not tracked")
	}
	if a.instructions != 1 || a.statuses != 1 || a.faults != 1 || a.lastError != 0x80 {
		t.Errorf("activity = %+v", *a)
	}

	if len(m.errorLog) != 3 {
		t.Fatalf("log has %d entries, want 3", len(m.errorLog))
	}
	if !strings.Contains(m.errorLog[1].message, "hardware alert") || !m.errorLog[1].isError {
		t.Errorf("log[1] = %+v", m.errorLog[1])
	}
}

func TestModel_LogIsBounded(t *testing.T) {
	m := initialModel("test", 10, false)
	for i := 0; i < 150; i++ {
		m.addLogEntry("event", false)
	}
	if len(m.errorLog) != m.maxLogEntries {
		t.Errorf("log has %d entries, want %d", len(m.errorLog), m.maxLogEntries)
	}
}

func TestModel_ViewRenders(t *testing.T) {
	m := initialModel("Serial: /dev/null @ 57600 baud", 10, false)
	m.processFrame(frameDataMsg{event: frameEvent{frame: mustFrame(t, protocol.V2, 7, protocol.InstPing), at: time.Now()}})

	view := m.View()
	for _, want := range []string{"DXLSTAT - ERROR DETECTION", "Serial: /dev/null", "ID   7:"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
