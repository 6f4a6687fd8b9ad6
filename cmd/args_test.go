// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

// ============================================================
// Argument Parsing Tests
// ============================================================

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{"1", 1, false},
		{"253", 253, false},
		{"0x10", 0x10, false},
		{"broadcast", protocol.BroadcastID, false},
		{"BC", protocol.BroadcastID, false},
		{"256", 0, true},
		{"-1", 0, true},
		{"one", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseIDList(t *testing.T) {
	tests := []struct {
		in      string
		want    []uint8
		wantErr bool
	}{
		{"1", []uint8{1}, false},
		{"1,2,3", []uint8{1, 2, 3}, false},
		{"1, 5-7", []uint8{1, 5, 6, 7}, false},
		{"0x0A-0x0C", []uint8{10, 11, 12}, false},
		{"7-5", nil, true},
		{"", nil, true},
		{"1,x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseIDList(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseIDList(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseIDList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAssignment(t *testing.T) {
	id, v, err := parseAssignment("3=-0x10")
	if err != nil {
		t.Fatalf("parseAssignment failed: %v", err)
	}
	if id != 3 || v != -16 {
		t.Errorf("parseAssignment = (%d, %d), want (3, -16)", id, v)
	}

	for _, bad := range []string{"3", "3=", "x=1"} {
		if _, _, err := parseAssignment(bad); err == nil {
			t.Errorf("parseAssignment(%q) should fail", bad)
		}
	}
}

func TestParseBulkSpec(t *testing.T) {
	spec, err := parseBulkSpec("1:132:4")
	if err != nil {
		t.Fatalf("parseBulkSpec failed: %v", err)
	}
	if spec != (bulkSpec{id: 1, address: 132, length: 4}) {
		t.Errorf("parseBulkSpec = %+v", spec)
	}

	spec, err = parseBulkSpec("2:116:4=2048")
	if err != nil {
		t.Fatalf("parseBulkSpec failed: %v", err)
	}
	if spec != (bulkSpec{id: 2, address: 116, length: 4, value: 2048, hasValue: true}) {
		t.Errorf("parseBulkSpec = %+v", spec)
	}

	for _, bad := range []string{"1:132", "1:132:4:5", "1:70000:4", "1:132:4=x"} {
		if _, err := parseBulkSpec(bad); err == nil {
			t.Errorf("parseBulkSpec(%q) should fail", bad)
		}
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		length int
		want   uint64
	}{
		{1, 0xFF},
		{2, 0xFFFF},
		{4, 0xFFFFFFFF},
		{8, ^uint64(0)},
	}
	for _, tt := range tests {
		if got := mask(tt.length); got != tt.want {
			t.Errorf("mask(%d) = 0x%X, want 0x%X", tt.length, got, tt.want)
		}
	}
}

// ============================================================
// Exit Code Tests
// ============================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"connection", connectionError(errors.New("no such port")), exitConnection},
		{"usage", usageError("bad flag"), exitConnection},
		{"wrapped usage", fmt.Errorf("ctx: %w", usageError("bad")), exitConnection},
		{"validation", &dxl.ValidationError{Op: "read", Msg: "zero length"}, exitConnection},
		{"timeout", dxl.ErrTimeout, exitFailed},
		{"hardware", &protocol.HardwareError{ID: 1, Version: protocol.V2, Code: 0x80}, exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// ============================================================
// Formatting Tests
// ============================================================

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Second, "1 minute and 30 seconds"},
		{2*time.Hour + 5*time.Second, "2 hours and 5 seconds"},
		{26*time.Hour + 3*time.Minute + time.Second, "1 day, 2 hours, 3 minutes, and 1 second"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatModel(t *testing.T) {
	info := dxl.PingInfo{ID: 1, ModelNumber: 1030, Firmware: 42}
	if got := formatModel(protocol.V2, info); got != "ID   1  model  1030  firmware v42" {
		t.Errorf("formatModel V2 = %q", got)
	}
	if got := formatModel(protocol.V1, info); got != "ID   1" {
		t.Errorf("formatModel V1 = %q", got)
	}
}
