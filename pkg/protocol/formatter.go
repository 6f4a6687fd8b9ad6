// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"strings"
	"time"
)

// FormatInstruction returns the human-readable name for an instruction
func FormatInstruction(inst Instruction) string {
	switch inst {
	case InstPing:
		return "PING"
	case InstRead:
		return "READ"
	case InstWrite:
		return "WRITE"
	case InstRegWrite:
		return "REG_WRITE"
	case InstAction:
		return "ACTION"
	case InstFactoryReset:
		return "FACTORY_RESET"
	case InstReboot:
		return "REBOOT"
	case InstClear:
		return "CLEAR"
	case InstControlTableBackup:
		return "CONTROL_TABLE_BACKUP"
	case InstStatus:
		return "STATUS"
	case InstSyncRead:
		return "SYNC_READ"
	case InstSyncWrite:
		return "SYNC_WRITE"
	case InstFastSyncRead:
		return "FAST_SYNC_READ"
	case InstBulkRead:
		return "BULK_READ"
	case InstBulkWrite:
		return "BULK_WRITE"
	case InstFastBulkRead:
		return "FAST_BULK_READ"
	default:
		return "UNKNOWN"
	}
}

// FormatID renders an ID, naming the broadcast ID
func FormatID(id uint8) string {
	if id == BroadcastID {
		return "BROADCAST"
	}
	return fmt.Sprintf("%d", id)
}

// FormatBytes renders a byte slice as space separated hex
func FormatBytes(b []byte) string {
	if len(b) == 0 {
		return "(none)"
	}
	var s strings.Builder
	for i, v := range b {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02X", v)
	}
	return s.String()
}

// FormatFrame formats a decoded frame into a human-readable string
func FormatFrame(f Frame, at time.Time) string {
	timestamp := at.Format("15:04:05.000")

	if f.Version == V2 && f.IsStatus() {
		status, _ := f.Status()
		result := fmt.Sprintf("[%s] STATUS (0x55) id=%s err=0x%02X len=%d\n",
			timestamp, FormatID(status.ID), status.Error, len(status.Params))
		if herr := status.Err(V2); herr != nil {
			result += fmt.Sprintf("  error:  %s\n", strings.Join(herr.Flags(), ", "))
		}
		result += fmt.Sprintf("  params: %s\n", FormatBytes(status.Params))
		return result
	}

	inst, params := f.Instruction()
	result := fmt.Sprintf("[%s] %s (0x%02X) id=%s len=%d\n",
		timestamp, FormatInstruction(inst), uint8(inst), FormatID(f.ID), len(params))
	if detail := FormatParams(f.Version, inst, params); detail != "" {
		result += detail
	}
	return result
}

// FormatParams decodes the parameter layout of an instruction packet.
// Unknown layouts fall back to a hex dump.
func FormatParams(v Version, inst Instruction, params []byte) string {
	width := 1
	if v == V2 {
		width = 2
	}
	field := func(b []byte) int {
		if width == 1 {
			return int(b[0])
		}
		return int(b[0]) | int(b[1])<<8
	}

	switch inst {
	case InstPing, InstAction:
		if len(params) == 0 {
			return ""
		}

	case InstRead:
		if len(params) == 2*width {
			return fmt.Sprintf("  address=%d length=%d\n", field(params), field(params[width:]))
		}

	case InstWrite, InstRegWrite:
		if len(params) > width {
			return fmt.Sprintf("  address=%d data: %s\n", field(params), FormatBytes(params[width:]))
		}

	case InstSyncRead, InstFastSyncRead:
		if len(params) >= 2*width {
			return fmt.Sprintf("  address=%d length=%d ids=%v\n",
				field(params), field(params[width:]), []byte(params[2*width:]))
		}

	case InstSyncWrite:
		if len(params) >= 2*width {
			address, length := field(params), field(params[width:])
			result := fmt.Sprintf("  address=%d length=%d\n", address, length)
			for rest := params[2*width:]; len(rest) >= 1+length && length > 0; rest = rest[1+length:] {
				result += fmt.Sprintf("    id=%d data: %s\n", rest[0], FormatBytes(rest[1:1+length]))
			}
			return result
		}

	case InstBulkRead, InstFastBulkRead:
		rest := params
		if v == V1 && len(rest) > 0 {
			// leading reserved byte, then (length, id, address) triples
			rest = rest[1:]
			result := ""
			for ; len(rest) >= 3; rest = rest[3:] {
				result += fmt.Sprintf("    id=%d address=%d length=%d\n", rest[1], rest[2], rest[0])
			}
			return result
		}
		result := ""
		for ; len(rest) >= 5; rest = rest[5:] {
			result += fmt.Sprintf("    id=%d address=%d length=%d\n", rest[0], field(rest[1:]), field(rest[3:]))
		}
		return result

	case InstBulkWrite:
		result := ""
		rest := params
		for len(rest) >= 5 {
			length := field(rest[3:])
			if len(rest) < 5+length {
				break
			}
			result += fmt.Sprintf("    id=%d address=%d data: %s\n", rest[0], field(rest[1:]), FormatBytes(rest[5:5+length]))
			rest = rest[5+length:]
		}
		return result

	case InstFactoryReset:
		if len(params) == 1 {
			return fmt.Sprintf("  mode: %s\n", formatFactoryResetMode(params[0]))
		}

	case InstClear:
		if len(params) > 0 {
			switch params[0] {
			case 0x01:
				return "  clear: multi-turn position\n"
			case 0x02:
				return "  clear: errors\n"
			}
		}

	case InstControlTableBackup:
		if len(params) > 0 {
			switch params[0] {
			case 0x01:
				return "  backup: store\n"
			case 0x02:
				return "  backup: restore\n"
			}
		}
	}

	if len(params) == 0 {
		return ""
	}
	return fmt.Sprintf("  params: %s\n", FormatBytes(params))
}

func formatFactoryResetMode(mode uint8) string {
	switch mode {
	case FactoryResetAll:
		return "reset all"
	case FactoryResetExceptID:
		return "keep ID"
	case FactoryResetExceptIDBaud:
		return "keep ID and baud rate"
	}
	return fmt.Sprintf("unknown (0x%02X)", mode)
}
