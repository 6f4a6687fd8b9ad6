// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownInstruction AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyInvalidID
	AnomalyDuplicateID
	AnomalyNotBroadcast
	AnomalyHardwareError
	AnomalyHardwareAlert
	AnomalyCRCError
	AnomalyDecodeError
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a decoded frame for structural anomalies beyond what
// the checksum covers. Returns a slice of validation errors (empty if the
// frame is valid).
//
// Protocol 1.0 frames carry no marker telling an instruction from a status
// packet, so only protocol 2.0 frames get parameter layout checks.
func ValidateFrame(f Frame) []ValidationError {
	errors := []ValidationError{}

	if f.Version != V2 || len(f.Body) == 0 {
		return errors
	}

	if f.IsStatus() {
		return validateStatus(f)
	}

	inst, params := f.Instruction()
	if FormatInstruction(inst) == "UNKNOWN" || inst == InstStatus {
		return []ValidationError{{
			Type:    AnomalyUnknownInstruction,
			Message: fmt.Sprintf("Unknown instruction 0x%02X", uint8(inst)),
			Details: map[string]interface{}{"instruction": uint8(inst)},
		}}
	}

	if f.ID > MaxIDV2 && f.ID != BroadcastID {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidID,
			Message: fmt.Sprintf("%s addressed to reserved ID %d", FormatInstruction(inst), f.ID),
			Details: map[string]interface{}{"id": f.ID},
		})
	}

	switch inst {
	case InstSyncRead, InstSyncWrite, InstFastSyncRead, InstBulkRead, InstBulkWrite, InstFastBulkRead:
		if f.ID != BroadcastID {
			errors = append(errors, ValidationError{
				Type:    AnomalyNotBroadcast,
				Message: fmt.Sprintf("%s sent to ID %d instead of broadcast", FormatInstruction(inst), f.ID),
				Details: map[string]interface{}{"id": f.ID},
			})
		}
	}

	errors = append(errors, validateParams(inst, params)...)
	return errors
}

func lengthMismatch(inst Instruction, received int, expected string) ValidationError {
	return ValidationError{
		Type: AnomalyLengthMismatch,
		Message: fmt.Sprintf("%s parameter length mismatch: received=%d, expected=%s",
			FormatInstruction(inst), received, expected),
		Details: map[string]interface{}{"received": received, "expected": expected},
	}
}

func validateParams(inst Instruction, params []byte) []ValidationError {
	n := len(params)
	switch inst {
	case InstPing, InstAction:
		if n != 0 {
			return []ValidationError{lengthMismatch(inst, n, "0")}
		}
	case InstRead:
		if n != 4 {
			return []ValidationError{lengthMismatch(inst, n, "4")}
		}
	case InstWrite, InstRegWrite:
		if n < 3 {
			return []ValidationError{lengthMismatch(inst, n, ">=3")}
		}
	case InstFactoryReset:
		if n != 1 {
			return []ValidationError{lengthMismatch(inst, n, "1")}
		}
	case InstReboot:
		if n != 0 {
			return []ValidationError{lengthMismatch(inst, n, "0")}
		}
	case InstClear, InstControlTableBackup:
		if n != 5 {
			return []ValidationError{lengthMismatch(inst, n, "5")}
		}
	case InstSyncRead, InstFastSyncRead:
		if n < 5 {
			return []ValidationError{lengthMismatch(inst, n, ">=5")}
		}
		return checkIDs(params[4:])
	case InstSyncWrite:
		if n < 4 {
			return []ValidationError{lengthMismatch(inst, n, ">=4")}
		}
		length := int(params[2]) | int(params[3])<<8
		if length == 0 || (n-4)%(1+length) != 0 {
			return []ValidationError{lengthMismatch(inst, n, fmt.Sprintf("4+k*%d", 1+length))}
		}
		var ids []byte
		for i := 4; i < n; i += 1 + length {
			ids = append(ids, params[i])
		}
		return checkIDs(ids)
	case InstBulkRead, InstFastBulkRead:
		if n == 0 || n%5 != 0 {
			return []ValidationError{lengthMismatch(inst, n, "k*5")}
		}
		var ids []byte
		for i := 0; i < n; i += 5 {
			ids = append(ids, params[i])
		}
		return checkIDs(ids)
	case InstBulkWrite:
		var ids []byte
		i := 0
		for i+5 <= n {
			length := int(params[i+3]) | int(params[i+4])<<8
			ids = append(ids, params[i])
			i += 5 + length
		}
		if i != n || len(ids) == 0 {
			return []ValidationError{lengthMismatch(inst, n, "sum of (5+length) entries")}
		}
		return checkIDs(ids)
	}
	return nil
}

func checkIDs(ids []byte) []ValidationError {
	errors := []ValidationError{}
	seen := make(map[byte]bool, len(ids))
	for _, id := range ids {
		if id > MaxIDV2 {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidID,
				Message: fmt.Sprintf("Group entry uses reserved ID %d", id),
				Details: map[string]interface{}{"id": id},
			})
		}
		if seen[id] {
			errors = append(errors, ValidationError{
				Type:    AnomalyDuplicateID,
				Message: fmt.Sprintf("Group entry repeats ID %d", id),
				Details: map[string]interface{}{"id": id},
			})
		}
		seen[id] = true
	}
	return errors
}

func validateStatus(f Frame) []ValidationError {
	errors := []ValidationError{}
	status, _ := f.Status()
	herr := status.Err(V2)
	if herr == nil {
		return errors
	}

	if herr.Alert() {
		errors = append(errors, ValidationError{
			Type:    AnomalyHardwareAlert,
			Message: fmt.Sprintf("ID %d raised a hardware alert", status.ID),
			Details: map[string]interface{}{"id": status.ID, "error": status.Error},
		})
	}
	if status.Error&^AlertBit != 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyHardwareError,
			Message: herr.Error(),
			Details: map[string]interface{}{"id": status.ID, "error": status.Error},
		})
	}
	return errors
}
