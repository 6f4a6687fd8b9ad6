// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

//////////////////////////////////////////////////////////////
// Argument Parsing
//////////////////////////////////////////////////////////////

// parseID accepts a decimal or 0x-prefixed ID, or "broadcast"
func parseID(s string) (uint8, error) {
	if strings.EqualFold(s, "broadcast") || strings.EqualFold(s, "bc") {
		return protocol.BroadcastID, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, usageError("invalid ID %q", s)
	}
	return uint8(v), nil
}

// parseIDList accepts comma separated IDs and inclusive ranges, e.g. "1,3,5-7"
func parseIDList(s string) ([]uint8, error) {
	var ids []uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
			continue
		}
		first, err := parseID(lo)
		if err != nil {
			return nil, err
		}
		last, err := parseID(hi)
		if err != nil {
			return nil, err
		}
		if first > last {
			return nil, usageError("invalid ID range %q", part)
		}
		for id := int(first); id <= int(last); id++ {
			ids = append(ids, uint8(id))
		}
	}
	if len(ids) == 0 {
		return nil, usageError("no IDs given")
	}
	return ids, nil
}

// parseInt accepts decimal, 0x hex or 0b binary, with an optional sign
func parseInt(name, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, usageError("invalid %s %q", name, s)
	}
	return v, nil
}

func parseField(name, s string) (int, error) {
	v, err := parseInt(name, s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0xFFFF {
		return 0, usageError("%s %d out of range", name, v)
	}
	return int(v), nil
}

// parseRegister reads an address and length pair
func parseRegister(address, length string) (int, int, error) {
	addr, err := parseField("address", address)
	if err != nil {
		return 0, 0, err
	}
	n, err := parseField("length", length)
	if err != nil {
		return 0, 0, err
	}
	return addr, n, nil
}

// parseAssignment splits "<id>=<value>"
func parseAssignment(s string) (uint8, int64, error) {
	idStr, valStr, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, usageError("expected <id>=<value>, got %q", s)
	}
	id, err := parseID(idStr)
	if err != nil {
		return 0, 0, err
	}
	v, err := parseInt("value", valStr)
	if err != nil {
		return 0, 0, err
	}
	return id, v, nil
}

// bulkSpec is one "<id>:<address>:<length>[=<value>]" argument
type bulkSpec struct {
	id       uint8
	address  int
	length   int
	value    int64
	hasValue bool
}

func parseBulkSpec(s string) (bulkSpec, error) {
	target, valStr, hasValue := strings.Cut(s, "=")
	parts := strings.Split(target, ":")
	if len(parts) != 3 {
		return bulkSpec{}, usageError("expected <id>:<address>:<length>, got %q", s)
	}

	var spec bulkSpec
	var err error
	if spec.id, err = parseID(parts[0]); err != nil {
		return bulkSpec{}, err
	}
	if spec.address, spec.length, err = parseRegister(parts[1], parts[2]); err != nil {
		return bulkSpec{}, err
	}
	if hasValue {
		if spec.value, err = parseInt("value", valStr); err != nil {
			return bulkSpec{}, err
		}
		spec.hasValue = true
	}
	return spec, nil
}

//////////////////////////////////////////////////////////////
// Output
//////////////////////////////////////////////////////////////

// printHardwareError prints every fault an actuator reported
func printHardwareError(herr *protocol.HardwareError) {
	fmt.Printf("  \033[1;33mHARDWARE ERROR\033[0m on ID %d (0x%02X)\n", herr.ID, herr.Code)
	for _, msg := range herr.Describe() {
		fmt.Printf("    %s\n", msg)
	}
}

// reportUnit prints the outcome of a command without data
func reportUnit(what string, resp dxl.Response[struct{}]) error {
	if resp.Error != nil {
		printHardwareError(resp.Error)
		return resp.Err
	}
	if !resp.OK {
		return resp.Err
	}
	fmt.Printf("%s: OK\n", what)
	return nil
}

// reportGroup prints every value of a group read, followed by faults and
// missing actuators
func reportGroup(resp dxl.GroupResponse[int64]) error {
	ids := make([]int, 0, len(resp.Data))
	for id := range resp.Data {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		v := resp.Data[uint8(id)]
		fmt.Printf("ID %3d: %d (0x%X)\n", id, v, uint64(v))
	}
	for _, id := range sortedErrorIDs(resp.Errors) {
		printHardwareError(resp.Errors[id])
	}
	for _, id := range resp.Missing {
		fmt.Printf("ID %3d: \033[1;31mno response\033[0m\n", id)
	}

	if !resp.OK {
		return resp.Err
	}
	return nil
}

func sortedErrorIDs(m map[uint8]*protocol.HardwareError) []uint8 {
	ids := make([]uint8, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// formatModel renders a ping result
func formatModel(v protocol.Version, info dxl.PingInfo) string {
	if v == protocol.V1 {
		return fmt.Sprintf("ID %3d", info.ID)
	}
	return fmt.Sprintf("ID %3d  model %5d  firmware v%d", info.ID, info.ModelNumber, info.Firmware)
}
