// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/spf13/cobra"
)

var (
	groupSigned bool
	groupFast   bool
)

var syncReadCmd = &cobra.Command{
	Use:   "sync_read <address> <length> <ids>",
	Short: "Read the same register from several actuators",
	Long: `Read one register from every listed actuator with a single SYNC_READ.

IDs are comma separated and may include ranges, e.g. 1,2,5-8. With --fast the
actuators answer in one combined FAST_SYNC_READ status packet.

Actuators that do not answer are listed as missing; the values that did
arrive are still printed.`,
	Args: cobra.ExactArgs(3),
	RunE: runSyncRead,
}

var syncWriteCmd = &cobra.Command{
	Use:   "sync_write <address> <length> <id>=<value>...",
	Short: "Write the same register on several actuators",
	Long: `Write one register on every listed actuator with a single SYNC_WRITE.

Each actuator gets its own value, e.g. sync_write 116 4 1=2048 2=1024.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runSyncWrite,
}

var bulkReadCmd = &cobra.Command{
	Use:   "bulk_read <id>:<address>:<length>...",
	Short: "Read a different register from each actuator",
	Long: `Read a register of its own from each actuator with a single BULK_READ.

With --fast the actuators answer in one combined FAST_BULK_READ status packet.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBulkRead,
}

var bulkWriteCmd = &cobra.Command{
	Use:   "bulk_write <id>:<address>:<length>=<value>...",
	Short: "Write a different register on each actuator",
	Long:  `Write a register of its own on each actuator with a single BULK_WRITE.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBulkWrite,
}

func init() {
	for _, c := range []*cobra.Command{syncReadCmd, syncWriteCmd, bulkReadCmd, bulkWriteCmd} {
		rootCmd.AddCommand(c)
		c.Flags().BoolVar(&groupSigned, "signed", false, "Values are signed")
	}
	syncReadCmd.Flags().BoolVar(&groupFast, "fast", false, "Use FAST_SYNC_READ")
	bulkReadCmd.Flags().BoolVar(&groupFast, "fast", false, "Use FAST_BULK_READ")
}

func runSyncRead(cmd *cobra.Command, args []string) error {
	address, length, err := parseRegister(args[0], args[1])
	if err != nil {
		return err
	}
	ids, err := parseIDList(args[2])
	if err != nil {
		return err
	}

	params, err := dxl.NewSyncParams(address, length, groupSigned)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := params.AddMotor(id); err != nil {
			return err
		}
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	if groupFast {
		return reportGroup(bus.FastSyncRead(params))
	}
	return reportGroup(bus.SyncRead(params))
}

func runSyncWrite(cmd *cobra.Command, args []string) error {
	address, length, err := parseRegister(args[0], args[1])
	if err != nil {
		return err
	}

	params, err := dxl.NewSyncParams(address, length, groupSigned)
	if err != nil {
		return err
	}
	for _, arg := range args[2:] {
		id, value, err := parseAssignment(arg)
		if err != nil {
			return err
		}
		if err := params.AddValue(id, value); err != nil {
			return err
		}
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	return reportUnit(fmt.Sprintf("sync_write to %d actuator(s)", len(params.IDs())), bus.SyncWrite(params))
}

func runBulkRead(cmd *cobra.Command, args []string) error {
	params := dxl.NewBulkParams()
	for _, arg := range args {
		spec, err := parseBulkSpec(arg)
		if err != nil {
			return err
		}
		if spec.hasValue {
			return usageError("bulk_read takes no values, got %q", arg)
		}
		if err := params.AddAddress(spec.id, spec.address, spec.length, groupSigned); err != nil {
			return err
		}
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	if groupFast {
		return reportGroup(bus.FastBulkRead(params))
	}
	return reportGroup(bus.BulkRead(params))
}

func runBulkWrite(cmd *cobra.Command, args []string) error {
	params := dxl.NewBulkParams()
	for _, arg := range args {
		spec, err := parseBulkSpec(arg)
		if err != nil {
			return err
		}
		if !spec.hasValue {
			return usageError("expected <id>:<address>:<length>=<value>, got %q", arg)
		}
		if err := params.AddValue(spec.id, spec.address, spec.length, spec.value, groupSigned); err != nil {
			return err
		}
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	return reportUnit(fmt.Sprintf("bulk_write to %d actuator(s)", len(params.Entries())), bus.BulkWrite(params))
}
