// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/spf13/cobra"
)

var (
	resetKeepID   bool
	resetKeepBaud bool
)

var rebootCmd = &cobra.Command{
	Use:   "reboot <id>",
	Short: "Restart an actuator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(args[0], "reboot", (*dxl.Bus).Reboot)
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory_reset <id>",
	Short: "Restore an actuator's control table to factory defaults",
	Long: `Send FACTORY_RESET to one actuator.

By default every setting is reset, including the ID and baud rate. Use
--keep-id to keep the ID, or --keep-id --keep-baud to keep both (protocol 2.0
only). A full reset sent to the broadcast ID is refused by the actuators and
reported as not executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runFactoryReset,
}

var clearCmd = &cobra.Command{
	Use:   "clear <position|errors> <id>",
	Short: "Clear the multi-turn position or latched errors",
	Long: `Send CLEAR to one actuator (protocol 2.0 only).

  position - reset the multi-turn revolution count while stopped
  errors   - clear latched hardware error flags`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"position", "errors"},
	RunE:      runClear,
}

var backupCmd = &cobra.Command{
	Use:   "backup <id>",
	Short: "Save the control table to the actuator's backup area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(args[0], "backup", (*dxl.Bus).ControlTableBackup)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Load the control table from the actuator's backup area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(args[0], "restore", (*dxl.Bus).ControlTableRestore)
	},
}

func init() {
	rootCmd.AddCommand(rebootCmd)

	rootCmd.AddCommand(factoryResetCmd)
	factoryResetCmd.Flags().BoolVar(&resetKeepID, "keep-id", false, "Keep the ID")
	factoryResetCmd.Flags().BoolVar(&resetKeepBaud, "keep-baud", false, "Keep the baud rate (requires --keep-id)")

	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

// runMaintenance sends one command without data to the actuator named by arg
func runMaintenance(arg, what string, op func(*dxl.Bus, uint8) dxl.Response[struct{}]) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	return reportUnit(what, op(bus, id))
}

func runFactoryReset(cmd *cobra.Command, args []string) error {
	switch {
	case resetKeepBaud && !resetKeepID:
		return usageError("--keep-baud requires --keep-id")
	case resetKeepBaud:
		return runMaintenance(args[0], "factory_reset (keep ID and baud)", (*dxl.Bus).FactoryResetExceptIDBaudRate)
	case resetKeepID:
		return runMaintenance(args[0], "factory_reset (keep ID)", (*dxl.Bus).FactoryResetExceptID)
	}
	return runMaintenance(args[0], "factory_reset", (*dxl.Bus).FactoryReset)
}

func runClear(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "position":
		return runMaintenance(args[1], "clear position", (*dxl.Bus).ClearPosition)
	case "errors":
		return runMaintenance(args[1], "clear errors", (*dxl.Bus).ClearErrors)
	}
	return usageError("unknown clear target %q (use position or errors)", args[0])
}
