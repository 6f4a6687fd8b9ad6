// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/spf13/cobra"
)

var (
	readSigned bool
	readRaw    bool

	writeSigned bool
	writeReg    bool
)

var readCmd = &cobra.Command{
	Use:   "read <id> <address> <length>",
	Short: "Read a control table register",
	Long: `Read length bytes from an actuator's control table starting at address.

Values of up to 8 bytes are decoded little-endian; use --signed for two's
complement registers such as Present Current or Homing Offset. With --raw the
bytes are printed as received. Numbers accept 0x hex.`,
	Args: cobra.ExactArgs(3),
	RunE: runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <id> <address> <length> <value>",
	Short: "Write a control table register",
	Long: `Write value into length bytes of an actuator's control table at address.

With --reg the write is staged with REG_WRITE and only takes effect when an
ACTION instruction is sent. Writing to the broadcast ID reaches every
actuator and waits for no response.`,
	Args: cobra.ExactArgs(4),
	RunE: runWrite,
}

var actionCmd = &cobra.Command{
	Use:   "action [id]",
	Short: "Execute writes staged with write --reg",
	Long: `Send ACTION to trigger every registered write at once.

The target defaults to the broadcast ID so all actuators start together.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAction,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().BoolVar(&readSigned, "signed", false, "Decode as a signed value")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "Print raw bytes instead of a value")

	rootCmd.AddCommand(writeCmd)
	writeCmd.Flags().BoolVar(&writeSigned, "signed", false, "Value is signed")
	writeCmd.Flags().BoolVar(&writeReg, "reg", false, "Stage the write with REG_WRITE")

	rootCmd.AddCommand(actionCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	address, length, err := parseRegister(args[1], args[2])
	if err != nil {
		return err
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	if readRaw || length > dxl.MaxValueLength {
		resp := bus.ReadBytes(id, address, length)
		if resp.HasData {
			fmt.Printf("ID %d @ %d: %s\n", id, address, protocol.FormatBytes(resp.Data))
		}
		if resp.Error != nil {
			printHardwareError(resp.Error)
		}
		if !resp.OK {
			return resp.Err
		}
		return nil
	}

	resp := bus.Read(id, address, length, readSigned)
	if resp.HasData {
		fmt.Printf("ID %d @ %d: %d (0x%0*X)\n", id, address, resp.Data, length*2, uint64(resp.Data)&mask(length))
	}
	if resp.Error != nil {
		printHardwareError(resp.Error)
	}
	if !resp.OK {
		return resp.Err
	}
	return nil
}

// mask keeps the low length bytes of a value
func mask(length int) uint64 {
	if length >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*uint(length)) - 1
}

func runWrite(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	address, length, err := parseRegister(args[1], args[2])
	if err != nil {
		return err
	}
	value, err := parseInt("value", args[3])
	if err != nil {
		return err
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	if writeReg {
		return reportUnit("reg_write", bus.RegWrite(id, address, length, value, writeSigned))
	}
	return reportUnit("write", bus.Write(id, address, length, value, writeSigned))
}

func runAction(cmd *cobra.Command, args []string) error {
	id := uint8(protocol.BroadcastID)
	if len(args) == 1 {
		var err error
		if id, err = parseID(args[0]); err != nil {
			return err
		}
	}

	bus, _, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	return reportUnit("action", bus.Action(id))
}
