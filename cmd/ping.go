// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/spf13/cobra"
)

var (
	pingCount    int
	pingInterval int

	scanFirst     int
	scanLast      int
	scanBroadcast bool
)

var pingCmd = &cobra.Command{
	Use:   "ping <id>",
	Short: "Check that an actuator answers",
	Long: `Send PING to one actuator and report the round trip time.

With protocol 2.0 the response carries the model number and firmware version.
Use the broadcast ID (254 or "broadcast") to run a broadcast ping, which lists
every actuator that answers.`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find every actuator on the bus",
	Long: `Ping each ID in a range and list the actuators that answer.

With --broadcast (protocol 2.0 only) a single broadcast ping is used instead,
which is much faster but may miss an actuator that answers late.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 1, "Number of pings to send")
	pingCmd.Flags().IntVar(&pingInterval, "interval", 500, "Delay between pings (ms)")

	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanFirst, "first", 0, "First ID to scan")
	scanCmd.Flags().IntVar(&scanLast, "last", int(protocol.MaxIDV1), "Last ID to scan")
	scanCmd.Flags().BoolVar(&scanBroadcast, "broadcast", false, "Use a single broadcast ping (protocol 2.0)")
}

func runPing(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	fmt.Printf("dxlstat - Ping\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	if id == protocol.BroadcastID {
		return broadcastScan(bus)
	}

	failures := 0
	for i := 1; i <= pingCount; i++ {
		start := time.Now()
		resp := bus.Ping(id)
		elapsed := time.Since(start)

		switch {
		case resp.OK:
			fmt.Printf("%s  time=%s\n", formatModel(bus.Version(), resp.Data), elapsed.Round(time.Microsecond))
		case resp.Error != nil:
			fmt.Printf("%s  time=%s\n", formatModel(bus.Version(), resp.Data), elapsed.Round(time.Microsecond))
			printHardwareError(resp.Error)
			failures++
		default:
			fmt.Printf("ID %3d: \033[1;31m%v\033[0m\n", id, resp.Err)
			failures++
		}

		if i < pingCount {
			time.Sleep(time.Duration(pingInterval) * time.Millisecond)
		}
	}

	if pingCount > 1 {
		fmt.Printf("\n%d sent, %d ok, %d failed\n", pingCount, pingCount-failures, failures)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d pings failed", failures, pingCount)
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFirst < 0 || scanLast > 0xFF || scanFirst > scanLast {
		return usageError("invalid scan range %d-%d", scanFirst, scanLast)
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	fmt.Printf("dxlstat - Bus Scan\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	if scanBroadcast {
		return broadcastScan(bus)
	}

	last := scanLast
	if maxID := int(bus.Version().MaxID()); last > maxID {
		last = maxID
	}
	start := time.Now()
	found, err := bus.Scan(uint8(scanFirst), uint8(last))
	for _, info := range found {
		fmt.Println(formatModel(bus.Version(), info))
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nFound %d actuator(s) in %s\n", len(found), time.Since(start).Round(time.Millisecond))
	return nil
}

// broadcastScan runs a broadcast ping and lists every actuator that answered
func broadcastScan(bus *dxl.Bus) error {
	start := time.Now()
	resp := bus.BroadcastPing()
	if !resp.OK {
		return resp.Err
	}
	for _, info := range resp.Data {
		fmt.Println(formatModel(bus.Version(), info))
	}
	fmt.Printf("\nFound %d actuator(s) in %s\n", len(resp.Data), time.Since(start).Round(time.Millisecond))
	return nil
}
