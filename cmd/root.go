// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName    string
	baudRate    int
	driverName  string
	protocolVer string
	latencyMs   int
	verbose     bool

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "dxlstat",
	Short: "Dynamixel Bus Client and Protocol Analyzer",
	Long: `dxlstat - A CLI tool for talking to Dynamixel actuators and analyzing bus traffic.

Provides commands for every Dynamixel protocol 1.0 and 2.0 instruction, a raw
frame log and error detection for passive monitoring, and a live monitor that
polls a register across all actuators on the bus.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 57600] [--driver serial|tarm]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the DXL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Exit codes:
  0 - Success
  1 - Operation failed (timeout, corrupt response, hardware error)
  2 - Connection error or invalid arguments`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 57600, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "serial", "Serial driver (serial or tarm)")

	// Bus flags
	rootCmd.PersistentFlags().StringVar(&protocolVer, "protocol", "2", "Dynamixel protocol version (1 or 2)")
	rootCmd.PersistentFlags().IntVar(&latencyMs, "latency", 16, "USB adapter latency timer (ms)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every frame sent and received")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
