// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// dxlstat - Dynamixel Bus Client and Protocol Analyzer
//
// A CLI tool for commanding Dynamixel actuators over protocol 1.0 and 2.0
// and for monitoring bus traffic in human-readable format.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/dxlstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
