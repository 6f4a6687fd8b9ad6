// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"log"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
)

// Defaults applied by New for zero Config fields
const (
	DefaultBaudRate      = 57600
	DefaultLatencyTimer  = 16 * time.Millisecond
	DefaultPacketMargin  = 2 * time.Millisecond
	DefaultReturnDelay   = 500 * time.Microsecond
	DefaultBroadcastIdle = 100 * time.Millisecond
)

// Config holds configuration for creating a new Bus
type Config struct {
	// Port is the path handed to Opener, e.g. /dev/ttyUSB0
	Port string

	// BaudRate is the line speed. Default is 57600.
	BaudRate int

	// Protocol selects the packet generation. Default is V2.
	Protocol protocol.Version

	// Opener creates the port on Connect. Default is transport.OpenSerial.
	Opener transport.Opener

	// LatencyTimer is the USB adapter latency timer. It is charged twice
	// per transaction (once each way). Default is 16ms.
	LatencyTimer time.Duration

	// PacketMargin is fixed slack added to every read deadline.
	// Default is 2ms.
	PacketMargin time.Duration

	// ReturnDelay is the per-actuator processing delay before it answers.
	// Default is 500µs.
	ReturnDelay time.Duration

	// BroadcastIdle ends a broadcast ping once no byte has arrived for this
	// long. Default is 100ms.
	BroadcastIdle time.Duration

	// BroadcastWindow caps the total length of a broadcast ping. Default is
	// long enough for every ID to answer at the configured baud rate.
	BroadcastWindow time.Duration

	// Logger receives every transmitted and received frame. Nil is silent.
	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Protocol == 0 {
		c.Protocol = protocol.V2
	}
	if c.Opener == nil {
		c.Opener = transport.OpenSerial
	}
	if c.LatencyTimer == 0 {
		c.LatencyTimer = DefaultLatencyTimer
	}
	if c.PacketMargin == 0 {
		c.PacketMargin = DefaultPacketMargin
	}
	if c.ReturnDelay == 0 {
		c.ReturnDelay = DefaultReturnDelay
	}
	if c.BroadcastIdle == 0 {
		c.BroadcastIdle = DefaultBroadcastIdle
	}
}
