// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

// bitsPerByte is one start bit, eight data bits and one stop bit
const bitsPerByte = 10

// pingSlot is the delay each ID adds before answering a broadcast ping
const pingSlot = 3 * time.Millisecond

// wireTime returns how long n bytes occupy the line at baud
func wireTime(baud, n int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Duration(int64(n) * bitsPerByte * int64(time.Second) / int64(baud))
}

// timeout returns the read budget for a transaction sending tx bytes and
// expecting rx bytes back from targets actuators
func (c *Config) timeout(baud, tx, rx, targets int) time.Duration {
	return wireTime(baud, tx+rx) +
		time.Duration(targets)*c.ReturnDelay +
		2*c.LatencyTimer +
		c.PacketMargin
}

// broadcastWindow returns the absolute cap on a broadcast ping
func (c *Config) broadcastWindow(codec protocol.Codec, baud int) time.Duration {
	if c.BroadcastWindow > 0 {
		return c.BroadcastWindow
	}
	ids := int(protocol.MaxIDV1)
	perID := wireTime(baud, codec.StatusSize(3)) + pingSlot
	return time.Duration(ids)*perID + 2*c.LatencyTimer
}
