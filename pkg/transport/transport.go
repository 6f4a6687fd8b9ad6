// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte-level links a Dynamixel bus runs over:
// a local serial adapter (go.bug.st/serial or tarm/serial) or a remote
// serial bridge reached over WebSocket.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned when using a port after Close
var ErrClosed = errors.New("port closed")

// Port is a half-duplex byte link with deadline-bounded reads
type Port interface {
	// Write transmits p in full or returns an error
	Write(p []byte) (int, error)

	// ReadUntil returns whatever arrives before deadline, possibly nothing.
	// It never blocks past the deadline.
	ReadUntil(p []byte, deadline time.Time) (int, error)

	// SetBaudRate changes the line speed of an open port
	SetBaudRate(baud int) error

	// Close releases the port. Safe to call from another goroutine while a
	// read is blocked; the read returns ErrClosed or a driver error.
	Close() error
}

// Drainer is implemented by ports that can discard unread input in one call
type Drainer interface {
	ResetInputBuffer() error
}

// Opener opens a port at the given path and baud rate
type Opener func(path string, baud int) (Port, error)

// Serial driver names accepted by OpenerFor
const (
	DriverSerial = "serial"
	DriverTarm   = "tarm"
)

// OpenerFor returns the opener for a serial driver name
func OpenerFor(driver string) (Opener, error) {
	switch driver {
	case "", DriverSerial:
		return OpenSerial, nil
	case DriverTarm:
		return OpenTarm, nil
	}
	return nil, fmt.Errorf("unknown serial driver %q (use %s or %s)", driver, DriverSerial, DriverTarm)
}

// Drain discards any input already waiting on the port
func Drain(p Port) error {
	if d, ok := p.(Drainer); ok {
		return d.ResetInputBuffer()
	}
	buf := make([]byte, 256)
	for {
		n, err := p.ReadUntil(buf, time.Now())
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
