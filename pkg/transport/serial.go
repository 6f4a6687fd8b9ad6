// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialPort wraps a go.bug.st/serial port
type SerialPort struct {
	port serial.Port
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenSerial opens a serial port connection (8N1)
func OpenSerial(path string, baud int) (Port, error) {
	port, err := serial.Open(path, serialMode(baud))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return &SerialPort{port: port}, nil
}

func (s *SerialPort) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, mapSerialError(err)
	}
	if n < len(p) {
		return n, fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return n, nil
}

// ReadUntil reads with the port timeout set to the time left before deadline
func (s *SerialPort) ReadUntil(p []byte, deadline time.Time) (int, error) {
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	if err := s.port.SetReadTimeout(remaining); err != nil {
		return 0, mapSerialError(err)
	}
	n, err := s.port.Read(p)
	if err != nil {
		return n, mapSerialError(err)
	}
	return n, nil
}

func (s *SerialPort) SetBaudRate(baud int) error {
	if err := s.port.SetMode(serialMode(baud)); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", baud, mapSerialError(err))
	}
	return nil
}

func (s *SerialPort) ResetInputBuffer() error {
	return mapSerialError(s.port.ResetInputBuffer())
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

func mapSerialError(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return ErrClosed
	}
	return err
}
