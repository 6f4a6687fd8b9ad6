// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// tarmPollInterval is the driver read timeout. tarm/serial rounds read
// timeouts to 100ms on POSIX systems, so reads are pumped in the background
// instead.
const tarmPollInterval = 100 * time.Millisecond

// TarmPort wraps a github.com/tarm/serial port
type TarmPort struct {
	mu   sync.Mutex
	path string
	port *serial.Port
	pump *pump
}

// OpenTarm opens a serial port using the tarm/serial driver
func OpenTarm(path string, baud int) (Port, error) {
	t := &TarmPort{path: path}
	if err := t.open(baud); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TarmPort) open(baud int) error {
	cfg := &serial.Config{
		Name:        t.path,
		Baud:        baud,
		ReadTimeout: tarmPollInterval,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", t.path, err)
	}

	buf := make([]byte, 256)
	t.port = port
	t.pump = startPump(func() ([]byte, error) {
		n, err := port.Read(buf)
		if errors.Is(err, io.EOF) {
			// read timeout with no data
			return nil, nil
		}
		if n == 0 {
			return nil, err
		}
		return append([]byte(nil), buf[:n]...), err
	})
	return nil
}

func (t *TarmPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return 0, ErrClosed
	}
	n, err := port.Write(p)
	if err == nil && n < len(p) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return n, err
}

func (t *TarmPort) ReadUntil(p []byte, deadline time.Time) (int, error) {
	t.mu.Lock()
	pmp := t.pump
	t.mu.Unlock()
	if pmp == nil {
		return 0, ErrClosed
	}
	return pmp.readUntil(p, deadline)
}

// SetBaudRate reopens the port, since tarm/serial fixes the speed at open
func (t *TarmPort) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	t.pump.stop()
	if err := t.port.Close(); err != nil {
		return err
	}
	t.port, t.pump = nil, nil
	return t.open(baud)
}

func (t *TarmPort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrClosed
	}
	t.pump.discard()
	return t.port.Flush()
}

func (t *TarmPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	t.pump.stop()
	err := t.port.Close()
	t.port, t.pump = nil, nil
	return err
}
