// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

// Transaction outcomes that carry no trustworthy data
var (
	ErrTimeout      = errors.New("no valid response before deadline")
	ErrCorrupt      = errors.New("corrupt response")
	ErrNotExecuted  = errors.New("instruction not executed")
	ErrNotConnected = errors.New("bus not connected")
	ErrUnsupported  = errors.New("instruction not supported by protocol version")
)

// ValidationError reports caller input rejected before any bus I/O
type ValidationError struct {
	Op  string
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(op, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Response is the result of an operation addressed to a single actuator.
//
// OK is true only when a trustworthy answer arrived and the actuator
// reported no fault. Err holds the cause when OK is false. Data may be set
// together with a hardware Error; check HasData before using it.
type Response[T any] struct {
	OK      bool
	Error   *protocol.HardwareError
	Data    T
	HasData bool
	Err     error
}

// GroupResponse is the result of a sync or bulk read.
//
// Data holds a value for every actuator that answered with the requested
// number of bytes, so partial results stay visible when OK is false.
// Missing lists requested IDs that never answered, in request order.
type GroupResponse[T any] struct {
	OK      bool
	Data    map[uint8]T
	Errors  map[uint8]*protocol.HardwareError
	Missing []uint8
	Err     error
}

// PingInfo describes an actuator that answered a ping. Protocol 1.0 pings
// carry no model information, leaving ModelNumber and Firmware zero.
type PingInfo struct {
	ID          uint8
	ModelNumber uint16
	Firmware    uint8
}

func failed[T any](err error) Response[T] {
	return Response[T]{Err: err}
}

// unitResponse maps a transaction without data to a Response
func unitResponse(v protocol.Version, status protocol.StatusPacket, received bool, err error) Response[struct{}] {
	if err != nil {
		return failed[struct{}](err)
	}
	if !received {
		return Response[struct{}]{OK: true}
	}
	if herr := status.Err(v); herr != nil {
		return Response[struct{}]{Error: herr, Err: herr}
	}
	return Response[struct{}]{OK: true}
}
