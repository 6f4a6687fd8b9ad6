// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"time"
)

// Decoder turns an arbitrary byte stream into frames. Bytes are fed with
// Write as they arrive; Next returns frames until more input is needed.
type Decoder struct {
	codec     Codec
	buffer    []byte
	discarded uint64
	lastFrame time.Time
}

// NewDecoder creates a new stream decoder for the given codec
func NewDecoder(codec Codec) *Decoder {
	return &Decoder{
		codec:  codec,
		buffer: make([]byte, 0, 256),
	}
}

// Reset drops any buffered bytes
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
}

// Write appends received bytes to the decode buffer
func (d *Decoder) Write(p []byte) (int, error) {
	d.buffer = append(d.buffer, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a complete frame
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// Discarded returns the total number of bytes skipped while searching for
// a header
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// LastFrame returns the time the last valid frame was decoded
func (d *Decoder) LastFrame() time.Time {
	return d.lastFrame
}

// Next returns the next complete frame. It returns ErrIncomplete when the
// buffer holds no complete frame. Checksum and length errors are returned
// once per bad frame, after which decoding continues past it.
func (d *Decoder) Next() (Frame, error) {
	for {
		if len(d.buffer) == 0 {
			return Frame{}, ErrIncomplete
		}

		frame, n, err := d.codec.Decode(d.buffer)
		d.consume(n)

		switch {
		case err == nil:
			d.lastFrame = time.Now()
			return frame, nil
		case errors.Is(err, ErrHeaderNotFound):
			d.discarded += uint64(n)
			if n == 0 {
				return Frame{}, ErrIncomplete
			}
		case errors.Is(err, ErrIncomplete):
			d.discarded += uint64(n)
			return Frame{}, ErrIncomplete
		default:
			return Frame{}, err
		}
	}
}

func (d *Decoder) consume(n int) {
	if n <= 0 {
		return
	}
	remaining := copy(d.buffer, d.buffer[n:])
	d.buffer = d.buffer[:remaining]
}
