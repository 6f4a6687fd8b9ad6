// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
)

// exchange is one transaction holding the bus lock
type exchange struct {
	bus    *Bus
	port   transport.Port
	baud   int
	dec    *protocol.Decoder
	sent   []byte
	buf    []byte
	lastRX time.Time
}

// begin takes the transaction lock. The caller must call end.
func (b *Bus) begin() (*exchange, error) {
	b.txMu.Lock()

	b.portMu.Lock()
	port, baud := b.port, b.baud
	b.portMu.Unlock()

	if port == nil {
		b.txMu.Unlock()
		return nil, ErrNotConnected
	}
	return &exchange{
		bus:  b,
		port: port,
		baud: baud,
		dec:  protocol.NewDecoder(b.codec),
		buf:  make([]byte, 512),
	}, nil
}

func (x *exchange) end() {
	x.bus.txMu.Unlock()
}

// send drops stale input and writes one encoded packet
func (x *exchange) send(pkt []byte) error {
	if err := transport.Drain(x.port); err != nil {
		return fmt.Errorf("failed to drain port: %w", err)
	}
	x.bus.logPacket("TX", pkt)
	x.sent = pkt
	if _, err := x.port.Write(pkt); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	x.lastRX = time.Now()
	return nil
}

// deadline returns the read deadline for rx response bytes from targets
// actuators
func (x *exchange) deadline(rx, targets int) time.Time {
	return time.Now().Add(x.bus.cfg.timeout(x.baud, len(x.sent), rx, targets))
}

// next returns the next status frame received before deadline. Echoed
// instruction frames and framing noise are skipped. A frame failing its
// checksum ends the call with ErrCorrupt; the stream stays usable.
func (x *exchange) next(deadline time.Time) (protocol.Frame, error) {
	for {
		frame, err := x.dec.Next()
		switch {
		case err == nil:
			x.bus.stats.Update(&frame, nil, protocol.ValidateFrame(frame))
			if bytes.Equal(frame.Raw, x.sent) || !frame.IsStatus() {
				continue
			}
			x.bus.logFrame("RX", frame)
			return frame, nil
		case errors.Is(err, protocol.ErrIncomplete):
		case errors.Is(err, protocol.ErrChecksumMismatch):
			x.bus.stats.Update(nil, err, nil)
			return protocol.Frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		default:
			x.bus.stats.Update(nil, err, nil)
			continue
		}

		if !time.Now().Before(deadline) {
			return protocol.Frame{}, ErrTimeout
		}
		n, err := x.port.ReadUntil(x.buf, deadline)
		if n > 0 {
			x.dec.Write(x.buf[:n])
			x.lastRX = time.Now()
		}
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("failed to read: %w", err)
		}
	}
}

// status waits for the status packet of id
func (x *exchange) status(id uint8, deadline time.Time) (protocol.StatusPacket, error) {
	for {
		frame, err := x.next(deadline)
		if err != nil {
			return protocol.StatusPacket{}, err
		}
		if frame.ID != id {
			continue
		}
		return frame.Status()
	}
}

// answer is one actuator's share of a group read
type answer struct {
	code uint8
	data []byte
}

// gather waits for one status packet from each target, in any order.
// Unrequested and repeated IDs are ignored. A corrupt packet does not end
// the wait since the remaining targets may still answer.
func (x *exchange) gather(targets []target, deadline time.Time) (map[uint8]answer, error) {
	want := make(map[uint8]bool, len(targets))
	for _, t := range targets {
		want[t.id] = true
	}

	got := make(map[uint8]answer, len(targets))
	var corrupt error
	for len(got) < len(targets) {
		frame, err := x.next(deadline)
		if errors.Is(err, ErrCorrupt) {
			corrupt = err
			continue
		}
		if err != nil {
			if errors.Is(err, ErrTimeout) && corrupt != nil {
				return got, corrupt
			}
			return got, err
		}
		if !want[frame.ID] {
			continue
		}
		if _, seen := got[frame.ID]; seen {
			continue
		}
		st, err := frame.Status()
		if err != nil {
			continue
		}
		got[frame.ID] = answer{code: st.Error, data: st.Params}
	}
	return got, nil
}

// splitFast divides the single status packet of a fast read. The payload is
// [id0, data0, (crc_l, crc_h, err_i, id_i, data_i)...] where the first
// actuator's error travels in the status error field.
func splitFast(st protocol.StatusPacket, targets []target) (map[uint8]answer, error) {
	got := make(map[uint8]answer, len(targets))
	p := st.Params
	pos := 0
	for i, t := range targets {
		code := st.Error
		if i > 0 {
			if pos+3 > len(p) {
				return got, fmt.Errorf("%w: fast read payload ends before ID %d", ErrCorrupt, t.id)
			}
			code = p[pos+2]
			pos += 3
		}
		if pos+1+t.length > len(p) {
			return got, fmt.Errorf("%w: fast read payload ends before ID %d", ErrCorrupt, t.id)
		}
		if p[pos] != t.id {
			return got, fmt.Errorf("%w: fast read expected ID %d at offset %d, got %d", ErrCorrupt, t.id, pos, p[pos])
		}
		got[t.id] = answer{code: code, data: p[pos+1 : pos+1+t.length]}
		pos += 1 + t.length
	}
	return got, nil
}

// fastPayload returns the parameter bytes of a fast read status packet
func fastPayload(targets []target) int {
	n := 0
	for i, t := range targets {
		if i > 0 {
			n += 3
		}
		n += 1 + t.length
	}
	return n
}

// groupValues assembles the result of a group read from the answers that
// arrived and the error that ended the wait
func groupValues(v protocol.Version, targets []target, got map[uint8]answer, err error) GroupResponse[int64] {
	resp := GroupResponse[int64]{
		Data:   make(map[uint8]int64, len(got)),
		Errors: make(map[uint8]*protocol.HardwareError),
		Err:    err,
	}

	var hwErr error
	for _, t := range targets {
		a, ok := got[t.id]
		if !ok {
			resp.Missing = append(resp.Missing, t.id)
			continue
		}
		if a.code != 0 {
			herr := &protocol.HardwareError{ID: t.id, Version: v, Code: a.code}
			resp.Errors[t.id] = herr
			if hwErr == nil {
				hwErr = herr
			}
		}
		if len(a.data) != t.length {
			// A refused read carries the error without data
			if resp.Err == nil && a.code == 0 {
				resp.Err = fmt.Errorf("%w: ID %d returned %d bytes, want %d", ErrCorrupt, t.id, len(a.data), t.length)
			}
			continue
		}
		resp.Data[t.id] = DecodeValue(a.data, t.signed)
	}

	if resp.Err == nil && len(resp.Missing) > 0 {
		resp.Err = ErrTimeout
	}
	if resp.Err == nil {
		resp.Err = hwErr
	}
	resp.OK = resp.Err == nil
	return resp
}

// collect hands every status frame to fn until idle passes without a new
// byte or window elapses
func (x *exchange) collect(idle, window time.Duration, fn func(protocol.Frame)) error {
	end := time.Now().Add(window)
	for {
		now := time.Now()
		if !now.Before(end) {
			return nil
		}
		deadline := x.lastRX.Add(idle)
		if deadline.After(end) {
			deadline = end
		}
		if !now.Before(deadline) {
			return nil
		}

		frame, err := x.next(deadline)
		switch {
		case err == nil:
			fn(frame)
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrCorrupt):
			// bytes arriving during the read push the idle deadline out
		default:
			return err
		}
	}
}
