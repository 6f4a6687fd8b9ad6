// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
)

var errUnplugged = errors.New("device unplugged")

// benchPort answers instruction packets the way a bus of actuators would.
// Each actuator is a small control table.
type benchPort struct {
	codec protocol.Codec

	mu       sync.Mutex
	pending  []byte
	tables   map[uint8][]byte
	faults   map[uint8]uint8
	unplug   bool
	closed   bool
	received []protocol.Frame
}

func newBenchPort(v protocol.Version, ids ...uint8) *benchPort {
	codec, _ := protocol.CodecFor(v)
	p := &benchPort{
		codec:  codec,
		tables: make(map[uint8][]byte),
		faults: make(map[uint8]uint8),
	}
	for _, id := range ids {
		p.tables[id] = make([]byte, 256)
	}
	return p
}

func (p *benchPort) open(string, int) (transport.Port, error) {
	return p, nil
}

// set stores a little-endian value in an actuator's table
func (p *benchPort) set(id uint8, address, length int, value uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < length; i++ {
		p.tables[id][address+i] = byte(value >> (8 * i))
	}
}

func (p *benchPort) get(id uint8, address, length int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var v uint32
	for i := 0; i < length; i++ {
		v |= uint32(p.tables[id][address+i]) << (8 * i)
	}
	return v
}

func (p *benchPort) status(id uint8, params []byte) []byte {
	code := p.faults[id]
	if p.codec.Version() == protocol.V1 {
		pkt, _ := p.codec.Encode(id, protocol.Instruction(code), params)
		return pkt
	}
	pkt, _ := p.codec.Encode(id, protocol.InstStatus, append([]byte{code}, params...))
	return pkt
}

func (p *benchPort) field(b []byte) int {
	if p.codec.Version() == protocol.V1 {
		return int(b[0])
	}
	return int(b[0]) | int(b[1])<<8
}

func (p *benchPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, transport.ErrClosed
	}
	if p.unplug {
		return 0, errUnplugged
	}

	f, _, err := p.codec.Decode(b)
	if err != nil {
		return len(b), nil
	}
	p.received = append(p.received, f)

	inst, params := f.Instruction()
	w := 1
	if p.codec.Version() == protocol.V2 {
		w = 2
	}

	switch inst {
	case protocol.InstPing:
		for id := range p.tables {
			if f.ID == id || f.ID == protocol.BroadcastID {
				reply := []byte{}
				if p.codec.Version() == protocol.V2 {
					reply = []byte{0x06, 0x04, 0x2A}
				}
				p.pending = append(p.pending, p.status(id, reply)...)
			}
		}
	case protocol.InstRead:
		if table, ok := p.tables[f.ID]; ok {
			addr, n := p.field(params), p.field(params[w:])
			p.pending = append(p.pending, p.status(f.ID, append([]byte(nil), table[addr:addr+n]...))...)
		}
	case protocol.InstWrite:
		if table, ok := p.tables[f.ID]; ok {
			addr := p.field(params)
			copy(table[addr:], params[w:])
			p.pending = append(p.pending, p.status(f.ID, nil)...)
		}
	case protocol.InstSyncRead:
		addr, n := p.field(params), p.field(params[w:])
		for _, id := range params[2*w:] {
			if table, ok := p.tables[id]; ok {
				p.pending = append(p.pending, p.status(id, append([]byte(nil), table[addr:addr+n]...))...)
			}
		}
	}
	return len(b), nil
}

func (p *benchPort) ReadUntil(b []byte, deadline time.Time) (int, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, transport.ErrClosed
		}
		if len(p.pending) > 0 {
			n := copy(b, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *benchPort) SetBaudRate(int) error { return nil }

func (p *benchPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// newBenchBus returns a connected bus over a bench port
func newBenchBus(t *testing.T, v protocol.Version, ids ...uint8) (*dxl.Bus, *benchPort) {
	t.Helper()
	port := newBenchPort(v, ids...)
	bus, err := dxl.New(dxl.Config{
		Port:            "bench",
		Protocol:        v,
		Opener:          port.open,
		LatencyTimer:    2 * time.Millisecond,
		PacketMargin:    10 * time.Millisecond,
		BroadcastIdle:   20 * time.Millisecond,
		BroadcastWindow: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("dxl.New failed: %v", err)
	}
	if err := bus.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { bus.Disconnect() })
	return bus, port
}
