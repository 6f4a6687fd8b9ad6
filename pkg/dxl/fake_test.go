// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
)

// replyFunc scripts the actuators on a fake bus. It receives each decoded
// instruction packet and returns the raw frames to send back.
type replyFunc func(inst protocol.Instruction, id uint8, params []byte) [][]byte

// fakePort is an in-memory bus. Writes are decoded and answered through the
// reply script; reads return the queued answers.
type fakePort struct {
	codec protocol.Codec
	dec   *protocol.Decoder
	reply replyFunc

	// echo queues every written packet before its answers, as adapters
	// without echo suppression do
	echo bool

	// chunk limits the bytes returned per read when non-zero
	chunk int

	mu      sync.Mutex
	pending []byte
	writes  [][]byte
	baud    int
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

func newFakePort(v protocol.Version, reply replyFunc) *fakePort {
	codec, err := protocol.CodecFor(v)
	if err != nil {
		panic(err)
	}
	return &fakePort{
		codec:  codec,
		dec:    protocol.NewDecoder(codec),
		reply:  reply,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (p *fakePort) open(path string, baud int) (transport.Port, error) {
	p.mu.Lock()
	p.baud = baud
	p.mu.Unlock()
	return p, nil
}

func (p *fakePort) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, transport.ErrClosed
	}
	pkt := append([]byte(nil), b...)
	p.writes = append(p.writes, pkt)
	if p.echo {
		p.pending = append(p.pending, pkt...)
	}

	p.dec.Write(pkt)
	for {
		frame, err := p.dec.Next()
		if err != nil {
			break
		}
		if p.reply == nil {
			continue
		}
		inst, params := frame.Instruction()
		for _, r := range p.reply(inst, frame.ID, params) {
			p.pending = append(p.pending, r...)
		}
	}
	p.wake()
	return len(b), nil
}

func (p *fakePort) ReadUntil(b []byte, deadline time.Time) (int, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, transport.ErrClosed
		}
		if len(p.pending) > 0 {
			limit := b
			if p.chunk > 0 && p.chunk < len(limit) {
				limit = limit[:p.chunk]
			}
			n := copy(limit, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-p.signal:
		case <-p.done:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (p *fakePort) SetBaudRate(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baud = baud
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = p.pending[:0]
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// inject queues bytes as if they were already on the line
func (p *fakePort) inject(b []byte) {
	p.mu.Lock()
	p.pending = append(p.pending, b...)
	p.mu.Unlock()
	p.wake()
}

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

// lastFrame decodes the most recent written packet
func (p *fakePort) lastFrame(t *testing.T) (protocol.Instruction, uint8, []byte) {
	t.Helper()
	writes := p.written()
	if len(writes) == 0 {
		t.Fatal("nothing written")
	}
	frame, _, err := p.codec.Decode(writes[len(writes)-1])
	if err != nil {
		t.Fatalf("written packet does not decode: %v", err)
	}
	inst, params := frame.Instruction()
	return inst, frame.ID, params
}

// status encodes a status packet from id
func status(v protocol.Version, id, code uint8, params ...byte) []byte {
	codec, _ := protocol.CodecFor(v)
	if v == protocol.V1 {
		pkt, _ := codec.Encode(id, protocol.Instruction(code), params)
		return pkt
	}
	pkt, _ := codec.Encode(id, protocol.InstStatus, append([]byte{code}, params...))
	return pkt
}

func le(v uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func testConfig(v protocol.Version, port *fakePort) Config {
	return Config{
		Port:            "fake",
		Protocol:        v,
		Opener:          port.open,
		LatencyTimer:    5 * time.Millisecond,
		PacketMargin:    20 * time.Millisecond,
		BroadcastIdle:   30 * time.Millisecond,
		BroadcastWindow: 500 * time.Millisecond,
	}
}

// newTestBus returns a connected bus over a fake port
func newTestBus(t *testing.T, v protocol.Version, reply replyFunc) (*Bus, *fakePort) {
	t.Helper()
	port := newFakePort(v, reply)
	bus, err := New(testConfig(v, port))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := bus.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { bus.Disconnect() })
	return bus, port
}

// always answers every addressed instruction with an empty status
func always(v protocol.Version) replyFunc {
	return func(inst protocol.Instruction, id uint8, params []byte) [][]byte {
		if id == protocol.BroadcastID {
			return nil
		}
		return [][]byte{status(v, id, 0)}
	}
}
