// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dxl drives Dynamixel actuators over a half-duplex bus. A Bus owns
// one port and runs one transaction at a time; every operation returns a
// Response describing whether trustworthy data came back.
package dxl

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
)

// Bus is a connection to a chain of actuators sharing one protocol version
type Bus struct {
	cfg    Config
	codec  protocol.Codec
	stats  *protocol.Statistics
	logger *log.Logger

	// txMu serializes transactions
	txMu sync.Mutex

	// portMu guards port and baud. Disconnect takes only portMu so it can
	// close the port under an in-flight transaction.
	portMu sync.Mutex
	port   transport.Port
	baud   int
}

// New creates a bus. The port is not opened until Connect.
func New(cfg Config) (*Bus, error) {
	cfg.applyDefaults()
	if cfg.BaudRate < 0 {
		return nil, fmt.Errorf("invalid baud rate %d", cfg.BaudRate)
	}
	codec, err := protocol.CodecFor(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	return &Bus{
		cfg:    cfg,
		codec:  codec,
		stats:  protocol.NewStatistics(),
		logger: cfg.Logger,
		baud:   cfg.BaudRate,
	}, nil
}

// Version returns the protocol generation of the bus
func (b *Bus) Version() protocol.Version {
	return b.codec.Version()
}

// Statistics returns the frame and transaction counters of the bus
func (b *Bus) Statistics() *protocol.Statistics {
	return b.stats
}

// Connect opens the port. Connecting an open bus does nothing.
func (b *Bus) Connect() error {
	b.portMu.Lock()
	defer b.portMu.Unlock()

	if b.port != nil {
		return nil
	}
	port, err := b.cfg.Opener(b.cfg.Port, b.baud)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", b.cfg.Port, err)
	}
	b.port = port
	return nil
}

// Connected reports whether the port is open
func (b *Bus) Connected() bool {
	b.portMu.Lock()
	defer b.portMu.Unlock()
	return b.port != nil
}

// Disconnect closes the port. It may be called while a transaction is in
// flight, which then fails with a transport error. Calling it again does
// nothing.
func (b *Bus) Disconnect() error {
	b.portMu.Lock()
	port := b.port
	b.port = nil
	b.portMu.Unlock()

	if port == nil {
		return nil
	}
	return port.Close()
}

// SetBaudRate changes the line speed. The new rate applies to the open port
// and to later connections.
func (b *Bus) SetBaudRate(baud int) error {
	if baud <= 0 {
		return invalid("set baud rate", "invalid baud rate %d", baud)
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()
	b.portMu.Lock()
	defer b.portMu.Unlock()

	if b.port != nil {
		if err := b.port.SetBaudRate(baud); err != nil {
			return fmt.Errorf("failed to set baud rate: %w", err)
		}
	}
	b.baud = baud
	return nil
}

// ============================================================
// Validation
// ============================================================

func (b *Bus) checkSupported(op string, inst protocol.Instruction) error {
	if !b.Version().Supports(inst) {
		return &ValidationError{
			Op:  op,
			Msg: fmt.Sprintf("%s is not available in protocol %s", protocol.FormatInstruction(inst), b.Version()),
			Err: ErrUnsupported,
		}
	}
	return nil
}

// checkTarget rejects IDs outside the bus's range. The broadcast ID is only
// accepted by operations that expect no response.
func (b *Bus) checkTarget(op string, id uint8, broadcast bool) error {
	if id == protocol.BroadcastID {
		if broadcast {
			return nil
		}
		return invalid(op, "broadcast ID cannot be used where a response is required")
	}
	if id > b.Version().MaxID() {
		return invalid(op, "ID %d out of range (0-%d)", id, b.Version().MaxID())
	}
	return nil
}

func (b *Bus) checkRegister(op string, address, length int) error {
	if address < 0 || address > b.codec.MaxField() {
		return invalid(op, "address %d out of range (0-%d)", address, b.codec.MaxField())
	}
	if length < 1 || length > b.codec.MaxField() {
		return invalid(op, "length %d out of range (1-%d)", length, b.codec.MaxField())
	}
	return nil
}

func (b *Bus) encode(op string, id uint8, inst protocol.Instruction, params []byte) ([]byte, error) {
	pkt, err := b.codec.Encode(id, inst, params)
	if err != nil {
		return nil, &ValidationError{Op: op, Msg: err.Error(), Err: err}
	}
	return pkt, nil
}

// ============================================================
// Logging
// ============================================================

func (b *Bus) logPacket(dir string, pkt []byte) {
	if b.logger == nil {
		return
	}
	frame, _, err := b.codec.Decode(pkt)
	if err != nil {
		b.logger.Printf("%s %s", dir, protocol.FormatBytes(pkt))
		return
	}
	b.logFrame(dir, frame)
}

func (b *Bus) logFrame(dir string, f protocol.Frame) {
	if b.logger == nil {
		return
	}
	now := time.Now()
	if f.Version == protocol.V1 && dir == "RX" {
		st, _ := f.Status()
		b.logger.Printf("%s [%s] STATUS id=%s err=0x%02X params: %s", dir,
			now.Format("15:04:05.000"), protocol.FormatID(st.ID), st.Error, protocol.FormatBytes(st.Params))
		return
	}
	b.logger.Printf("%s %s", dir, strings.TrimRight(protocol.FormatFrame(f, now), "\n"))
}

// ============================================================
// Transactions
// ============================================================

// transact sends one packet and waits for the status of id carrying rx
// parameter bytes. The broadcast ID returns as soon as the packet is
// written, with received false.
func (b *Bus) transact(pkt []byte, id uint8, rx int) (st protocol.StatusPacket, received bool, err error) {
	x, err := b.begin()
	if err != nil {
		return st, false, err
	}
	defer x.end()

	if err := x.send(pkt); err != nil {
		b.record(err)
		return st, false, err
	}
	if id == protocol.BroadcastID {
		b.record(nil)
		return st, false, nil
	}

	st, err = x.status(id, x.deadline(b.codec.StatusSize(rx), 1))
	if err == nil && st.Error != 0 {
		b.stats.RecordTransaction(false, false)
	} else {
		b.record(err)
	}
	return st, err == nil, err
}

func (b *Bus) record(err error) {
	b.stats.RecordTransaction(err == nil, errors.Is(err, ErrTimeout))
}

// ============================================================
// Single Actuator Operations
// ============================================================

// Ping checks that id answers. With protocol 2.0 the response carries the
// model number and firmware version; 1.0 pings carry no data.
func (b *Bus) Ping(id uint8) Response[PingInfo] {
	if err := b.checkTarget("ping", id, false); err != nil {
		return failed[PingInfo](err)
	}
	pkt, err := b.encode("ping", id, protocol.InstPing, nil)
	if err != nil {
		return failed[PingInfo](err)
	}

	rx := 0
	if b.Version() == protocol.V2 {
		rx = 3
	}
	st, _, err := b.transact(pkt, id, rx)
	if err != nil {
		return failed[PingInfo](err)
	}

	// An actuator refusing the ping answers with its error and no data
	herr := st.Err(b.Version())
	resp := Response[PingInfo]{Data: PingInfo{ID: id}}
	if b.Version() == protocol.V2 {
		info, ok := parsePing(id, st.Params)
		switch {
		case ok:
			resp.Data = info
			resp.HasData = true
		case herr == nil:
			return failed[PingInfo](fmt.Errorf("%w: ping response carries %d bytes", ErrCorrupt, len(st.Params)))
		}
	}
	if herr != nil {
		resp.Error = herr
		resp.Err = herr
		return resp
	}
	resp.OK = true
	return resp
}

func parsePing(id uint8, params []byte) (PingInfo, bool) {
	if len(params) != 3 {
		return PingInfo{}, false
	}
	return PingInfo{
		ID:          id,
		ModelNumber: uint16(params[0]) | uint16(params[1])<<8,
		Firmware:    params[2],
	}, true
}

// BroadcastPing asks every actuator to identify itself and returns those
// that answered, sorted by ID.
//
// No packet marks the end of the replies. Collection stops once
// Config.BroadcastIdle passes without a new byte, or Config.BroadcastWindow
// elapses. An actuator whose reply starts after the idle gap is missed
// without error; use Scan when every ID must be accounted for.
func (b *Bus) BroadcastPing() Response[[]PingInfo] {
	if b.Version() != protocol.V2 {
		return failed[[]PingInfo](&ValidationError{
			Op:  "broadcast ping",
			Msg: fmt.Sprintf("not available in protocol %s", b.Version()),
			Err: ErrUnsupported,
		})
	}
	pkt, err := b.encode("broadcast ping", protocol.BroadcastID, protocol.InstPing, nil)
	if err != nil {
		return failed[[]PingInfo](err)
	}

	x, err := b.begin()
	if err != nil {
		return failed[[]PingInfo](err)
	}
	defer x.end()

	if err := x.send(pkt); err != nil {
		b.record(err)
		return failed[[]PingInfo](err)
	}

	found := make(map[uint8]PingInfo)
	err = x.collect(b.cfg.BroadcastIdle, b.cfg.broadcastWindow(b.codec, x.baud), func(f protocol.Frame) {
		st, err := f.Status()
		if err != nil || f.ID > protocol.MaxIDV2 {
			return
		}
		switch info, ok := parsePing(f.ID, st.Params); {
		case ok:
			found[f.ID] = info
		case st.Error != 0:
			found[f.ID] = PingInfo{ID: f.ID}
		}
	})
	b.record(err)
	if err != nil {
		return failed[[]PingInfo](err)
	}

	infos := make([]PingInfo, 0, len(found))
	for _, info := range found {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return Response[[]PingInfo]{OK: true, Data: infos, HasData: true}
}

// Scan pings every ID from first to last in turn. It is slower than
// BroadcastPing but works with protocol 1.0 and cannot miss a late reply.
// Actuators reporting a hardware error are included.
func (b *Bus) Scan(first, last uint8) ([]PingInfo, error) {
	if first > last {
		return nil, invalid("scan", "first ID %d after last ID %d", first, last)
	}
	if last > b.Version().MaxID() {
		return nil, invalid("scan", "ID %d out of range (0-%d)", last, b.Version().MaxID())
	}

	var found []PingInfo
	for id := int(first); id <= int(last); id++ {
		resp := b.Ping(uint8(id))
		switch {
		case resp.OK, resp.Error != nil:
			found = append(found, resp.Data)
		case errors.Is(resp.Err, ErrTimeout), errors.Is(resp.Err, ErrCorrupt):
		default:
			return found, resp.Err
		}
	}
	return found, nil
}

// ReadBytes reads length raw bytes starting at address
func (b *Bus) ReadBytes(id uint8, address, length int) Response[[]byte] {
	if err := b.checkTarget("read", id, false); err != nil {
		return failed[[]byte](err)
	}
	if err := b.checkRegister("read", address, length); err != nil {
		return failed[[]byte](err)
	}
	pkt, err := b.encode("read", id, protocol.InstRead, b.codec.AddressParams(address, length))
	if err != nil {
		return failed[[]byte](err)
	}

	st, _, err := b.transact(pkt, id, length)
	if err != nil {
		return failed[[]byte](err)
	}
	herr := st.Err(b.Version())
	if len(st.Params) != length {
		if herr != nil {
			return Response[[]byte]{Error: herr, Err: herr}
		}
		return failed[[]byte](fmt.Errorf("%w: read returned %d bytes, want %d", ErrCorrupt, len(st.Params), length))
	}

	resp := Response[[]byte]{Data: st.Params, HasData: true}
	if herr != nil {
		resp.Error = herr
		resp.Err = herr
		return resp
	}
	resp.OK = true
	return resp
}

// Read reads a length byte register and decodes it little-endian
func (b *Bus) Read(id uint8, address, length int, signed bool) Response[int64] {
	if err := checkValueLength("read", length); err != nil {
		return failed[int64](err)
	}
	raw := b.ReadBytes(id, address, length)
	resp := Response[int64]{OK: raw.OK, Error: raw.Error, HasData: raw.HasData, Err: raw.Err}
	if raw.HasData {
		resp.Data = DecodeValue(raw.Data, signed)
	}
	return resp
}

func (b *Bus) writeOp(op string, inst protocol.Instruction, id uint8, address, length int, value int64, signed bool) Response[struct{}] {
	if err := b.checkTarget(op, id, true); err != nil {
		return failed[struct{}](err)
	}
	if err := checkValueLength(op, length); err != nil {
		return failed[struct{}](err)
	}
	if err := b.checkRegister(op, address, length); err != nil {
		return failed[struct{}](err)
	}
	data, err := EncodeValue(value, length, signed)
	if err != nil {
		return failed[struct{}](invalid(op, "%v", err))
	}

	params := append(b.codec.Field(address), data...)
	pkt, err := b.encode(op, id, inst, params)
	if err != nil {
		return failed[struct{}](err)
	}
	st, received, err := b.transact(pkt, id, 0)
	return unitResponse(b.Version(), st, received, err)
}

// Write stores value in a length byte register
func (b *Bus) Write(id uint8, address, length int, value int64, signed bool) Response[struct{}] {
	return b.writeOp("write", protocol.InstWrite, id, address, length, value, signed)
}

// RegWrite stages a write that takes effect on the next Action
func (b *Bus) RegWrite(id uint8, address, length int, value int64, signed bool) Response[struct{}] {
	return b.writeOp("reg write", protocol.InstRegWrite, id, address, length, value, signed)
}

// Action applies writes staged with RegWrite
func (b *Bus) Action(id uint8) Response[struct{}] {
	return b.command("action", protocol.InstAction, id, nil)
}

// command runs an instruction with fixed parameters and no returned data
func (b *Bus) command(op string, inst protocol.Instruction, id uint8, params []byte) Response[struct{}] {
	if err := b.checkSupported(op, inst); err != nil {
		return failed[struct{}](err)
	}
	if err := b.checkTarget(op, id, true); err != nil {
		return failed[struct{}](err)
	}
	pkt, err := b.encode(op, id, inst, params)
	if err != nil {
		return failed[struct{}](err)
	}
	st, received, err := b.transact(pkt, id, 0)
	return unitResponse(b.Version(), st, received, err)
}
