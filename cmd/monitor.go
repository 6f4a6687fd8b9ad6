// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// Register defaults for X series (protocol 2.0) and AX/MX series (1.0)
// actuators: Present Position and Goal Position
const (
	defaultPollAddressV2  = 132
	defaultPollLengthV2   = 4
	defaultWriteAddressV2 = 116
	defaultWriteLengthV2  = 4

	defaultPollAddressV1  = 36
	defaultPollLengthV1   = 2
	defaultWriteAddressV1 = 30
	defaultWriteLengthV1  = 2
)

var (
	monitorIDs          string
	monitorAddress      int
	monitorLength       int
	monitorSigned       bool
	monitorFast         bool
	monitorInterval     int
	monitorWriteAddress int
	monitorWriteLength  int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and commanding actuators",
	Long: `Watch a register on every actuator via an interactive terminal UI.

The monitor discovers the actuators on the bus (broadcast ping with protocol
2.0, a full scan with 1.0) unless --ids is given, then polls one register on
all of them with a sync read (per-actuator reads with protocol 1.0).

Features:
  - Actuator discovery
  - Live register values with per-actuator hardware errors
  - Writing a value to the selected actuator
  - Bus statistics and an event log
  - Automatic reconnection on connection loss

The register defaults to Present Position and the write target to Goal
Position of the protocol's common actuator series. Tab switches between the
actuator table and the value input. Arrow keys navigate the table.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addPollFlags(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorWriteAddress, "write-address", 0, "Register written from the value input (default Goal Position)")
	monitorCmd.Flags().IntVar(&monitorWriteLength, "write-length", 0, "Width of the written register")
}

// addPollFlags registers the flags shared by monitor and record
func addPollFlags(c *cobra.Command) {
	c.Flags().StringVar(&monitorIDs, "ids", "", "Actuator IDs to poll, e.g. 1,2,5-8 (default: discover)")
	c.Flags().IntVar(&monitorAddress, "address", 0, "Register to poll (default Present Position)")
	c.Flags().IntVar(&monitorLength, "length", 0, "Width of the polled register")
	c.Flags().BoolVar(&monitorSigned, "signed", true, "Values are signed")
	c.Flags().BoolVar(&monitorFast, "fast", false, "Use FAST_SYNC_READ")
	c.Flags().IntVar(&monitorInterval, "interval", 100, "Poll interval (ms)")
}

// pollRegister returns the polled and written registers, applying the
// defaults for the protocol version
func pollRegister(v protocol.Version) (address, length, writeAddress, writeLength int) {
	address, length = defaultPollAddressV2, defaultPollLengthV2
	writeAddress, writeLength = defaultWriteAddressV2, defaultWriteLengthV2
	if v == protocol.V1 {
		address, length = defaultPollAddressV1, defaultPollLengthV1
		writeAddress, writeLength = defaultWriteAddressV1, defaultWriteLengthV1
	}
	if monitorAddress != 0 {
		address = monitorAddress
	}
	if monitorLength != 0 {
		length = monitorLength
	}
	if monitorWriteAddress != 0 {
		writeAddress = monitorWriteAddress
	}
	if monitorWriteLength != 0 {
		writeLength = monitorWriteLength
	}
	return address, length, writeAddress, writeLength
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var fixed []uint8
	if monitorIDs != "" {
		var err error
		if fixed, err = parseIDList(monitorIDs); err != nil {
			return err
		}
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}

	address, length, writeAddress, writeLength := pollRegister(bus.Version())
	if _, err := dxl.NewSyncParams(address, length, monitorSigned); err != nil {
		bus.Disconnect()
		return err
	}

	cm := &connectionManager{
		bus:      bus,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}
	reg := monitorRegister{
		address:      address,
		length:       length,
		signed:       monitorSigned,
		fast:         monitorFast,
		writeAddress: writeAddress,
		writeLength:  writeLength,
		interval:     time.Duration(monitorInterval) * time.Millisecond,
	}

	m := initialMonitorModel(cm, reg, fixed)
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, err = p.Run()
	close(cm.done)
	bus.Disconnect()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Connection Management
//////////////////////////////////////////////////////////////

// connectionManager owns the bus and brings it back after the link drops
type connectionManager struct {
	bus      *dxl.Bus
	connInfo string
	done     chan struct{}
}

// reconnect reopens the port with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	cm.bus.Disconnect()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		if err := cm.bus.Connect(); err == nil {
			return true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// linkLost reports whether err means the port itself failed, as opposed to
// an actuator not answering or answering badly
func linkLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, dxl.ErrTimeout) || errors.Is(err, dxl.ErrCorrupt) || errors.Is(err, dxl.ErrNotExecuted) {
		return false
	}
	var herr *protocol.HardwareError
	if errors.As(err, &herr) {
		return false
	}
	var verr *dxl.ValidationError
	return !errors.As(err, &verr)
}

//////////////////////////////////////////////////////////////
// Polling
//////////////////////////////////////////////////////////////

// monitorRegister describes what the monitor reads and writes
type monitorRegister struct {
	address      int
	length       int
	signed       bool
	fast         bool
	writeAddress int
	writeLength  int
	interval     time.Duration
}

// poller reads one register from a fixed set of actuators
type poller struct {
	bus    *dxl.Bus
	params *dxl.SyncParams
	fast   bool
}

func newPoller(bus *dxl.Bus, ids []uint8, address, length int, signed, fast bool) (*poller, error) {
	params, err := dxl.NewSyncParams(address, length, signed)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := params.AddMotor(id); err != nil {
			return nil, err
		}
	}
	return &poller{bus: bus, params: params, fast: fast}, nil
}

// poll reads the register once. Protocol 1.0 has no sync read, so each
// actuator is read in turn and the results combined.
func (p *poller) poll() dxl.GroupResponse[int64] {
	if p.bus.Version() == protocol.V2 {
		if p.fast {
			return p.bus.FastSyncRead(p.params)
		}
		return p.bus.SyncRead(p.params)
	}

	resp := dxl.GroupResponse[int64]{
		Data:   make(map[uint8]int64),
		Errors: make(map[uint8]*protocol.HardwareError),
	}
	for _, id := range p.params.IDs() {
		r := p.bus.Read(id, p.params.Address(), p.params.Length(), p.params.Signed())
		if r.HasData {
			resp.Data[id] = r.Data
		}
		switch {
		case r.Error != nil:
			resp.Errors[id] = r.Error
		case r.Err != nil:
			resp.Missing = append(resp.Missing, id)
			if linkLost(r.Err) {
				resp.Err = r.Err
				return resp
			}
		}
		if resp.Err == nil && r.Err != nil {
			resp.Err = r.Err
		}
	}
	resp.OK = resp.Err == nil
	return resp
}

// discover finds the actuators on the bus
func discover(bus *dxl.Bus) ([]dxl.PingInfo, error) {
	if bus.Version() == protocol.V2 {
		resp := bus.BroadcastPing()
		if !resp.OK {
			return nil, resp.Err
		}
		return resp.Data, nil
	}
	return bus.Scan(0, protocol.MaxIDV1)
}
