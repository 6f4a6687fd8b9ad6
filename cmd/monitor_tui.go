// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Focus states
const (
	focusActuatorTable = iota
	focusValueInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// actuator is one row of the monitor table
type actuator struct {
	info     dxl.PingInfo
	value    int64
	hasValue bool
	fault    *protocol.HardwareError
	missing  bool
	updated  time.Time
}

func (a actuator) status() string {
	switch {
	case a.fault != nil:
		return strings.Join(a.fault.Flags(), ", ")
	case a.missing:
		return "no response"
	case a.hasValue:
		return "ok"
	}
	return "-"
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string
	reg      monitorRegister
	fixedIDs []uint8

	// Actuator tracking
	actuators     []actuator
	actuatorTable table.Model
	poller        *poller
	discoveryDone bool

	// Polling
	polling     bool
	polls       uint64
	failedPolls uint64
	lastPoll    time.Duration

	errorLog      []errorLogEntry
	maxLogEntries int

	// Control
	valueInput   textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type pollTickMsg time.Time

type pollResultMsg struct {
	resp dxl.GroupResponse[int64]
	took time.Duration
}

type discoveryCompleteMsg struct {
	found []dxl.PingInfo
	err   error
}

type writeDoneMsg struct {
	id    uint8
	value int64
	resp  dxl.Response[struct{}]
}

type reconnectedMsg struct{}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, reg monitorRegister, fixedIDs []uint8) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "0"
	ti.CharLimit = 20
	ti.Width = 20

	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "Model", Width: 6},
		{Title: "FW", Width: 3},
		{Title: "Value", Width: 12},
		{Title: "Status", Width: 24},
		{Title: "Updated", Width: 12},
	}
	t := table.New(table.WithColumns(columns), table.WithHeight(10), table.WithFocused(true))
	t.SetStyles(monitorTableStyles())

	return monitorModel{
		connMgr:       connMgr,
		connInfo:      connMgr.connInfo,
		reg:           reg,
		fixedIDs:      fixedIDs,
		actuatorTable: t,
		maxLogEntries: 100,
		valueInput:    ti,
		focusedField:  focusActuatorTable,
		width:         80,
		height:        24,
	}
}

func monitorTableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Bold(false)
	return s
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.discoverCmd(), pollTickCmd(m.reg.interval))
}

func pollTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateTableSize()

	case pollTickMsg:
		cmds := []tea.Cmd{pollTickCmd(m.reg.interval)}
		if m.discoveryDone && !m.polling && !m.connectionLost && m.poller != nil {
			m.polling = true
			cmds = append(cmds, m.pollCmd())
		}
		return m, tea.Batch(cmds...)

	case pollResultMsg:
		m.polling = false
		if linkLost(msg.resp.Err) {
			return m.loseConnection(msg.resp.Err)
		}
		m.applyPoll(msg)

	case discoveryCompleteMsg:
		if linkLost(msg.err) {
			return m.loseConnection(msg.err)
		}
		m.finishDiscovery(msg)

	case writeDoneMsg:
		switch {
		case msg.resp.OK:
			m.addLogEntry(fmt.Sprintf("Wrote %d to ID %d @ %d", msg.value, msg.id, m.reg.writeAddress), false)
		case linkLost(msg.resp.Err):
			return m.loseConnection(msg.resp.Err)
		default:
			m.addLogEntry(fmt.Sprintf("Write to ID %d failed: %v", msg.id, msg.resp.Err), true)
		}

	case reconnectedMsg:
		m.connectionLost = false
		m.resetDiscovery()
		m.addLogEntry("Reconnected - starting discovery", false)
		return m, m.discoverCmd()
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		return m.toggleFocus(), nil

	case "enter":
		if m.focusedField == focusValueInput && m.discoveryDone {
			return m.sendWrite()
		}
		return m, nil
	}

	if m.focusedField == focusValueInput {
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "d":
		if m.discoveryDone && !m.connectionLost {
			m.resetDiscovery()
			m.addLogEntry("Rediscovering actuators", false)
			return m, m.discoverCmd()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.actuatorTable, cmd = m.actuatorTable.Update(msg)
	return m, cmd
}

func (m monitorModel) toggleFocus() monitorModel {
	if !m.discoveryDone || len(m.actuators) == 0 {
		m.focusedField = focusActuatorTable
		return m
	}
	if m.focusedField == focusActuatorTable {
		m.focusedField = focusValueInput
		m.actuatorTable.Blur()
		m.valueInput.Focus()
	} else {
		m.focusedField = focusActuatorTable
		m.valueInput.Blur()
		m.actuatorTable.Focus()
	}
	return m
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// discoverCmd finds the actuators to poll. Fixed IDs are pinged once for
// their model information and kept whether they answer or not.
func (m monitorModel) discoverCmd() tea.Cmd {
	bus := m.connMgr.bus
	fixed := m.fixedIDs
	return func() tea.Msg {
		if len(fixed) == 0 {
			found, err := discover(bus)
			return discoveryCompleteMsg{found: found, err: err}
		}
		found := make([]dxl.PingInfo, 0, len(fixed))
		for _, id := range fixed {
			resp := bus.Ping(id)
			if linkLost(resp.Err) {
				return discoveryCompleteMsg{err: resp.Err}
			}
			info := resp.Data
			info.ID = id
			found = append(found, info)
		}
		return discoveryCompleteMsg{found: found}
	}
}

func (m monitorModel) pollCmd() tea.Cmd {
	p := m.poller
	return func() tea.Msg {
		start := time.Now()
		resp := p.poll()
		return pollResultMsg{resp: resp, took: time.Since(start)}
	}
}

func (m monitorModel) reconnectCmd() tea.Cmd {
	cm := m.connMgr
	return func() tea.Msg {
		if !cm.reconnect() {
			return nil
		}
		return reconnectedMsg{}
	}
}

func (m monitorModel) sendWrite() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot write: connection lost", true)
		return m, nil
	}
	selected := m.selectedActuator()
	if selected == nil {
		return m, nil
	}

	text := strings.TrimSpace(m.valueInput.Value())
	if text == "" {
		text = m.valueInput.Placeholder
	}
	value, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid value: %s", text), true)
		return m, nil
	}

	bus := m.connMgr.bus
	id := selected.info.ID
	reg := m.reg
	return m, func() tea.Msg {
		resp := bus.Write(id, reg.writeAddress, reg.writeLength, value, reg.signed)
		return writeDoneMsg{id: id, value: value, resp: resp}
	}
}

//////////////////////////////////////////////////////////////
// State Changes
//////////////////////////////////////////////////////////////

func (m monitorModel) loseConnection(err error) (tea.Model, tea.Cmd) {
	if m.connectionLost {
		return m, nil
	}
	m.connectionLost = true
	m.polling = false
	m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", err), true)
	return m, m.reconnectCmd()
}

func (m *monitorModel) finishDiscovery(msg discoveryCompleteMsg) {
	m.discoveryDone = true
	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("Discovery failed: %v", msg.err), true)
	}

	m.actuators = make([]actuator, 0, len(msg.found))
	ids := make([]uint8, 0, len(msg.found))
	for _, info := range msg.found {
		m.actuators = append(m.actuators, actuator{info: info})
		ids = append(ids, info.ID)
	}
	m.addLogEntry(fmt.Sprintf("Discovery complete: %d actuator(s)", len(m.actuators)), false)

	m.poller = nil
	if len(ids) > 0 {
		p, err := newPoller(m.connMgr.bus, ids, m.reg.address, m.reg.length, m.reg.signed, m.reg.fast)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Cannot poll: %v", err), true)
		} else {
			m.poller = p
		}
	}
	m.updateTableRows()
}

func (m *monitorModel) resetDiscovery() {
	m.discoveryDone = false
	m.actuators = nil
	m.poller = nil
	m.focusedField = focusActuatorTable
	m.valueInput.Blur()
	m.actuatorTable.Focus()
	m.updateTableRows()
}

func (m *monitorModel) applyPoll(msg pollResultMsg) {
	m.polls++
	m.lastPoll = msg.took
	if !msg.resp.OK {
		m.failedPolls++
	}

	now := time.Now()
	missing := make(map[uint8]bool, len(msg.resp.Missing))
	for _, id := range msg.resp.Missing {
		missing[id] = true
	}

	for i := range m.actuators {
		a := &m.actuators[i]
		id := a.info.ID

		wasFaulted := a.fault != nil
		wasMissing := a.missing
		a.fault = msg.resp.Errors[id]
		a.missing = missing[id]
		if v, ok := msg.resp.Data[id]; ok {
			a.value = v
			a.hasValue = true
			a.updated = now
		}

		if a.fault != nil && !wasFaulted {
			m.addLogEntry(a.fault.Error(), true)
		}
		if a.missing && !wasMissing {
			m.addLogEntry(fmt.Sprintf("ID %d stopped responding", id), true)
		}
		if !a.missing && wasMissing {
			m.addLogEntry(fmt.Sprintf("ID %d responding again", id), false)
		}
	}

	if msg.resp.Err != nil && len(msg.resp.Missing) == 0 && len(msg.resp.Errors) == 0 {
		m.addLogEntry(fmt.Sprintf("Poll failed: %v", msg.resp.Err), true)
	}
	m.updateTableRows()
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	helpText := "q=quit"
	if m.discoveryDone {
		helpText = "q=quit Tab=switch d=discover"
	}
	s.WriteString(titleStyle.Render("DXLSTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n\n")

	if !m.discoveryDone {
		s.WriteString(warningStyle.Render("Discovering actuators..."))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))
		return s.String()
	}

	// Layout: actuator table | control panel
	tableStyle := boxStyle
	if m.focusedField == focusActuatorTable {
		tableStyle = focusedBoxStyle
	}
	tablePanel := tableStyle.Render(m.actuatorTable.View())

	controlStyle := boxStyle
	if m.focusedField == focusValueInput {
		controlStyle = focusedBoxStyle
	}
	controlPanel := controlStyle.Render(m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tablePanel, " ", controlPanel))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

func (m monitorModel) renderControlPanel(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	s.WriteString(fmt.Sprintf("%s %d (%d bytes%s)\n",
		labelStyle.Render("Polling:"), m.reg.address, m.reg.length, signedSuffix(m.reg.signed)))
	s.WriteString(fmt.Sprintf("%s every %s\n\n", labelStyle.Render("Rate:"), m.reg.interval))

	selected := m.selectedActuator()
	if selected == nil {
		s.WriteString(headerStyle.Render("No actuator selected"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s ID %d\n", labelStyle.Render("Selected:"), selected.info.ID))
	if selected.hasValue {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Value:"), valueStyle.Render(strconv.FormatInt(selected.value, 10))))
	}
	s.WriteString("\n")

	s.WriteString(labelStyle.Render(fmt.Sprintf("Write %d:", m.reg.writeAddress)))
	s.WriteString(" ")
	if m.focusedField == focusValueInput {
		s.WriteString(m.valueInput.View())
		s.WriteString("\n")
		s.WriteString(headerStyle.Render("Enter=send"))
	} else {
		val := m.valueInput.Value()
		if val == "" {
			val = m.valueInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	return s.String()
}

func signedSuffix(signed bool) string {
	if signed {
		return ", signed"
	}
	return ""
}

func (m monitorModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	snap := m.connMgr.bus.Statistics().Snapshot()

	failed := valueStyle.Render("0")
	if snap.FailedTransactions > 0 {
		failed = errorStyle.Render(fmt.Sprintf("%d", snap.FailedTransactions))
	}
	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Polls:"), valueStyle.Render(fmt.Sprintf("%d", m.polls)),
		labelStyle.Render("Transactions:"), valueStyle.Render(fmt.Sprintf("%d", snap.Transactions)),
		labelStyle.Render("Failed:"), failed,
		labelStyle.Render("Timeouts:"), valueStyle.Render(fmt.Sprintf("%d", snap.Timeouts)),
		labelStyle.Render("Checksum:"), valueStyle.Render(fmt.Sprintf("%d", snap.CRCErrors)),
		labelStyle.Render("Poll:"), valueStyle.Render(m.lastPoll.Round(100*time.Microsecond).String()),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) selectedActuator() *actuator {
	idx := m.actuatorTable.Cursor()
	if idx < 0 || idx >= len(m.actuators) {
		return nil
	}
	return &m.actuators[idx]
}

func (m *monitorModel) updateTableRows() {
	rows := make([]table.Row, 0, len(m.actuators))
	for _, a := range m.actuators {
		model, fw := "-", "-"
		if m.connMgr.bus.Version() == protocol.V2 && a.info.ModelNumber != 0 {
			model = strconv.Itoa(int(a.info.ModelNumber))
			fw = strconv.Itoa(int(a.info.Firmware))
		}
		value := "-"
		if a.hasValue {
			value = strconv.FormatInt(a.value, 10)
		}
		updated := "-"
		if !a.updated.IsZero() {
			updated = a.updated.Format("15:04:05.000")
		}
		rows = append(rows, table.Row{strconv.Itoa(int(a.info.ID)), model, fw, value, a.status(), updated})
	}
	m.actuatorTable.SetRows(rows)
	if len(rows) > 0 && m.actuatorTable.Cursor() >= len(rows) {
		m.actuatorTable.SetCursor(len(rows) - 1)
	}
}

func (m *monitorModel) updateTableSize() {
	h := m.height - 20
	if h < 5 {
		h = 5
	}
	m.actuatorTable.SetHeight(h)
}
