// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// actuatorActivity is what the bus traffic revealed about one ID
type actuatorActivity struct {
	instructions uint64
	statuses     uint64
	faults       uint64
	lastError    uint8
	lastSeen     time.Time
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *protocol.Statistics
	tracker       responseTracker
	actuators     map[uint8]*actuatorActivity
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  uint64
	linkClosed    bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type frameDataMsg struct {
	event            frameEvent
	validationErrors []protocol.ValidationError
}
type syncMsg struct {
	invalidBytes uint64
}
type linkClosedMsg struct {
	err error
}

// formatUptime formats a duration to a human-friendly string
func formatUptime(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}

	seconds := uint64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, unit := range []struct {
		n    uint64
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {seconds, "second"}} {
		switch {
		case unit.n == 1:
			parts = append(parts, "1 "+unit.name)
		case unit.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", unit.n, unit.name))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         protocol.NewStatistics(),
		actuators:     make(map[uint8]*actuatorActivity),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Redraw so rates and uptime stay current
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case frameDataMsg:
		m.processFrame(msg)

	case linkClosedMsg:
		m.linkClosed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Link lost: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}
	}

	return m, nil
}

func (m *model) processFrame(msg frameDataMsg) {
	ev := msg.event
	if ev.decodeErr != nil {
		m.stats.Update(nil, ev.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.decodeErr), true)
		return
	}

	if inst, id, missed := m.tracker.observe(ev.frame); missed {
		m.stats.RecordTransaction(false, true)
		m.addLogEntry(fmt.Sprintf("No response to %s from ID %d", protocol.FormatInstruction(inst), id), true)
	}

	m.stats.Update(&ev.frame, nil, msg.validationErrors)
	m.trackActuator(ev)

	label := frameLabel(ev.frame)
	if len(msg.validationErrors) > 0 {
		for _, err := range msg.validationErrors {
			m.addLogEntry(fmt.Sprintf("%s: %s", label, err.Message), true)
		}
	} else if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s id=%s (valid)", label, protocol.FormatID(ev.frame.ID)), false)
	}
}

// frameLabel names the instruction a frame carries
func frameLabel(f protocol.Frame) string {
	if f.Version == protocol.V2 && f.IsStatus() {
		return "STATUS"
	}
	inst, _ := f.Instruction()
	return protocol.FormatInstruction(inst)
}

// trackActuator updates the per-ID activity table. Protocol 1.0 frames
// cannot be told apart, so they all count as status packets.
func (m *model) trackActuator(ev frameEvent) {
	f := ev.frame
	if f.ID == protocol.BroadcastID {
		return
	}
	a := m.actuators[f.ID]
	if a == nil {
		a = &actuatorActivity{}
		m.actuators[f.ID] = a
	}
	a.lastSeen = ev.at

	if f.Version == protocol.V2 && !f.IsStatus() {
		a.instructions++
		return
	}
	a.statuses++
	if st, err := f.Status(); err == nil {
		a.lastError = st.Error
		if st.Error != 0 {
			a.faults++
		}
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("DXLSTAT - ERROR DETECTION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' resets, 'q' quits", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render("✗ Link closed"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	snap := m.stats.Snapshot()
	var validPercent, errorPercent float64
	if snap.TotalFrames > 0 {
		validPercent = float64(snap.ValidFrames) * 100.0 / float64(snap.TotalFrames)
		errorPercent = float64(snap.Errors()) * 100.0 / float64(snap.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", snap.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", snap.Errors(), errorPercent)),
	))

	if snap.InstructionFrames > 0 || snap.StatusFrames > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Instructions:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.InstructionFrames)),
			statsLabelStyle.Render("Status:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.StatusFrames)),
		))
	}

	if snap.CRCErrors > 0 || snap.DecodeErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", snap.CRCErrors)),
			statsLabelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", snap.DecodeErrors)),
		))
	}

	if snap.MalformedFrames > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", snap.MalformedFrames)),
		))
	}

	if snap.HardwareErrors > 0 || snap.Timeouts > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Hardware Errors:"), warningStyle.Render(fmt.Sprintf("%d", snap.HardwareErrors)),
			statsLabelStyle.Render("No Response:"), warningStyle.Render(fmt.Sprintf("%d", snap.Timeouts)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", snap.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if snap.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
		}(),
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(time.Since(snap.StartTime))),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Actuator activity (only shown once traffic is seen)
	if len(m.actuators) > 0 {
		s.WriteString(statsLabelStyle.Render("Actuators Seen:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderActuators(statsLabelStyle, statsValueStyle, warningStyle)))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - len(m.actuators)
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func (m model) renderActuators(labelStyle, valueStyle, warningStyle lipgloss.Style) string {
	ids := make([]int, 0, len(m.actuators))
	for id := range m.actuators {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var b strings.Builder
	for i, id := range ids {
		a := m.actuators[uint8(id)]
		errText := valueStyle.Render("ok")
		if a.lastError != 0 {
			errText = warningStyle.Render(fmt.Sprintf("0x%02X", a.lastError))
		}
		b.WriteString(fmt.Sprintf("%s instr %s  status %s  faults %d  last error %s  seen %s ago",
			labelStyle.Render(fmt.Sprintf("ID %3d:", id)),
			valueStyle.Render(fmt.Sprintf("%6d", a.instructions)),
			valueStyle.Render(fmt.Sprintf("%6d", a.statuses)),
			a.faults, errText,
			time.Since(a.lastSeen).Round(time.Second)))
		if i < len(ids)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
