// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/device"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusActionList = iota
	focusBatteryInput
)

// controlAction identifies an entry of the action list
type controlAction int

const (
	actionVersion controlAction = iota
	actionState
	actionBattery
	actionStart
	actionStop
	actionToggleO1
	actionToggleO2
	actionResetStats
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// actionItem is an action shown in the list
type actionItem struct {
	action      controlAction
	title       string
	description string
}

// Implement list.Item interface
func (a actionItem) Title() string       { return a.title }
func (a actionItem) Description() string { return a.description }
func (a actionItem) FilterValue() string { return a.title }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctl      *controller
	connInfo string

	// Actions
	actionList list.Model

	// Device state
	version   string
	state     *device.State
	acquiring bool
	labels    []string
	o1, o2    bool
	busy      bool

	// Monitoring (reused from tui.go patterns)
	stats         *bitalino.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	lastSample    *sampleData

	// Control
	batteryInput textinput.Model
	focusedField int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctl *controller) controlModel {
	// Initialize text input for the battery threshold
	ti := textinput.New()
	ti.Placeholder = "0-63"
	ti.CharLimit = 2
	ti.Width = 6

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	actionList := list.New([]list.Item{}, delegate, 30, 10)
	actionList.Title = "Actions"
	actionList.SetShowStatusBar(false)
	actionList.SetShowHelp(false)
	actionList.SetFilteringEnabled(false)

	m := controlModel{
		ctl:           ctl,
		connInfo:      ctl.connInfo,
		actionList:    actionList,
		stats:         bitalino.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		batteryInput:  ti,
		focusedField:  focusActionList,
		width:         80,
		height:        24,
	}
	m.updateActionList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), m.ctl.version())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		return m, controlTickCmd()

	case actionResultMsg:
		m.handleResult(msg)

	case controlCycleMsg:
		m.processCycle(&msg.cycle)

	case acquisitionStoppedMsg:
		m.addLogEntry(fmt.Sprintf("Acquisition stopped: %v", msg.err), true)
		return m, m.ctl.stop()
	}

	return m, nil
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		return m.handleEnter()

	case "up", "k", "down", "j":
		if m.focusedField == focusActionList {
			var cmd tea.Cmd
			m.actionList, cmd = m.actionList.Update(msg)
			return m, cmd
		}
	}

	// Pass through to focused component
	if m.focusedField == focusBatteryInput {
		var cmd tea.Cmd
		m.batteryInput, cmd = m.batteryInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// Pass mouse events to the list
	m.actionList, _ = m.actionList.Update(msg)

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	// The threshold can only be changed while idle
	if m.acquiring {
		m.focusedField = focusActionList
		m.batteryInput.Blur()
		return m
	}

	m.focusedField = (m.focusedField + delta + 2) % 2

	if m.focusedField == focusBatteryInput {
		m.batteryInput.Focus()
	} else {
		m.batteryInput.Blur()
	}

	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.busy {
		m.addLogEntry("Previous command still running", true)
		return m, nil
	}

	if m.focusedField == focusBatteryInput {
		return m.sendBatteryCommand()
	}

	selected, ok := m.actionList.SelectedItem().(actionItem)
	if !ok {
		return m, nil
	}

	var cmd tea.Cmd
	switch selected.action {
	case actionVersion:
		cmd = m.ctl.version()
	case actionState:
		cmd = m.ctl.state()
	case actionBattery:
		m.cycleFocus(1)
		return m, nil
	case actionStart:
		cmd = m.ctl.start()
	case actionStop:
		cmd = m.ctl.stop()
	case actionToggleO1, actionToggleO2:
		cmd = m.ctl.toggle(selected.action)
	case actionResetStats:
		m.stats.Reset()
		m.lastSample = nil
		m.addLogEntry("Statistics reset", false)
		return m, nil
	}

	m.busy = true
	return m, cmd
}

func (m *controlModel) sendBatteryCommand() (tea.Model, tea.Cmd) {
	threshold, err := strconv.Atoi(strings.TrimSpace(m.batteryInput.Value()))
	if err != nil || threshold < device.MinBatteryThreshold || threshold > device.MaxBatteryThreshold {
		m.addLogEntry(fmt.Sprintf("Invalid battery threshold %q (valid %d-%d)",
			m.batteryInput.Value(), device.MinBatteryThreshold, device.MaxBatteryThreshold), true)
		return m, nil
	}

	m.batteryInput.SetValue("")
	m.cycleFocus(-1)
	m.busy = true
	return m, m.ctl.setBattery(threshold)
}

func (m controlModel) View() string {
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
	s.WriteString(titleStyle.Render("BITASTAT CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=run", m.connInfo)))
	s.WriteString("\n\n")

	// Layout: left panel (actions) | right panel (device)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusActionList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	actionPanel := listStyle.Render(m.actionList.View())

	devicePanel := boxStyle.Width(rightWidth).Render(
		m.renderDevicePanel(statsLabelStyle, statsValueStyle, headerStyle, warningStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, actionPanel, " ", devicePanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Latest sample
	if m.lastSample != nil {
		s.WriteString(m.renderSample(statsLabelStyle, statsValueStyle, boxStyle))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderDevicePanel(statsLabelStyle, statsValueStyle, headerStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder

	version := m.version
	if version == "" {
		version = "(unknown)"
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Device:"), statsValueStyle.Render(version)))

	mode := statsValueStyle.Render("IDLE")
	if m.acquiring {
		mode = warningStyle.Render(fmt.Sprintf("ACQUIRING %d Hz", cfg.Device.Rate))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Mode:"), mode))
	s.WriteString(fmt.Sprintf("%s O1=%s O2=%s\n\n", statsLabelStyle.Render("Outputs:"), onOff(m.o1), onOff(m.o2)))

	if m.state != nil {
		s.WriteString(fmt.Sprintf("%s %s (raw %d, threshold %d)\n",
			statsLabelStyle.Render("Battery:"),
			statsValueStyle.Render(fmt.Sprintf("%.2f%%", m.state.BatteryPercent())),
			m.state.Battery, m.state.BatteryThreshold))
		s.WriteString(statsLabelStyle.Render("Analog:"))
		for i, v := range m.state.Analog {
			s.WriteString(fmt.Sprintf(" A%d=%d", i+1, v))
		}
		s.WriteString("\n\n")
	} else {
		s.WriteString(headerStyle.Render("No state read yet"))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Battery threshold: "))
	switch {
	case m.acquiring:
		s.WriteString(headerStyle.Render("(stop acquisition to change)"))
	case m.focusedField == focusBatteryInput:
		s.WriteString(m.batteryInput.View())
	default:
		val := m.batteryInput.Value()
		if val == "" {
			val = m.batteryInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}

	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalSamples > 0 {
		validPercent = float64(m.stats.ValidSamples) * 100.0 / float64(m.stats.TotalSamples)
		errorPercent = float64(m.stats.ChecksumErrors+m.stats.MissedSamples) * 100.0 / float64(m.stats.TotalSamples)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalSamples)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f samples/s", m.stats.SampleRate)),
	)
	if m.stats.HasOffset {
		content += fmt.Sprintf("  %s %s",
			statsLabelStyle.Render("Drift:"), statsValueStyle.Render(fmt.Sprintf("%+d us", m.stats.Drift().Microseconds())))
	}

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderSample(statsLabelStyle, statsValueStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("SAMPLE"))
	content.WriteString(" | ")
	content.WriteString(statsValueStyle.Render(m.lastSample.timestamp.Format("15:04:05.000")))
	content.WriteString("  ")

	line := bitalino.FormatSample(m.labels, m.lastSample.timestamp, m.lastSample.sample, m.lastSample.converted)
	// Drop the timestamp prefix already shown above
	if i := strings.Index(line, "] "); i >= 0 {
		line = line[i+2:]
	}
	content.WriteString(strings.TrimSpace(line))

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Calculate available height for log
	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) handleResult(msg actionResultMsg) {
	m.busy = false

	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("%s failed: %v", actionTitle(msg.action), msg.err), true)
		// The device rejects idle commands while acquiring and vice versa
		if errors.Is(msg.err, device.ErrNotAcquiring) {
			m.acquiring = false
		}
		m.updateActionList()
		return
	}

	switch msg.action {
	case actionVersion:
		m.version = msg.version
	case actionState:
		m.state = msg.state
	case actionStart:
		m.acquiring = true
		m.labels = msg.labels
		m.o1, m.o2 = false, false
		m.stats.Reset()
		m.lastSample = nil
		m.focusedField = focusActionList
		m.batteryInput.Blur()
	case actionStop:
		m.acquiring = false
	case actionToggleO1:
		m.o1 = !m.o1
	case actionToggleO2:
		m.o2 = !m.o2
	}

	if msg.message != "" {
		m.addLogEntry(msg.message, false)
	}
	m.updateActionList()
}

func (m *controlModel) processCycle(c *bitalino.Cycle) {
	m.stats.Update(c)

	for _, a := range c.Anomalies {
		m.addLogEntry(a.String(), a.Type != bitalino.AnomalySequenceGap)
	}

	for i := len(c.Samples) - 1; i >= 0; i-- {
		if c.Samples[i].Valid {
			latest := &sampleData{timestamp: c.Timestamps[i], sample: c.Samples[i], offset: c.Offset}
			if i < len(c.Converted) {
				latest.converted = c.Converted[i]
			}
			m.lastSample = latest
			break
		}
	}
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func actionTitle(a controlAction) string {
	switch a {
	case actionVersion:
		return "Version"
	case actionState:
		return "State"
	case actionBattery:
		return "Battery threshold"
	case actionStart:
		return "Start"
	case actionStop:
		return "Stop"
	case actionToggleO1:
		return "Toggle O1"
	case actionToggleO2:
		return "Toggle O2"
	case actionResetStats:
		return "Reset statistics"
	default:
		return "Unknown"
	}
}

// actionItems returns the actions available in the current mode
func (m *controlModel) actionItems() []actionItem {
	if m.acquiring {
		return []actionItem{
			{actionStop, actionTitle(actionStop), "Stop acquisition"},
			{actionToggleO1, actionTitle(actionToggleO1), "Output O1 is " + onOff(m.o1)},
			{actionToggleO2, actionTitle(actionToggleO2), "Output O2 is " + onOff(m.o2)},
			{actionResetStats, actionTitle(actionResetStats), "Clear counters"},
		}
	}
	return []actionItem{
		{actionStart, actionTitle(actionStart), fmt.Sprintf("%d Hz, %s", cfg.Device.Rate, strings.Join(cfg.Device.Channels, " "))},
		{actionVersion, actionTitle(actionVersion), "Query firmware version"},
		{actionState, actionTitle(actionState), "Read battery and channels"},
		{actionBattery, actionTitle(actionBattery), "Set low-battery LED level"},
		{actionResetStats, actionTitle(actionResetStats), "Clear counters"},
	}
}

func (m *controlModel) updateActionList() {
	actions := m.actionItems()
	items := make([]list.Item, len(actions))
	for i, a := range actions {
		items[i] = a
	}
	index := m.actionList.Index()
	m.actionList.SetItems(items)
	if index >= len(items) {
		index = 0
	}
	m.actionList.Select(index)
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 10 {
		listHeight = 10
	}
	m.actionList.SetSize(28, listHeight)
}
