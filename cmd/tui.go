// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// Latest sample and clock telemetry
type sampleData struct {
	timestamp time.Time
	sample    bitalino.Sample
	converted []float64
	offset    *bitalino.OffsetRecord
}

// TUI model
type model struct {
	connInfo      string
	version       string
	rate          int
	labels        []string
	statsInterval int
	showAll       bool
	stats         *bitalino.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	receiving     bool
	spinner       spinner.Model
	width         int
	height        int
	quitting      bool
	lastSample    *sampleData
	readErr       error
}

// Messages
type tickMsg time.Time
type cycleMsg struct {
	cycle bitalino.Cycle
}
type readErrMsg struct {
	err error
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, unit := range []struct {
		value uint64
		name  string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
	} {
		switch {
		case unit.value == 1:
			parts = append(parts, "1 "+unit.name)
		case unit.value > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", unit.value, unit.name))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
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

func initialModel(acq *Acquisition, statsInterval int, showAll bool) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	session := acq.Reader.Session()
	return model{
		connInfo:      acq.ConnInfo,
		version:       acq.Version,
		rate:          session.Rate(),
		labels:        session.Labels(),
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         bitalino.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		spinner:       s,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
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

	case spinner.TickMsg:
		if m.receiving {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, tickCmd()

	case readErrMsg:
		m.readErr = msg.err
		m.addLogEntry(fmt.Sprintf("READ ERROR: %v", msg.err), true)

	case cycleMsg:
		m.applyCycle(&msg.cycle)
	}

	return m, nil
}

// applyCycle folds a decode cycle into the statistics and event log
func (m *model) applyCycle(c *bitalino.Cycle) {
	m.stats.Update(c)

	if !m.receiving && !c.Empty() {
		m.receiving = true
		m.addLogEntry(fmt.Sprintf("Receiving frames at %d Hz", m.rate), false)
	}

	for _, a := range c.Anomalies {
		m.addLogEntry(a.String(), a.Type == bitalino.AnomalyChecksum)
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

	if m.showAll && !c.Empty() {
		m.addLogEntry(fmt.Sprintf("%d samples (valid)", c.Len()), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
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
	s.WriteString(titleStyle.Render("BITASTAT - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s @ %d Hz | Press 'r' to reset, 'q' to quit",
		m.connInfo, m.version, m.rate)))
	s.WriteString("\n\n")

	// Stream status
	switch {
	case m.readErr != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Connection lost: %v", m.readErr)))
	case !m.receiving:
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(" Waiting for frames..."))
	default:
		uptime := uint64(time.Since(m.stats.StartTime).Milliseconds())
		s.WriteString(statsValueStyle.Render("✓ Receiving"))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" (running %s)", formatUptime(uptime))))
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalSamples > 0 {
		validPercent = float64(m.stats.ValidSamples) * 100.0 / float64(m.stats.TotalSamples)
		errorPercent = float64(m.stats.ChecksumErrors) * 100.0 / float64(m.stats.TotalSamples)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalSamples)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidSamples, validPercent)),
		statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ChecksumErrors, errorPercent)),
	))

	if m.stats.MissedSamples > 0 || m.stats.Saturations > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Missed:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.MissedSamples)),
			statsLabelStyle.Render("Saturations:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Saturations)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s (%d empty)\n",
		statsLabelStyle.Render("Cycles:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Cycles)), m.stats.EmptyCycles,
	))

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Sample Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f samples/s", m.stats.SampleRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest sample and clock section (only shown once data has arrived)
	if m.lastSample != nil {
		s.WriteString(statsLabelStyle.Render("Latest Sample:"))
		s.WriteString("\n")

		sampleContent := strings.Builder{}
		sampleContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Time:"), statsValueStyle.Render(m.lastSample.timestamp.Format("15:04:05.000")),
		))

		row := m.lastSample.sample.Row()
		values := make([]float64, 0, len(row)+len(m.lastSample.converted))
		values = append(values, row...)
		values = append(values, m.lastSample.converted...)
		for i, v := range values {
			if i >= len(m.labels) {
				break
			}
			value := fmt.Sprintf("%d", int(v))
			if i >= len(row) {
				value = fmt.Sprintf("%.3f", v)
			}
			sampleContent.WriteString(fmt.Sprintf("%s %s  ",
				statsLabelStyle.Render(m.labels[i]+":"), statsValueStyle.Render(value)))
		}
		sampleContent.WriteString("\n")

		if m.stats.HasOffset {
			sampleContent.WriteString(fmt.Sprintf("%s %s   %s %s",
				statsLabelStyle.Render("Clock Offset:"), statsValueStyle.Render(fmt.Sprintf("%d us", m.stats.LastOffset.Microseconds())),
				statsLabelStyle.Render("Drift:"), warningStyle.Render(fmt.Sprintf("%+d us", m.stats.Drift().Microseconds())),
			))
		}

		s.WriteString(boxStyle.Render(sampleContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 17 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
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
