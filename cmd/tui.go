// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/bmcstat/pkg/bmc"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// TUI model
type watchModel struct {
	client        *bmc.Client
	connInfo      string
	interval      time.Duration
	timeout       time.Duration
	started       time.Time
	table         table.Model
	stats         bmc.Stats
	eventLog      []eventLogEntry
	maxLogEntries int
	discovered    bool
	refreshing    bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type discoveredMsg struct {
	sensors []sdr.Descriptor
	err     error
}
type refreshedMsg struct {
	sensors []sdr.Descriptor
	stats   bmc.Stats
	err     error
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
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

func newWatchModel(client *bmc.Client, connInfo string, interval, timeout time.Duration) watchModel {
	columns := []table.Column{
		{Title: "Sensor", Width: 8},
		{Title: "Label", Width: 16},
		{Title: "Reading", Width: 14},
		{Title: "Upper", Width: 14},
		{Title: "Lower", Width: 14},
		{Title: "Status", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return watchModel{
		client:        client,
		connInfo:      connInfo,
		interval:      interval,
		timeout:       timeout,
		started:       time.Now(),
		table:         t,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.discoverCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) discoverCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		sensors, err := m.client.Discover(ctx)
		return discoveredMsg{sensors: sensors, err: err}
	}
}

func (m watchModel) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		refreshErr := m.client.Refresh(ctx)
		sensors, err := m.client.Sensors(ctx)
		if err != nil {
			return refreshedMsg{err: err}
		}
		stats, _ := m.client.Stats(ctx)
		return refreshedMsg{sensors: sensors, stats: stats, err: refreshErr}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.discovered && !m.refreshing {
				m.refreshing = true
				return m, m.refreshCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(5, m.height/2))

	case discoveredMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("DISCOVERY FAILED: %v", msg.err), true)
			return m, nil
		}
		m.discovered = true
		m.refreshing = true
		m.setRows(msg.sensors)
		m.addLogEntry(fmt.Sprintf("Discovered %d sensors", len(msg.sensors)), false)
		return m, m.refreshCmd()

	case refreshedMsg:
		m.refreshing = false
		if msg.sensors != nil {
			m.setRows(msg.sensors)
			m.stats = msg.stats
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("READ: %v", msg.err), true)
		}
		return m, tickCmd(m.interval)

	case tickMsg:
		if !m.refreshing {
			m.refreshing = true
			return m, m.refreshCmd()
		}
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *watchModel) setRows(sensors []sdr.Descriptor) {
	rows := make([]table.Row, 0, len(sensors))
	for i := range sensors {
		d := &sensors[i]
		reading, upper, lower := formatReading(d)
		status := "ok"
		switch {
		case d.Degraded():
			status = "degraded"
		case !d.Valid:
			status = "no data"
		}
		rows = append(rows, table.Row{d.Name, d.Label(), reading, upper, lower, status})
	}
	m.table.SetRows(rows)
}

func (m *watchModel) addLogEntry(message string, isError bool) {
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

func (m watchModel) View() string {
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
	s.WriteString(titleStyle.Render("BMCSTAT - SENSOR WATCH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Every %v | Press 'r' to refresh, 'q' to quit",
		m.connInfo, m.interval)))
	s.WriteString("\n\n")

	if !m.discovered {
		s.WriteString(warningStyle.Render("⏳ Walking sensor data repository..."))
		s.WriteString("\n\n")
	} else {
		s.WriteString(boxStyle.Render(m.table.View()))
		s.WriteString("\n\n")
	}

	// Session statistics
	lastRead := "never"
	if !m.stats.LastRead.IsZero() {
		lastRead = fmt.Sprintf("%s ago", formatUptime(time.Since(m.stats.LastRead)))
	}
	dropped := statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Link.Dropped))
	if m.stats.Link.Dropped > 0 {
		dropped = errorStyle.Render(fmt.Sprintf("%d", m.stats.Link.Dropped))
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("State:"), statsValueStyle.Render(m.stats.State.String()),
		statsLabelStyle.Render("Sensors:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Sensors)),
		statsLabelStyle.Render("Last read:"), statsValueStyle.Render(lastRead),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Requests:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Link.Requests)),
		statsLabelStyle.Render("Responses:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Link.Responses)),
		statsLabelStyle.Render("Dropped:"), dropped,
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Chunk:"), statsValueStyle.Render(fmt.Sprintf("%d bytes", m.stats.Chunk)),
		statsLabelStyle.Render("Cancelled reservations:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Cancellations)),
		statsLabelStyle.Render("Watching:"), statsValueStyle.Render(formatUptime(time.Since(m.started))),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.table.Height() - 16
	if logHeight < 3 {
		logHeight = 3
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
