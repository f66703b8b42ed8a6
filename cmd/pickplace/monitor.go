package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pickplace"
)

const (
	monitorInterval = 100 * time.Millisecond
	headerHeight    = 4
	legendHeight    = 2
	borderSize      = 2
)

var traceColors = []string{"9", "10", "11", "12", "13", "14", "201"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// monitored is what the monitor reads from and acts on.
type monitored interface {
	Status() pickplace.Status
	Abort() *pickplace.Goal
}

type tickMsg time.Time

type monitorModel struct {
	coord    monitored
	chart    *streamlinechart.Model
	status   pickplace.Status
	styled   map[string]bool
	width    int
	height   int
	message  string
	quitting bool
}

func newMonitorModel(coord monitored) monitorModel {
	// arm joints in degrees, the gripper in percent open
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(-180, 180))
	return monitorModel{
		coord:  coord,
		chart:  &chart,
		styled: map[string]bool{},
	}
}

func tick() tea.Cmd {
	return tea.Tick(monitorInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return tick()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "a":
			if g := m.coord.Abort(); g != nil {
				m.message = "Aborted goal " + g.ID
			} else {
				m.message = "Nothing to abort"
			}
		}
		return m, nil

	case tickMsg:
		m.status = m.coord.Status()
		names, values := traces(m.status)
		for i, name := range names {
			if !m.styled[name] {
				style := lipgloss.NewStyle().Foreground(lipgloss.Color(traceColors[i%len(traceColors)]))
				m.chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
				m.styled[name] = true
			}
			m.chart.PushDataSet(name, values[i])
		}
		m.chart.DrawAll()
		return m, tick()
	}
	return m, nil
}

// traces returns one plotted value per column: feedback when reported, the last command
// otherwise.
func traces(st pickplace.Status) ([]string, []float64) {
	positions := st.LastCommanded
	if st.Feedback != nil && len(st.Feedback.Positions) == len(st.Joints) {
		positions = st.Feedback.Positions
	}
	values := make([]float64, len(st.Joints))
	for i := range st.Joints {
		if i >= len(positions) {
			break
		}
		if i == len(st.Joints)-1 {
			values[i] = positions[i] * 100
			continue
		}
		values[i] = positions[i] * 180 / math.Pi
	}
	return st.Joints, values
}

func (m monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("pickplace"))
	sb.WriteString(" - " + m.status.State)
	if m.status.GoalID != "" {
		sb.WriteString(fmt.Sprintf("  goal %s", m.status.GoalID))
	}
	if m.status.Waypoints > 0 {
		sb.WriteString(fmt.Sprintf("  waypoint %d/%d", m.status.Waypoint, m.status.Waypoints))
	}
	sb.WriteString("\n")
	if m.status.Target != "" {
		sb.WriteString(statusStyle.Render(m.status.Target))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend(m.status.Joints))
	sb.WriteString("\n")

	footer := "Press 'a' to abort, 'q' to quit"
	if m.message != "" {
		footer = m.message + "  " + footer
	}
	sb.WriteString(statusStyle.Render(footer))
	sb.WriteString("\n")
	return sb.String()
}

func renderLegend(names []string) string {
	items := make([]string, 0, len(names))
	for i, name := range names {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(traceColors[i%len(traceColors)])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}
