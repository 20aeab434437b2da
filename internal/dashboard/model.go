// Package dashboard renders the live cluster view in the terminal. It
// only reads: the model pulls fresh snapshots from the store on a timer
// while the poll loop runs in the background.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/slurmwatch/slurmwatch/internal/poller"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/slurmwatch/slurmwatch/internal/store"
)

const refreshInterval = time.Second

// tickMsg signals a periodic refresh from the store.
type tickMsg time.Time

// Model is the Bubble Tea model for the live view.
type Model struct {
	store  *store.Store
	poller *poller.Poller
	cancel context.CancelFunc

	table   table.Model
	spinner spinner.Model

	width    int
	height   int
	lastSeen time.Time
	quitting bool
}

// NewModel builds the dashboard over the given store. cancel stops the
// background poll loop when the user quits.
func NewModel(st *store.Store, p *poller.Poller, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"◐", "◓", "◑", "◒"},
		FPS:    time.Second / 10,
	}
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))

	t := table.New(
		table.WithColumns(nodeColumns(0)),
		table.WithFocused(true),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Background(lipgloss.Color("#1a1b26")).
		Bold(false)
	t.SetStyles(s)

	return Model{store: st, poller: p, cancel: cancel, table: t, spinner: sp}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(nodeColumns(m.width))
		m.table.SetHeight(msg.Height - 4) // header + footer rows

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// refresh reloads table rows from the current snapshot.
func (m *Model) refresh() {
	snap := m.store.Current()
	m.lastSeen = snap.ObservedAt

	nodes := make([]slurm.NodeState, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Partition != nodes[j].Partition {
			return nodes[i].Partition < nodes[j].Partition
		}
		return nodes[i].Name < nodes[j].Name
	})

	compact := m.width > 0 && m.width < breakpointCompact
	rows := make([]table.Row, len(nodes))
	for i, n := range nodes {
		status := statusStyle(n.Status).Render(string(n.Status))
		if compact {
			rows[i] = table.Row{n.Name, n.Partition, status}
			continue
		}
		mem := fmt.Sprintf("%d/%d MB", n.MemFreeMB, n.MemTotalMB)
		if n.MemApproximate {
			mem = "~" + mem
		}
		rows[i] = table.Row{
			n.Name,
			n.Partition,
			status,
			fmt.Sprintf("%d/%d", n.CPUsAllocated, n.CPUsTotal),
			mem,
			n.RunningJobID,
		}
	}
	m.table.SetRows(rows)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	sb.WriteString(m.table.View())
	sb.WriteString("\n")
	sb.WriteString(footerStyle.Render("j/k: navigate | q: quit"))
	return sb.String()
}

func (m Model) renderHeader() string {
	var state string
	switch {
	case m.poller != nil && m.poller.ClusterDown():
		state = downStyle.Render(fmt.Sprintf("UNREACHABLE (%d failures)", m.poller.ConsecutiveFailures()))
	case m.poller != nil && m.poller.State() == poller.StatePolling:
		state = m.spinner.View() + " polling"
	case m.poller != nil && m.poller.State() == poller.StateBackingOff:
		state = staleStyle.Render(fmt.Sprintf("backing off (%d failures)", m.poller.ConsecutiveFailures()))
	default:
		state = idleStyle.Render("watching")
	}

	counts := m.store.PartitionCounts()
	parts := make([]string, 0, len(counts))
	for _, name := range sortedPartitions(counts) {
		byStatus := counts[name]
		parts = append(parts, fmt.Sprintf("%s %s/%d free",
			name,
			idleStyle.Render(fmt.Sprintf("%d", byStatus[slurm.StateIdle])),
			totalNodes(byStatus)))
	}

	header := headerStyle.Render("slurmwatch") + " " + state
	if len(parts) > 0 {
		header += footerStyle.Render(" | ") + strings.Join(parts, footerStyle.Render(" | "))
	}
	if !m.lastSeen.IsZero() {
		header += footerStyle.Render(fmt.Sprintf(" | seen %s ago", time.Since(m.lastSeen).Truncate(time.Second)))
	}
	return header
}

func nodeColumns(width int) []table.Column {
	if width > 0 && width < breakpointCompact {
		return []table.Column{
			{Title: "Node", Width: 12},
			{Title: "Partition", Width: 10},
			{Title: "Status", Width: 12},
		}
	}
	return []table.Column{
		{Title: "Node", Width: 12},
		{Title: "Partition", Width: 10},
		{Title: "Status", Width: 12},
		{Title: "CPUs", Width: 8},
		{Title: "Memory", Width: 16},
		{Title: "Job", Width: 10},
	}
}

func sortedPartitions(counts map[string]map[slurm.NodeStatus]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func totalNodes(byStatus map[slurm.NodeStatus]int) int {
	total := 0
	for _, n := range byStatus {
		total += n
	}
	return total
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
