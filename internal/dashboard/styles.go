package dashboard

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

// Width breakpoint below which per-node CPU/memory columns are dropped.
const breakpointCompact = 80

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7aa2f7"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#565f89"))

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9ece6a"))

	mixedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e0af68"))

	allocatedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f7768e"))

	downStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#f7768e"))

	unknownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#565f89"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e0af68"))
)

func statusStyle(s slurm.NodeStatus) lipgloss.Style {
	switch s {
	case slurm.StateIdle:
		return idleStyle
	case slurm.StateMixed:
		return mixedStyle
	case slurm.StateAllocated:
		return allocatedStyle
	case slurm.StateDown:
		return downStyle
	default:
		return unknownStyle
	}
}
