package dashboard

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/poller"
	"github.com/slurmwatch/slurmwatch/internal/store"
)

// Run shows the live view until the user quits or ctx is cancelled.
// cancel is invoked on quit so the caller's poll loop winds down too.
func Run(ctx context.Context, st *store.Store, p *poller.Poller, cancel context.CancelFunc) error {
	program := tea.NewProgram(
		NewModel(st, p, cancel),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "dashboard terminated unexpectedly")
	}
	return nil
}
