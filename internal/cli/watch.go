package cli

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slurmwatch/slurmwatch/internal/cluster"
	"github.com/slurmwatch/slurmwatch/internal/dashboard"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/notify"
	"github.com/slurmwatch/slurmwatch/internal/poller"
	"github.com/slurmwatch/slurmwatch/internal/store"
)

var watchDashboard bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the cluster and report changes",
	Long: `Connect through the bastion chain and poll the cluster on an
interval. Node transitions and tracked-user job events are logged,
appended to the history, and delivered to the configured webhook.

The loop backs off exponentially while the cluster is unreachable and
announces when it comes back.

Examples:
  slurmwatch watch
  slurmwatch watch --dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchCommand(watchDashboard)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchDashboard, "dashboard", false, "show the live terminal dashboard")
	rootCmd.AddCommand(watchCmd)
}

func watchCommand(withDashboard bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := promptMissingPasswords(cfg); err != nil {
		return err
	}

	log := logger.NewEnvLogger("[watch]", verboseFlag)

	history, err := store.OpenHistory(cfg.History.Dir)
	if err != nil {
		return err
	}
	defer history.Close()

	st := store.New(cfg.TrackedUser, log,
		store.WithHistory(history),
		store.WithJobStateFile(filepath.Join(cfg.History.Dir, "job_state.json")),
	)

	sinks := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}

	client := cluster.New(cfg, log)
	p := poller.New(client, st, sinks, cfg.Poll, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !withDashboard {
		p.Run(ctx) // returns only on signal, a clean exit
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		p.Run(gctx) // returns only on cancellation
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return dashboard.Run(gctx, st, p, cancel)
	})
	return g.Wait()
}
