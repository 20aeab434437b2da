package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slurmwatch/slurmwatch/internal/cluster"
)

var probeCmd = &cobra.Command{
	Use:   "probe <node>",
	Short: "Inspect one compute node directly",
	Long: `Open an extra SSH hop onto the node and read its real memory
usage, bypassing the scheduler's accounting. Falls back to scheduler
figures when the node does not accept the hop.

A bare number is expanded with the configured node prefix, so
"slurmwatch probe 03" probes huk03 on a cluster with prefix "huk".

Examples:
  slurmwatch probe huk05
  slurmwatch probe 05`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return probeCommand(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func probeCommand(ctx context.Context, node string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := promptMissingPasswords(cfg); err != nil {
		return err
	}

	client := cluster.New(cfg, cliLogger())
	report, err := client.ProbeNode(ctx, node)
	if err != nil {
		return err
	}

	d := report.Detail
	fmt.Println(boldStyle.Render(d.Name))
	fmt.Printf("  cpus:    %d/%d allocated (load %.2f)\n", d.CPUAlloc, d.CPUTot, d.CPULoad)

	source := "measured on the node"
	if report.Approximate {
		source = warnStyle.Render("scheduler estimate")
	}
	m := report.Memory
	fmt.Printf("  memory:  %d MB free of %d MB (%s)\n", m.FreeMB, m.TotalMB, source)

	switch {
	case report.TopJob != nil:
		j := report.TopJob
		fmt.Printf("  busy:    job %s (%s)", j.JobID, j.User)
		if j.EstimatedEnd != nil {
			fmt.Printf(", ends in about %s", time.Until(*j.EstimatedEnd).Truncate(time.Minute))
		}
		fmt.Println()
	case !report.IdleSince.IsZero():
		fmt.Printf("  idle:    since %s (%s ago)\n",
			report.IdleSince.Format("2006-01-02 15:04"),
			time.Since(report.IdleSince).Truncate(time.Minute))
	}
	return nil
}
