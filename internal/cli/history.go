package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/slurmwatch/slurmwatch/internal/store"
)

var (
	historySinceFlag  string
	historyBucketFlag string
	historyNodeFlag   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Aggregate the recorded cluster history",
	Long: `Read the on-disk history and print how the cluster changed over
time: per bucket, the nodes that moved, where they ended up, and how
many tracked jobs started and finished.

Within a bucket the last recorded transition per node wins, so each
row reflects the state at the bucket's end.

With --node, print that node's state timeline instead of buckets.

Examples:
  slurmwatch history
  slurmwatch history --since 72h --bucket 6h
  slurmwatch history --node huk03 --since 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyCommand(historySinceFlag, historyBucketFlag, historyNodeFlag)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySinceFlag, "since", "24h", "how far back to aggregate (e.g., 24h, 7d is 168h)")
	historyCmd.Flags().StringVar(&historyBucketFlag, "bucket", "1h", "bucket width (e.g., 1h, 30m)")
	historyCmd.Flags().StringVar(&historyNodeFlag, "node", "", "show a single node's state timeline")
	rootCmd.AddCommand(historyCmd)
}

func historyCommand(sinceFlag, bucketFlag, nodeFlag string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since, err := time.ParseDuration(sinceFlag)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid duration", sinceFlag),
			"Try something like 24h, 72h, or 30m.")
	}
	bucket, err := time.ParseDuration(bucketFlag)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid duration", bucketFlag),
			"Try something like 1h or 30m.")
	}

	history, err := store.OpenHistory(cfg.History.Dir)
	if err != nil {
		return err
	}
	defer history.Close()

	to := time.Now()
	from := to.Add(-since)

	if nodeFlag != "" {
		node := slurm.ResolveNodeName(nodeFlag, cfg.NodePrefix)
		steps, err := history.NodeStateVector(node, from, to)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("no recorded changes for %s in that range", node)))
			return nil
		}
		rows := make([][]string, len(steps))
		for i, step := range steps {
			rows[i] = []string{step.At.Format("2006-01-02 15:04"), renderStatus(step.Status)}
		}
		fmt.Println(renderTable([]column{{"When", 18}, {"Became", 12}}, rows))
		return nil
	}

	buckets, err := history.Rollup(from, to, bucket)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		fmt.Println(mutedStyle.Render("no recorded history in that range"))
		return nil
	}

	rows := make([][]string, len(buckets))
	for i, b := range buckets {
		rows[i] = []string{
			b.Start.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", b.Counts[slurm.StateIdle]),
			fmt.Sprintf("%d", b.Counts[slurm.StateAllocated]+b.Counts[slurm.StateMixed]),
			fmt.Sprintf("%d", b.Counts[slurm.StateDown]),
			fmt.Sprintf("%d", b.JobsStarted),
			fmt.Sprintf("%d", b.JobsFinished),
		}
	}
	fmt.Println(renderTable([]column{
		{"Bucket", 18}, {"Freed", 7}, {"Busy", 7}, {"Down", 6}, {"Started", 8}, {"Finished", 8},
	}, rows))

	// Close with where the range left off, from the last recorded sample.
	counts, err := history.PartitionCounts(from, to)
	if err == nil && counts != nil {
		parts := make([]string, 0, len(counts))
		for p := range counts {
			parts = append(parts, p)
		}
		sort.Strings(parts)
		for _, p := range parts {
			total := 0
			for _, n := range counts[p] {
				total += n
			}
			fmt.Println(mutedStyle.Render(fmt.Sprintf("%s: %d/%d free at range end",
				p, counts[p][slurm.StateIdle], total)))
		}
	}
	return nil
}
