package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/slurmwatch/slurmwatch/internal/cluster"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cluster's current state",
	Long: `Connect once, fetch a snapshot, and print every node in the
configured partitions with its status, CPU usage, and running job.

Examples:
  slurmwatch status
  slurmwatch status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	Nodes     []slurm.NodeState `json:"nodes"`
	FreeCount int               `json:"free_count"`
}

func statusCommand(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := promptMissingPasswords(cfg); err != nil {
		return err
	}

	client := cluster.New(cfg, cliLogger())
	snap, err := client.FetchSnapshot(ctx)
	if err != nil {
		return err
	}

	nodes := snap.Nodes
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Partition != nodes[j].Partition {
			return nodes[i].Partition < nodes[j].Partition
		}
		return nodes[i].Name < nodes[j].Name
	})

	free := 0
	for _, n := range nodes {
		if n.Status == slurm.StateIdle {
			free++
		}
	}

	if statusJSON {
		return json.NewEncoder(os.Stdout).Encode(statusOutput{Nodes: nodes, FreeCount: free})
	}

	rows := make([][]string, len(nodes))
	for i, n := range nodes {
		rows[i] = []string{
			n.Name,
			n.Partition,
			renderStatus(n.Status),
			fmt.Sprintf("%d/%d", n.CPUsAllocated, n.CPUsTotal),
			n.RunningJobID,
		}
	}
	fmt.Println(renderTable([]column{
		{"Node", 12}, {"Partition", 10}, {"Status", 12}, {"CPUs", 8}, {"Job", 10},
	}, rows))
	fmt.Println(boldStyle.Render(fmt.Sprintf("%d free of %d nodes", free, len(nodes))))
	if snap.Incomplete {
		fmt.Println(warnStyle.Render("some node records were incomplete; figures may be partial"))
	}
	return nil
}

func renderStatus(s slurm.NodeStatus) string {
	switch s {
	case slurm.StateIdle:
		return okStyle.Render(string(s))
	case slurm.StateMixed:
		return warnStyle.Render(string(s))
	case slurm.StateAllocated, slurm.StateDown:
		return badStyle.Render(string(s))
	default:
		return mutedStyle.Render(string(s))
	}
}

// cliLogger returns the logger for one-shot commands; --verbose turns
// debug output on.
func cliLogger() logger.Logger {
	return logger.NewEnvLogger("[cli]", verboseFlag)
}
