package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/slurmwatch/slurmwatch/internal/cluster"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

var queueUserFlag string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show who is using the cluster",
	Long: `Print the active job count per user. With --user, also list that
user's jobs with their nodes and estimated end times.

Examples:
  slurmwatch queue
  slurmwatch queue --user carlos`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueCommand(cmd.Context())
	},
}

func init() {
	queueCmd.Flags().StringVarP(&queueUserFlag, "user", "u", "", "also list this user's jobs")
	rootCmd.AddCommand(queueCmd)
}

func queueCommand(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := promptMissingPasswords(cfg); err != nil {
		return err
	}

	client := cluster.New(cfg, cliLogger())

	total, byUser, err := client.QueueSummary(ctx)
	if err != nil {
		return err
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if byUser[users[i]] != byUser[users[j]] {
			return byUser[users[i]] > byUser[users[j]]
		}
		return users[i] < users[j]
	})

	rows := make([][]string, len(users))
	for i, u := range users {
		name := u
		if u == cfg.TrackedUser {
			name = boldStyle.Render(u)
		}
		rows[i] = []string{name, fmt.Sprintf("%d", byUser[u])}
	}
	fmt.Println(renderTable([]column{{"User", 16}, {"Jobs", 6}}, rows))
	fmt.Println(boldStyle.Render(fmt.Sprintf("%d jobs in the queue", total)))

	if queueUserFlag != "" {
		jobs, err := client.FetchUserJobs(ctx, queueUserFlag)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(renderUserJobs(queueUserFlag, jobs))
	}
	return nil
}

// renderUserJobs formats one user's active jobs, or a short notice when
// there are none.
func renderUserJobs(user string, jobs []slurm.JobRecord) string {
	if len(jobs) == 0 {
		return mutedStyle.Render(fmt.Sprintf("%s has no active jobs", user))
	}
	rows := make([][]string, len(jobs))
	for i, j := range jobs {
		end := "-"
		if j.EstimatedEnd != nil {
			end = j.EstimatedEnd.Format("Jan 2 15:04")
		}
		rows[i] = []string{j.JobID, string(j.State), j.NodeList, end}
	}
	return renderTable([]column{{"Job", 10}, {"State", 10}, {"Nodes", 14}, {"Est. end", 14}}, rows)
}
