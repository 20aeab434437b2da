// Package cli implements the slurmwatch command-line interface.
//
// The root command is "slurmwatch" with subcommands for different
// operations:
//
//	slurmwatch watch           - Poll the cluster and report changes
//	slurmwatch status          - One-shot cluster snapshot
//	slurmwatch queue           - Show the job queue summary
//	slurmwatch probe <node>    - Inspect one compute node directly
//	slurmwatch history         - Aggregate the recorded history
//	slurmwatch init            - Create a starter config file
//
// Commands are thin: each loads the config, builds the cluster client,
// and delegates to the internal packages for the actual work.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/errors"
)

// Global flags available to all subcommands.
var (
	configFlag  string
	verboseFlag bool
	noColorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "slurmwatch",
	Short: "Watch a Slurm cluster through its bastion",
	Long: `slurmwatch observes a Slurm cluster that is only reachable through
an SSH bastion chain. It polls node and queue state, records every
change to an on-disk history, and reports the events people wait for:
a node freeing up, a node going down, a tracked user's job starting
or finishing.

Credentials never live in the config file; each hop names an
environment variable holding its password, or relies on SSH keys and
the agent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColorFlag || os.Getenv("NO_COLOR") != "" {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file (default: search for .slurmwatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
}

// Execute runs the root command and exits non-zero on failure. Coded
// errors render their cause and suggestion themselves.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// loadConfig resolves the config file from the --config flag or the
// search path and returns the validated configuration.
func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.Load(configFlag)
	}

	path, err := config.Find("")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New(errors.ErrConfig,
			"no config file found",
			"run 'slurmwatch init' to create a .slurmwatch.yaml")
	}
	return config.Load(path)
}
