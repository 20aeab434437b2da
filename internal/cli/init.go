package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/errors"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter .slurmwatch.yaml",
	Long: `Write a starter configuration file in the current directory.

The generated file documents every setting; edit the hops, partitions,
and tracked user before the first run. Passwords are never stored in
the file — each hop names an environment variable instead.

Examples:
  slurmwatch init
  slurmwatch init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(initForce)
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")
	rootCmd.AddCommand(initCmd)
}

// starterConfig is the skeleton written by init, kept separate from
// DefaultConfig so the YAML carries example values worth editing.
func starterConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Hops = []config.Hop{
		{Host: "bastion.example.edu", User: "youruser", Port: 22, PasswordEnv: "SLURMWATCH_BASTION_PASS"},
		{Host: "10.0.0.100", User: "youruser", PasswordEnv: "SLURMWATCH_HEAD_PASS"},
	}
	cfg.Partitions = []string{"normal"}
	cfg.TrackedUser = "youruser"
	return cfg
}

func initCommand(force bool) error {
	path := config.ConfigFileName

	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			path+" already exists",
			"use --force to overwrite it")
	}

	data, err := yaml.Marshal(starterConfig())
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "could not render starter config", "")
	}

	header := []byte("# slurmwatch configuration.\n" +
		"# Hops are traversed in order: bastion first, head node last.\n" +
		"# password_env names an environment variable; the file never holds secrets.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "could not write "+path, "")
	}

	fmt.Println(okStyle.Render("✓ wrote " + path))
	fmt.Println(mutedStyle.Render("edit the hops and tracked_user, then run 'slurmwatch status'"))
	return nil
}
