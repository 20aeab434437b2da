package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/errors"
)

// promptMissingPasswords asks for any hop password whose named
// environment variable is unset, and exports it for the cluster client
// to pick up. Skips prompting when stdin is not a terminal so scripted
// runs fail fast instead of hanging.
func promptMissingPasswords(cfg *config.Config) error {
	for _, hop := range cfg.Hops {
		if hop.PasswordEnv == "" || os.Getenv(hop.PasswordEnv) != "" {
			continue
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("%s is not set and stdin is not a terminal", hop.PasswordEnv),
				fmt.Sprintf("export %s before running, or use SSH keys for %s", hop.PasswordEnv, hop.Host))
		}

		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", hop.User, hop.Host)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"could not read password", "")
		}
		if err := os.Setenv(hop.PasswordEnv, string(secret)); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"could not store password in the environment", "")
		}
	}
	return nil
}
