package config

import (
	"fmt"
	"strings"

	"github.com/slurmwatch/slurmwatch/internal/errors"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but slurmwatch only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Update slurmwatch, or set version correctly in the config")
	}

	if len(cfg.Hops) == 0 {
		return errors.New(errors.ErrConfig,
			"No SSH hops configured",
			"Add at least the bastion and head node under 'hops' in "+ConfigFileName)
	}

	for i, hop := range cfg.Hops {
		if strings.TrimSpace(hop.Host) == "" {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Hop %d has an empty host", i),
				"Every hop needs a host (hostname, user@hostname, or ssh config alias)")
		}
		if hop.Port < 0 || hop.Port > 65535 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Hop %d has an invalid port %d", i, hop.Port),
				"Ports must be between 1 and 65535")
		}
	}

	if cfg.Poll.Interval <= 0 {
		return errors.New(errors.ErrConfig,
			"Poll interval must be positive",
			"Set poll.interval to something like '5m'")
	}
	if cfg.Poll.Timeout <= 0 {
		return errors.New(errors.ErrConfig,
			"Poll timeout must be positive",
			"Set poll.timeout to something like '30s'")
	}
	if cfg.Poll.MaxBackoff < cfg.Poll.Interval {
		return errors.New(errors.ErrConfig,
			"poll.max_backoff is shorter than poll.interval",
			"The backoff cap should be at least one poll interval")
	}
	if cfg.Poll.DownAfter < 1 {
		return errors.New(errors.ErrConfig,
			"poll.down_after must be at least 1",
			"Set how many failed cycles in a row mean the cluster link is down")
	}

	// A UTC offset outside this range is a typo, not a timezone.
	if cfg.UTCOffset < -12 || cfg.UTCOffset > 14 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("utc_offset %d is not a valid timezone offset", cfg.UTCOffset),
			"Offsets run from -12 to +14 hours")
	}

	return nil
}
