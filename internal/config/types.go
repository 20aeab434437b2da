package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete .slurmwatch.yaml configuration file.
// It is loaded once at startup and immutable for the process lifetime.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// Hops is the ordered SSH chain: local -> hops[0] (bastion) -> ... ->
	// hops[len-1] (head node). Each hop tunnels through the previous one.
	Hops []Hop `yaml:"hops" mapstructure:"hops"`

	// Partitions restricts monitoring to these partition names.
	// Empty means all partitions.
	Partitions []string `yaml:"partitions" mapstructure:"partitions"`

	// TrackedUser is the cluster user whose jobs are watched for
	// start/finish events.
	TrackedUser string `yaml:"tracked_user" mapstructure:"tracked_user"`

	// NodePrefix expands bare node numbers ("120" -> "huk120").
	NodePrefix string `yaml:"node_prefix" mapstructure:"node_prefix"`

	// UTCOffset is the cluster's timezone offset in hours, applied to
	// scheduler timestamps at parse time.
	UTCOffset int `yaml:"utc_offset" mapstructure:"utc_offset"`

	Poll    PollConfig    `yaml:"poll" mapstructure:"poll"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
}

// Hop defines one SSH hop in the chain.
type Hop struct {
	// Host is the hostname, user@hostname, or an ~/.ssh/config alias.
	Host string `yaml:"host" mapstructure:"host"`

	// User overrides the user resolved from Host or ssh_config.
	User string `yaml:"user" mapstructure:"user"`

	// Port overrides the port (default 22 or ssh_config).
	Port int `yaml:"port" mapstructure:"port"`

	// PasswordEnv names an environment variable holding this hop's
	// password. Passwords never live in the config file.
	PasswordEnv string `yaml:"password_env" mapstructure:"password_env"`

	// IdentityFile is a private key path for this hop.
	IdentityFile string `yaml:"identity_file" mapstructure:"identity_file"`
}

// PollConfig controls the poll-detect-notify loop.
type PollConfig struct {
	// Interval between poll cycles.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Timeout is the wall-clock limit for a single remote command.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// ConnectTimeout bounds each SSH hop's dial + handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// MaxBackoff caps the exponential backoff after failed cycles.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`

	// DownAfter is the consecutive-failure count that declares the whole
	// cluster connection down.
	DownAfter int `yaml:"down_after" mapstructure:"down_after"`
}

// HistoryConfig controls the append-only snapshot log.
type HistoryConfig struct {
	// Dir holds the history log and the job state file.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// NotifyConfig controls outbound event delivery.
type NotifyConfig struct {
	// WebhookURL, when set, receives each event batch as a JSON POST.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`

	// Timeout bounds each webhook delivery.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Poll: PollConfig{
			Interval:       5 * time.Minute,
			Timeout:        30 * time.Second,
			ConnectTimeout: 15 * time.Second,
			MaxBackoff:     20 * time.Minute,
			DownAfter:      3,
		},
		History: HistoryConfig{
			Dir: "data",
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
	}
}
