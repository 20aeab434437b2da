// Package sshutil owns the multi-hop SSH transport: dialing a chain of
// jump hosts, running commands on the final hop with enforced timeouts,
// and mapping failures onto the transport error taxonomy.
package sshutil

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/slurmwatch/slurmwatch/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Hop describes one SSH hop. Host can be a hostname, user@hostname, or an
// ~/.ssh/config alias; unset fields are resolved from ssh_config, then
// defaults.
type Hop struct {
	Host         string
	User         string
	Port         int
	Password     string // resolved from env by the caller, never persisted
	IdentityFile string
}

// Client wraps an SSH connection with the metadata used for diagnostics.
type Client struct {
	*ssh.Client
	Host    string // the original host/alias used to connect
	Address string // the resolved address (host:port)
}

// StrictHostKeyChecking controls host key verification behavior.
// When true (default), host keys are verified against ~/.ssh/known_hosts.
// When false, verification is skipped (for CI/automation).
var StrictHostKeyChecking = true

// Dial establishes a direct SSH connection to the hop (the first link of a
// chain). The timeout bounds TCP connect plus handshake.
func Dial(hop Hop, timeout time.Duration) (*Client, error) {
	settings := resolveHop(hop)

	config, err := buildClientConfig(settings, timeout)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", settings.address(), timeout)
	if err != nil {
		return nil, errors.WrapTransport(err, dialReason(err),
			fmt.Sprintf("Can't reach '%s' at %s", hop.Host, settings.address()),
			"Make sure the host is reachable: ping <host>")
	}

	return handshake(conn, settings, config, timeout)
}

// DialThrough establishes an SSH connection to the hop tunneled through an
// already-connected previous hop. This is how the jump chain is built: each
// hop's TCP stream rides inside the previous hop's SSH connection.
func DialThrough(via *Client, hop Hop, timeout time.Duration) (*Client, error) {
	settings := resolveHop(hop)

	config, err := buildClientConfig(settings, timeout)
	if err != nil {
		return nil, err
	}

	conn, err := via.Client.Dial("tcp", settings.address())
	if err != nil {
		return nil, errors.WrapTransport(err, errors.ReasonConnectionLost,
			fmt.Sprintf("Couldn't tunnel to '%s' through %s", hop.Host, via.Host),
			"Check that the previous hop can reach the next one: ssh <via> nc -z <host> <port>")
	}

	return handshake(conn, settings, config, timeout)
}

// handshake runs the SSH handshake over an established connection.
// The deadline keeps a silently dropped tunnel from hanging forever.
func handshake(conn net.Conn, settings *hopSettings, config *ssh.ClientConfig, timeout time.Duration) (*Client, error) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, settings.address(), config)
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransport(err, handshakeReason(err),
			fmt.Sprintf("SSH handshake with '%s' didn't go through", settings.host),
			handshakeSuggestion(err))
	}

	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    settings.host,
		Address: settings.address(),
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// hopSettings holds fully resolved connection parameters for one hop.
type hopSettings struct {
	host         string
	hostname     string
	port         string
	user         string
	password     string
	identityFile string
}

func (s *hopSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveHop fills in a hop's blanks from user@host syntax, ~/.ssh/config,
// and defaults, in that order of precedence.
func resolveHop(hop Hop) *hopSettings {
	settings := &hopSettings{
		host:         hop.Host,
		hostname:     hop.Host,
		port:         "22",
		user:         currentUser(),
		password:     hop.Password,
		identityFile: expandPath(hop.IdentityFile),
	}

	// user@host syntax inside the host string
	if atIdx := strings.Index(settings.hostname, "@"); atIdx != -1 {
		settings.user = settings.hostname[:atIdx]
		settings.hostname = settings.hostname[atIdx+1:]
	}

	// ~/.ssh/config fills whatever is still default
	alias := settings.hostname
	if hostname := ssh_config.Get(alias, "HostName"); hostname != "" && hostname != alias {
		settings.hostname = hostname
	}
	if port := ssh_config.Get(alias, "Port"); port != "" && port != "22" {
		settings.port = port
	}
	if user := ssh_config.Get(alias, "User"); user != "" {
		settings.user = user
	}
	if settings.identityFile == "" {
		if identity := ssh_config.Get(alias, "IdentityFile"); identity != "" {
			settings.identityFile = expandPath(identity)
		}
	}

	// Explicit hop fields win over everything
	if hop.User != "" {
		settings.user = hop.User
	}
	if hop.Port > 0 {
		settings.port = strconv.Itoa(hop.Port)
	}

	return settings
}

// buildClientConfig assembles auth methods for a hop: password (when the
// env var was set), explicit identity file, SSH agent, then default keys.
func buildClientConfig(settings *hopSettings, timeout time.Duration) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if settings.password != "" {
		authMethods = append(authMethods, ssh.Password(settings.password))
	}

	if settings.identityFile != "" {
		if keyAuth, err := keyFileAuth(settings.identityFile); err == nil {
			authMethods = append(authMethods, keyAuth)
		}
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	for _, keyPath := range defaultKeyPaths() {
		if keyPath == settings.identityFile {
			continue
		}
		if keyAuth, err := keyFileAuth(keyPath); err == nil {
			authMethods = append(authMethods, keyAuth)
		}
	}

	if len(authMethods) == 0 {
		return nil, errors.NewTransport(errors.ReasonAuthFailure,
			fmt.Sprintf("No SSH auth methods available for '%s'", settings.host),
			"Export the hop's password env var, or load a key: ssh-add -l")
	}

	hostKeyCallback, err := hostKeyPolicy()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func hostKeyPolicy() (ssh.HostKeyCallback, error) {
	if !StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly disabled
	}

	knownHostsPath := filepath.Join(homeDir(), ".ssh", "known_hosts")
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to create .ssh directory", "")
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to create known_hosts", "")
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to load known_hosts",
			"Check ~/.ssh/known_hosts is readable")
	}
	return callback, nil
}

// sshAgentAuth returns an auth method using the SSH agent if it is running
// and has keys loaded. Returns nil otherwise.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		conn.Close()
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// keyFileAuth returns an auth method using a private key file.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func defaultKeyPaths() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// dialReason classifies a TCP dial failure.
func dialReason(err error) string {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.ReasonTimeout
	}
	return errors.ReasonConnectionLost
}

// handshakeReason classifies an SSH handshake failure.
func handshakeReason(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "no supported methods") ||
		strings.Contains(errStr, "permission denied") {
		return errors.ReasonAuthFailure
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.ReasonTimeout
	}
	return errors.ReasonConnectionLost
}

func handshakeSuggestion(err error) string {
	if handshakeReason(err) == errors.ReasonAuthFailure {
		return "Auth failed. Check the password env var is exported, or your keys: ssh-add -l"
	}
	if strings.Contains(err.Error(), "host key") {
		return "Host key issue. Try connecting manually first: ssh <host>"
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}
