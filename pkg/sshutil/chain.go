package sshutil

import (
	"context"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/errors"
)

// Chain is an ordered list of hops: local -> hops[0] -> ... -> hops[n-1].
// Connecting yields a Session whose commands run on the final hop.
//
// Sessions are deliberately short-lived. Bastion hosts silently drop idle
// tunnels, so every poll cycle opens a fresh chain, uses it, and closes it
// on all exit paths rather than holding a connection open.
type Chain struct {
	Hops           []Hop
	ConnectTimeout time.Duration
}

// Session is an established chain of SSH connections. Close releases the
// whole chain in reverse order.
type Session struct {
	clients        []*Client
	connectTimeout time.Duration
}

// Connect dials every hop in order, tunneling each through the previous
// one. Cancellation is checked between hops; a partially built chain is
// torn down before returning an error.
func (c *Chain) Connect(ctx context.Context) (*Session, error) {
	if len(c.Hops) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"SSH chain has no hops",
			"Configure at least one hop")
	}

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	sess := &Session{connectTimeout: timeout}

	for i, hop := range c.Hops {
		if err := ctx.Err(); err != nil {
			sess.Close()
			return nil, errors.WrapTransport(err, errors.ReasonTimeout,
				"Connection attempt cancelled", "")
		}

		var (
			client *Client
			err    error
		)
		if i == 0 {
			client, err = Dial(hop, timeout)
		} else {
			client, err = DialThrough(sess.clients[i-1], hop, timeout)
		}
		if err != nil {
			sess.Close()
			return nil, err
		}
		sess.clients = append(sess.clients, client)
	}

	return sess, nil
}

// Target returns the client for the final hop (where commands run).
func (s *Session) Target() *Client {
	if len(s.clients) == 0 {
		return nil
	}
	return s.clients[len(s.clients)-1]
}

// Extend opens one more hop from the current target, returning a new
// Session that owns only the extra connection. Closing the extended
// session does not close the base chain. Used for the direct node probe,
// which reaches past the head node onto a compute node.
func (s *Session) Extend(ctx context.Context, hop Hop) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransport(err, errors.ReasonTimeout,
			"Connection attempt cancelled", "")
	}

	target := s.Target()
	if target == nil {
		return nil, errors.NewTransport(errors.ReasonConnectionLost,
			"Can't extend an empty session", "")
	}

	client, err := DialThrough(target, hop, s.connectTimeout)
	if err != nil {
		return nil, err
	}

	return &Session{
		clients:        []*Client{client},
		connectTimeout: s.connectTimeout,
	}, nil
}

// Close tears down the chain in reverse order. Safe on partially built
// and already-closed sessions.
func (s *Session) Close() {
	for i := len(s.clients) - 1; i >= 0; i-- {
		if s.clients[i] != nil {
			_ = s.clients[i].Close()
		}
	}
	s.clients = nil
}
