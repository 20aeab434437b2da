// Package notify fans observer events out to sinks. The poll loop does
// not care where events go; it hands them to a Notifier and moves on.
package notify

import (
	"context"
	"time"
)

// EventKind classifies an observer event.
type EventKind string

const (
	KindNodeFreed   EventKind = "node_freed"
	KindNodeDown    EventKind = "node_down"
	KindNodeState   EventKind = "node_state" // any other node transition
	KindJobStarted  EventKind = "job_started"
	KindJobFinished EventKind = "job_finished"
	KindClusterDown EventKind = "cluster_down"
	KindClusterUp   EventKind = "cluster_up"
)

// Event is one notification-worthy observation. Seq is the store's
// monotonic event sequence, carried so consumers can dedup redelivered
// events; cluster up/down events have no store counterpart and leave it
// zero.
type Event struct {
	Seq     uint64    `json:"seq,omitempty"`
	Kind    EventKind `json:"kind"`
	Subject string    `json:"subject"` // node name or job id
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

// Notifier delivers events. Implementations must be safe for concurrent
// use; delivery failures are the implementation's to report, the poll
// loop never retries.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// Multi fans one event out to several sinks, returning the first error
// after attempting all of them.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Send(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
