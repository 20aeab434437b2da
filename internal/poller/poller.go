// Package poller drives the observe loop: fetch a snapshot, apply it to
// the store, emit the resulting events, sleep, repeat. Remote failures
// skip the cycle entirely so the store only ever sees complete
// observations; consecutive failures back the loop off exponentially.
package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/cluster"
	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/notify"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/slurmwatch/slurmwatch/internal/store"
)

// State is the loop's externally visible phase.
type State string

const (
	StateIdle       State = "idle"        // between successful polls
	StatePolling    State = "polling"     // a fetch is in flight
	StateBackingOff State = "backing_off" // waiting out a failure
)

// Fetcher is the remote side of the loop. *cluster.Client implements it;
// tests substitute fakes.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*cluster.Snapshot, error)
	IsReachable(ctx context.Context) bool
}

// Poller owns the observe loop. Construct with New, start with Run; all
// other methods are safe to call from other goroutines while Run is
// active.
type Poller struct {
	fetcher  Fetcher
	store    *store.Store
	notifier notify.Notifier
	cfg      config.PollConfig
	log      logger.Logger

	state    atomic.Value // State
	failures atomic.Int32
	down     atomic.Bool
}

func New(fetcher Fetcher, st *store.Store, notifier notify.Notifier, cfg config.PollConfig, log logger.Logger) *Poller {
	if log == nil {
		log = logger.Noop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	p := &Poller{
		fetcher:  fetcher,
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
	p.state.Store(StateIdle)
	return p
}

// State reports the loop's current phase.
func (p *Poller) State() State {
	return p.state.Load().(State)
}

// ConsecutiveFailures reports how many polls in a row have failed; zero
// after any success.
func (p *Poller) ConsecutiveFailures() int {
	return int(p.failures.Load())
}

// ClusterDown reports whether the failure threshold has been crossed
// without a subsequent successful poll.
func (p *Poller) ClusterDown() bool {
	return p.down.Load()
}

// Run polls until ctx is cancelled. The first poll happens immediately;
// later polls wait the configured interval, or the current backoff after
// failures. Returns ctx.Err() on cancellation, never any other error —
// remote failures are the loop's job to absorb.
func (p *Poller) Run(ctx context.Context) error {
	var delay time.Duration // zero: poll right away

	for {
		select {
		case <-ctx.Done():
			p.state.Store(StateIdle)
			return ctx.Err()
		case <-time.After(delay):
		}

		p.state.Store(StatePolling)
		err := p.pollOnce(ctx)
		if ctx.Err() != nil {
			p.state.Store(StateIdle)
			return ctx.Err()
		}

		if err == nil {
			p.failures.Store(0)
			if p.down.CompareAndSwap(true, false) {
				p.emit(ctx, notify.Event{
					Kind: notify.KindClusterUp, Subject: "cluster",
					Detail: "cluster is reachable again", At: time.Now(),
				})
			}
			p.state.Store(StateIdle)
			delay = p.cfg.Interval
			continue
		}

		n := int(p.failures.Add(1))
		p.log.Warn("poll failed (%d consecutive): %v", n, err)

		if n >= p.cfg.DownAfter && p.down.CompareAndSwap(false, true) {
			detail := "poll failures crossed the threshold"
			if !p.fetcher.IsReachable(ctx) {
				detail = "bastion is unreachable"
			}
			p.emit(ctx, notify.Event{
				Kind: notify.KindClusterDown, Subject: "cluster",
				Detail: detail, At: time.Now(),
			})
		}

		p.state.Store(StateBackingOff)
		delay = p.backoff(n)
	}
}

// pollOnce runs one fetch/apply/emit cycle. Any fetch or parse error
// returns before the store is touched.
func (p *Poller) pollOnce(ctx context.Context) error {
	snap, err := p.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Incomplete || snap.SkippedLines > 0 {
		p.log.Debug("snapshot degraded: incomplete=%v skipped=%d", snap.Incomplete, snap.SkippedLines)
	}

	transitions, jobEvents, err := p.store.ApplySnapshot(snap.Nodes, snap.Jobs, snap.ObservedAt)
	if err != nil {
		// Persistence failed but the diff is valid; the snapshot is
		// already published. Report and keep going.
		p.log.Warn("snapshot applied but not persisted: %v", err)
	}

	for _, t := range transitions {
		p.emit(ctx, transitionEvent(t))
	}
	for _, j := range jobEvents {
		p.emit(ctx, jobEvent(j))
	}
	return nil
}

// backoff returns the wait after the n-th consecutive failure: the poll
// interval doubled per extra failure, capped at MaxBackoff.
func (p *Poller) backoff(n int) time.Duration {
	d := p.cfg.Interval
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

func (p *Poller) emit(ctx context.Context, ev notify.Event) {
	if err := p.notifier.Send(ctx, ev); err != nil {
		p.log.Warn("notification failed: %v", err)
	}
}

// transitionEvent maps a node transition to a notification. Every
// transition goes to the sink; the kind singles out the two changes
// someone actively waits on, a node freeing up or going down. The
// store's sequence number rides along so consumers can dedup.
func transitionEvent(t store.TransitionEvent) notify.Event {
	switch {
	case t.To == slurm.StateIdle && t.From != slurm.StateUnknown:
		return notify.Event{
			Seq: t.Seq, Kind: notify.KindNodeFreed, Subject: t.Node,
			Detail: fmt.Sprintf("free in partition %s (was %s)", t.Partition, t.From),
			At:     t.At,
		}
	case t.To == slurm.StateDown:
		return notify.Event{
			Seq: t.Seq, Kind: notify.KindNodeDown, Subject: t.Node,
			Detail: fmt.Sprintf("down in partition %s", t.Partition),
			At:     t.At,
		}
	}
	return notify.Event{
		Seq: t.Seq, Kind: notify.KindNodeState, Subject: t.Node,
		Detail: fmt.Sprintf("%s -> %s in partition %s", t.From, t.To, t.Partition),
		At:     t.At,
	}
}

func jobEvent(j store.JobEvent) notify.Event {
	kind := notify.KindJobStarted
	detail := fmt.Sprintf("job for %s is running on %s", j.Job.User, j.Job.NodeList)
	if j.Type == store.JobFinished {
		kind = notify.KindJobFinished
		detail = fmt.Sprintf("job for %s left the queue", j.Job.User)
	}
	return notify.Event{Seq: j.Seq, Kind: kind, Subject: j.Job.JobID, Detail: detail, At: j.At}
}
