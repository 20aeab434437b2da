package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/cluster"
	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/notify"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/slurmwatch/slurmwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher replays a scripted sequence of snapshots and errors,
// repeating the last entry once exhausted.
type fakeFetcher struct {
	mu        sync.Mutex
	script    []fetchResult
	calls     int
	reachable bool
}

type fetchResult struct {
	snap *cluster.Snapshot
	err  error
}

func (f *fakeFetcher) FetchSnapshot(context.Context) (*cluster.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	r := f.script[i]
	return r.snap, r.err
}

func (f *fakeFetcher) IsReachable(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Send(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []notify.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]notify.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func fastPollConfig() config.PollConfig {
	return config.PollConfig{
		Interval:   time.Millisecond,
		Timeout:    time.Second,
		MaxBackoff: 8 * time.Millisecond,
		DownAfter:  3,
	}
}

func snapshot(status slurm.NodeStatus) *cluster.Snapshot {
	return &cluster.Snapshot{
		Nodes:      []slurm.NodeState{{Name: "huk01", Partition: "alto", Status: status}},
		ObservedAt: time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunEmitsNodeFreedEvent(t *testing.T) {
	f := &fakeFetcher{script: []fetchResult{
		{snap: snapshot(slurm.StateAllocated)},
		{snap: snapshot(slurm.StateIdle)},
	}, reachable: true}
	rec := &recorder{}
	st := store.New("carlos", logger.Noop())
	p := New(f, st, rec, fastPollConfig(), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool {
		for _, k := range rec.kinds() {
			if k == notify.KindNodeFreed {
				return true
			}
		}
		return false
	})
	assert.Equal(t, slurm.StateIdle, st.Current().Nodes["huk01/alto"].Status)
}

func TestRunEmitsEveryTransitionWithSequence(t *testing.T) {
	f := &fakeFetcher{script: []fetchResult{
		{snap: snapshot(slurm.StateIdle)},
		{snap: snapshot(slurm.StateAllocated)},
	}, reachable: true}
	rec := &recorder{}
	st := store.New("carlos", logger.Noop())
	p := New(f, st, rec, fastPollConfig(), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// A node getting busy is not one of the headline kinds, but it must
	// still reach the sink, sequence number attached.
	waitFor(t, func() bool {
		for _, k := range rec.kinds() {
			if k == notify.KindNodeState {
				return true
			}
		}
		return false
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, ev := range rec.events {
		if ev.Kind == notify.KindNodeState {
			assert.Equal(t, "huk01", ev.Subject)
			assert.Contains(t, ev.Detail, "idle -> allocated")
			assert.NotZero(t, ev.Seq)
		}
	}
}

func TestFailedPollLeavesStoreUntouched(t *testing.T) {
	transportErr := errors.NewTransport(errors.ReasonConnectionLost, "connection reset", "")
	f := &fakeFetcher{script: []fetchResult{
		{snap: snapshot(slurm.StateIdle)},
		{err: transportErr},
	}, reachable: true}
	st := store.New("carlos", logger.Noop())
	p := New(f, st, &recorder{}, fastPollConfig(), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return p.ConsecutiveFailures() >= 2 })

	// The good first snapshot is still current; failures never half-apply.
	snap := st.Current()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, slurm.StateIdle, snap.Nodes["huk01/alto"].Status)
	assert.Equal(t, StateBackingOff, p.State())
}

func TestClusterDownAndRecovery(t *testing.T) {
	transportErr := errors.NewTransport(errors.ReasonTimeout, "timed out", "")
	f := &fakeFetcher{script: []fetchResult{
		{err: transportErr},
		{err: transportErr},
		{err: transportErr},
		{snap: snapshot(slurm.StateIdle)},
	}}
	rec := &recorder{}
	st := store.New("carlos", logger.Noop())
	p := New(f, st, rec, fastPollConfig(), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool {
		kinds := rec.kinds()
		haveDown, haveUp := false, false
		for _, k := range kinds {
			switch k {
			case notify.KindClusterDown:
				haveDown = true
			case notify.KindClusterUp:
				haveUp = haveDown // up must come after down
			}
		}
		return haveDown && haveUp
	})
	assert.False(t, p.ClusterDown())
	assert.Zero(t, p.ConsecutiveFailures())
}

func TestClusterDownFiresOnce(t *testing.T) {
	transportErr := errors.NewTransport(errors.ReasonTimeout, "timed out", "")
	f := &fakeFetcher{script: []fetchResult{{err: transportErr}}}
	rec := &recorder{}
	p := New(f, store.New("carlos", logger.Noop()), rec, fastPollConfig(), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return p.ConsecutiveFailures() >= 6 })

	downs := 0
	for _, k := range rec.kinds() {
		if k == notify.KindClusterDown {
			downs++
		}
	}
	assert.Equal(t, 1, downs)
	assert.True(t, p.ClusterDown())
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cfg := config.PollConfig{Interval: 5 * time.Minute, MaxBackoff: 20 * time.Minute}
	p := New(nil, nil, &recorder{}, cfg, logger.Noop())

	assert.Equal(t, 5*time.Minute, p.backoff(1))
	assert.Equal(t, 10*time.Minute, p.backoff(2))
	assert.Equal(t, 20*time.Minute, p.backoff(3))
	assert.Equal(t, 20*time.Minute, p.backoff(10))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{script: []fetchResult{{snap: snapshot(slurm.StateIdle)}}}
	p := New(f, store.New("carlos", logger.Noop()), &recorder{}, fastPollConfig(), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
