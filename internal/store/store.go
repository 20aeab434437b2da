// Package store keeps the current cluster view and turns successive
// snapshots into transition events. One writer (the poll loop) calls
// ApplySnapshot; any number of readers call Current, which returns the
// latest complete snapshot via an atomic pointer swap — readers never see
// a half-applied update.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

// TransitionEvent records one node changing status between two polls.
type TransitionEvent struct {
	Seq       uint64           `json:"seq"`
	Node      string           `json:"node"`
	Partition string           `json:"partition"`
	From      slurm.NodeStatus `json:"from"`
	To        slurm.NodeStatus `json:"to"`
	At        time.Time        `json:"at"`
}

// JobEventType marks a tracked-user job appearing or disappearing.
type JobEventType string

const (
	JobStarted  JobEventType = "job_started"
	JobFinished JobEventType = "job_finished"
)

// JobEvent records a tracked-user job entering or leaving the queue.
// Slurm drops finished jobs from squeue immediately, so disappearance is
// the only completion signal available; a job that was cancelled or failed
// produces the same event. Seq shares the store's counter with node
// transitions, so all events of one cycle order totally.
type JobEvent struct {
	Seq  uint64          `json:"seq"`
	Type JobEventType    `json:"type"`
	Job  slurm.JobRecord `json:"job"`
	At   time.Time       `json:"at"`
}

// Snapshot is one complete, immutable view of the cluster. Fields are
// never mutated after publication.
type Snapshot struct {
	Nodes      map[string]slurm.NodeState // keyed by NodeState.Key()
	Jobs       []slurm.JobRecord          // tracked user's jobs only
	ObservedAt time.Time
}

// Store holds the current snapshot and the diff state between polls.
type Store struct {
	mu       sync.Mutex // serializes writers; readers go through current
	current  atomic.Pointer[Snapshot]
	seq      atomic.Uint64
	tracked  string
	history  *HistoryLog // nil disables persistence
	jobState *jobStateFile
	log      logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithHistory attaches an append-only history log.
func WithHistory(h *HistoryLog) Option {
	return func(s *Store) { s.history = h }
}

// WithJobStateFile persists the tracked-user job set across restarts, so
// a restart does not re-announce every already-running job.
func WithJobStateFile(path string) Option {
	return func(s *Store) { s.jobState = &jobStateFile{path: path} }
}

// New builds a Store tracking the given user's jobs.
func New(trackedUser string, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.Noop()
	}
	s := &Store{tracked: trackedUser, log: log}
	for _, opt := range opts {
		opt(s)
	}

	snap := &Snapshot{Nodes: map[string]slurm.NodeState{}}
	if s.jobState != nil {
		if jobs, err := s.jobState.load(); err != nil {
			log.Warn("could not restore job state, starting fresh: %v", err)
		} else {
			snap.Jobs = jobs
		}
	}
	s.current.Store(snap)
	return s
}

// Current returns the latest complete snapshot. Never nil. The returned
// snapshot must be treated as read-only.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// ApplySnapshot diffs the new observation against the current snapshot,
// publishes the new snapshot atomically, and returns the events the diff
// produced. The snapshot is published even when history persistence
// fails; in that case the events are still returned alongside a STORE
// error so the caller can decide whether to alert.
func (s *Store) ApplySnapshot(nodes []slurm.NodeState, jobs []slurm.JobRecord, at time.Time) ([]TransitionEvent, []JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()

	next := &Snapshot{
		Nodes:      make(map[string]slurm.NodeState, len(nodes)),
		ObservedAt: at,
	}
	for _, n := range nodes {
		next.Nodes[n.Key()] = n
	}
	for _, j := range jobs {
		if j.User == s.tracked {
			next.Jobs = append(next.Jobs, j)
		}
	}

	transitions := s.diffNodes(prev, next, at)
	jobEvents := s.diffJobs(prev.Jobs, next.Jobs, at)

	s.current.Store(next)

	var persistErr error
	if s.history != nil {
		if err := s.history.Append(transitions, jobEvents, sampleOf(next)); err != nil {
			persistErr = errors.WrapWithCode(err, errors.ErrStore, "history append failed", "")
		}
	}
	if s.jobState != nil {
		if err := s.jobState.save(next.Jobs); err != nil && persistErr == nil {
			persistErr = errors.WrapWithCode(err, errors.ErrStore, "job state save failed", "")
		}
	}
	return transitions, jobEvents, persistErr
}

// diffNodes compares two snapshots node by node. A node seen for the
// first time produces no event; a node that vanished transitions to
// unknown; a status change produces one event with a monotonic sequence
// number. Keys are walked in sorted order so event order and sequence
// assignment are stable across runs.
func (s *Store) diffNodes(prev, next *Snapshot, at time.Time) []TransitionEvent {
	var events []TransitionEvent

	for _, key := range sortedKeys(next.Nodes) {
		node := next.Nodes[key]
		before, ok := prev.Nodes[key]
		if !ok {
			continue // first sighting, nothing to compare against
		}
		if before.Status != node.Status {
			events = append(events, TransitionEvent{
				Seq:       s.seq.Add(1),
				Node:      node.Name,
				Partition: node.Partition,
				From:      before.Status,
				To:        node.Status,
				At:        at,
			})
		}
	}

	for _, key := range sortedKeys(prev.Nodes) {
		if _, ok := next.Nodes[key]; ok {
			continue
		}
		node := prev.Nodes[key]
		if node.Status == slurm.StateUnknown {
			continue
		}
		events = append(events, TransitionEvent{
			Seq:       s.seq.Add(1),
			Node:      node.Name,
			Partition: node.Partition,
			From:      node.Status,
			To:        slurm.StateUnknown,
			At:        at,
		})
	}
	return events
}

func sortedKeys(m map[string]slurm.NodeState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffJobs compares tracked-user job sets by ID. Present-now-not-before
// is a start; before-not-now is a finish.
func (s *Store) diffJobs(prev, next []slurm.JobRecord, at time.Time) []JobEvent {
	prevByID := make(map[string]slurm.JobRecord, len(prev))
	for _, j := range prev {
		prevByID[j.JobID] = j
	}
	nextIDs := make(map[string]bool, len(next))

	var events []JobEvent
	for _, j := range next {
		nextIDs[j.JobID] = true
		if _, ok := prevByID[j.JobID]; !ok {
			events = append(events, JobEvent{Seq: s.seq.Add(1), Type: JobStarted, Job: j, At: at})
		}
	}
	for _, j := range prev {
		if !nextIDs[j.JobID] {
			events = append(events, JobEvent{Seq: s.seq.Add(1), Type: JobFinished, Job: j, At: at})
		}
	}
	return events
}

// PartitionCounts summarizes the current snapshot as status counts per
// partition.
func (s *Store) PartitionCounts() map[string]map[slurm.NodeStatus]int {
	snap := s.current.Load()
	counts := make(map[string]map[slurm.NodeStatus]int)
	for _, n := range snap.Nodes {
		byStatus, ok := counts[n.Partition]
		if !ok {
			byStatus = make(map[slurm.NodeStatus]int)
			counts[n.Partition] = byStatus
		}
		byStatus[n.Status]++
	}
	return counts
}

// sampleOf condenses a snapshot into the per-cycle record the history
// log keeps, so past load is answerable even when no node changed state.
func sampleOf(snap *Snapshot) *SnapshotSample {
	sample := &SnapshotSample{
		At:          snap.ObservedAt,
		Counts:      make(map[string]map[slurm.NodeStatus]int),
		TrackedJobs: len(snap.Jobs),
	}
	for _, n := range snap.Nodes {
		byStatus, ok := sample.Counts[n.Partition]
		if !ok {
			byStatus = make(map[slurm.NodeStatus]int)
			sample.Counts[n.Partition] = byStatus
		}
		byStatus[n.Status]++
		sample.TotalNodes++
		if n.Status == slurm.StateIdle {
			sample.FreeNodes++
		}
	}
	return sample
}

// FreeNodes lists the currently idle nodes, the figure users ask for most.
func (s *Store) FreeNodes() []slurm.NodeState {
	snap := s.current.Load()
	var free []slurm.NodeState
	for _, n := range snap.Nodes {
		if n.Status == slurm.StateIdle {
			free = append(free, n)
		}
	}
	return free
}
