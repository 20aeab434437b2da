package store

import (
	"sort"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

// RollupBucket condenses one time bucket of history. Within a bucket
// the last record wins: Counts comes from the newest per-cycle sample,
// so a quiet stretch still reports real occupancy, and Nodes tracks the
// last transition per node. Counts reflects the state at the bucket's
// end, not an average.
type RollupBucket struct {
	Start time.Time `json:"start"`

	// Nodes maps node name to its status as of the last transition in
	// the bucket. Nodes with no transition in the bucket are absent.
	Nodes map[string]slurm.NodeStatus `json:"nodes"`

	// Counts sums the last sample's per-partition figures; buckets from
	// a log without samples fall back to counting Nodes.
	Counts       map[slurm.NodeStatus]int `json:"counts"`
	JobsStarted  int                      `json:"jobs_started"`
	JobsFinished int                      `json:"jobs_finished"`
}

// Rollup reads [from, to) from the history log and aggregates it into
// fixed-width buckets. Buckets with no records are omitted.
func (h *HistoryLog) Rollup(from, to time.Time, bucket time.Duration) ([]RollupBucket, error) {
	if bucket <= 0 {
		return nil, errors.New(errors.ErrStore, "rollup bucket must be positive", "")
	}
	if !from.Before(to) {
		return nil, errors.New(errors.ErrStore, "rollup range is empty", "")
	}

	records, err := h.ReadRange(from, to)
	if err != nil {
		return nil, err
	}
	return RollupRecords(records, from, bucket), nil
}

// PartitionCounts replays the samples in [from, to) and returns the
// status counts per partition as of the last sample in the window. Nil
// when the window holds no samples, which the caller should treat as
// "the watcher was not running then".
func (h *HistoryLog) PartitionCounts(from, to time.Time) (map[string]map[slurm.NodeStatus]int, error) {
	if !from.Before(to) {
		return nil, errors.New(errors.ErrStore, "history range is empty", "")
	}
	records, err := h.ReadRange(from, to)
	if err != nil {
		return nil, err
	}

	var last *SnapshotSample
	for _, rec := range records {
		if rec.Sample == nil {
			continue
		}
		if last == nil || rec.Sample.At.After(last.At) {
			last = rec.Sample
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Counts, nil
}

// NodeStep is one entry of a node's state timeline.
type NodeStep struct {
	At     time.Time        `json:"at"`
	Status slurm.NodeStatus `json:"status"`
}

// NodeStateVector reconstructs one node's state changes over [from, to)
// from the transition log, in chronological order. Useful for answering
// "when did huk03 go down and for how long".
func (h *HistoryLog) NodeStateVector(node string, from, to time.Time) ([]NodeStep, error) {
	if !from.Before(to) {
		return nil, errors.New(errors.ErrStore, "history range is empty", "")
	}
	records, err := h.ReadRange(from, to)
	if err != nil {
		return nil, err
	}

	var steps []NodeStep
	for _, rec := range records {
		if rec.Transition == nil || rec.Transition.Node != node {
			continue
		}
		steps = append(steps, NodeStep{At: rec.Transition.At, Status: rec.Transition.To})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].At.Before(steps[j].At) })
	return steps, nil
}

// RollupRecords buckets already-loaded records. Split out from Rollup so
// callers holding records from another source can reuse the aggregation.
func RollupRecords(records []HistoryRecord, from time.Time, bucket time.Duration) []RollupBucket {
	byStart := make(map[time.Time]*RollupBucket)
	lastSample := make(map[time.Time]*SnapshotSample)

	// Records within a file are chronological, but ranges spanning
	// files concatenate in file order; sort to make last-write-wins
	// well defined.
	sort.SliceStable(records, func(i, j int) bool {
		return recordTime(records[i]).Before(recordTime(records[j]))
	})

	for _, rec := range records {
		at := recordTime(rec)
		if at.IsZero() {
			continue
		}
		start := from.Add(at.Sub(from) / bucket * bucket)
		b, ok := byStart[start]
		if !ok {
			b = &RollupBucket{
				Start:  start,
				Nodes:  make(map[string]slurm.NodeStatus),
				Counts: make(map[slurm.NodeStatus]int),
			}
			byStart[start] = b
		}
		switch {
		case rec.Transition != nil:
			b.Nodes[rec.Transition.Node] = rec.Transition.To
		case rec.Job != nil && rec.Job.Type == JobStarted:
			b.JobsStarted++
		case rec.Job != nil && rec.Job.Type == JobFinished:
			b.JobsFinished++
		case rec.Sample != nil:
			lastSample[start] = rec.Sample // sorted, so the last one sticks
		}
	}

	buckets := make([]RollupBucket, 0, len(byStart))
	for start, b := range byStart {
		if s := lastSample[start]; s != nil {
			for _, byStatus := range s.Counts {
				for status, n := range byStatus {
					b.Counts[status] += n
				}
			}
		} else {
			for _, status := range b.Nodes {
				b.Counts[status]++
			}
		}
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets
}
