package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transition(node string, to slurm.NodeStatus, at time.Time) TransitionEvent {
	return TransitionEvent{Node: node, Partition: "alto", From: slurm.StateIdle, To: to, At: at}
}

func TestHistoryAppendAndReadBack(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	err = h.Append(
		[]TransitionEvent{transition("huk01", slurm.StateAllocated, at)},
		[]JobEvent{{Type: JobStarted, Job: slurm.JobRecord{JobID: "42", User: "carlos"}, At: at}},
		nil,
	)
	require.NoError(t, err)

	records, err := h.ReadRange(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "transition", records[0].Kind)
	assert.Equal(t, "huk01", records[0].Transition.Node)
	assert.Equal(t, "job", records[1].Kind)
	assert.Equal(t, "42", records[1].Job.Job.JobID)
}

func TestHistoryRotatesMonthly(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenHistory(dir)
	require.NoError(t, err)
	defer h.Close()

	clock := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return clock }

	require.NoError(t, h.Append([]TransitionEvent{transition("huk01", slurm.StateDown, clock)}, nil, nil))

	clock = clock.Add(2 * time.Hour) // crosses into August
	require.NoError(t, h.Append([]TransitionEvent{transition("huk01", slurm.StateIdle, clock)}, nil, nil))

	assert.FileExists(t, filepath.Join(dir, "history_2026_07.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "history_2026_08.jsonl"))

	// A range spanning both months stitches the files together.
	records, err := h.ReadRange(
		time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHistoryReadRangeBoundsAreHalfOpen(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append([]TransitionEvent{transition("huk01", slurm.StateDown, at)}, nil, nil))

	records, err := h.ReadRange(at, at.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = h.ReadRange(at.Add(-time.Second), at)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHistoryTornLineIsSkipped(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenHistory(dir)
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append([]TransitionEvent{transition("huk01", slurm.StateDown, at)}, nil, nil))

	// Simulate a crash mid-write.
	f, err := os.OpenFile(filepath.Join(dir, "history_2026_08.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"transition","transi`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := h.ReadRange(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRollupLastWriteWins(t *testing.T) {
	from := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	records := []HistoryRecord{
		{Kind: "transition", Transition: &TransitionEvent{Node: "huk01", To: slurm.StateAllocated, At: from.Add(5 * time.Minute)}},
		{Kind: "transition", Transition: &TransitionEvent{Node: "huk01", To: slurm.StateIdle, At: from.Add(40 * time.Minute)}},
		{Kind: "transition", Transition: &TransitionEvent{Node: "huk02", To: slurm.StateDown, At: from.Add(50 * time.Minute)}},
		{Kind: "job", Job: &JobEvent{Type: JobStarted, At: from.Add(10 * time.Minute)}},
		{Kind: "sample", Sample: sample(from.Add(15*time.Minute), 4, 5)},
		{Kind: "sample", Sample: sample(from.Add(55*time.Minute), 1, 5)},
		{Kind: "transition", Transition: &TransitionEvent{Node: "huk01", To: slurm.StateMixed, At: from.Add(70 * time.Minute)}},
	}

	buckets := RollupRecords(records, from, time.Hour)
	require.Len(t, buckets, 2)

	// First hour: huk01's later transition (idle) overrides the earlier
	// allocated one, and the counts come from the 00:55 sample, not from
	// tallying the two transitioned nodes.
	first := buckets[0]
	assert.Equal(t, from, first.Start)
	assert.Equal(t, slurm.StateIdle, first.Nodes["huk01"])
	assert.Equal(t, slurm.StateDown, first.Nodes["huk02"])
	assert.Equal(t, 1, first.Counts[slurm.StateIdle])
	assert.Equal(t, 4, first.Counts[slurm.StateAllocated])
	assert.Equal(t, 1, first.JobsStarted)

	// Second hour saw no sample, so the transition tally stands in.
	second := buckets[1]
	assert.Equal(t, from.Add(time.Hour), second.Start)
	assert.Equal(t, slurm.StateMixed, second.Nodes["huk01"])
	assert.Equal(t, 1, second.Counts[slurm.StateMixed])
}

func TestRollupQuietBucketKeepsSampleCounts(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	// Three quiet cycles, no transitions at all. The bucket must carry
	// the newest sample's occupancy, not come back empty.
	from := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append(nil, nil, sample(from, 1, 5)))
	require.NoError(t, h.Append(nil, nil, sample(from.Add(5*time.Minute), 2, 5)))
	require.NoError(t, h.Append(nil, nil, sample(from.Add(9*time.Minute), 3, 5)))

	buckets, err := h.Rollup(from, from.Add(10*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 3, buckets[0].Counts[slurm.StateIdle])
	assert.Equal(t, 2, buckets[0].Counts[slurm.StateAllocated])
	assert.Empty(t, buckets[0].Nodes)
}

func TestRollupRejectsBadArguments(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	now := time.Now()
	_, err = h.Rollup(now, now.Add(time.Hour), 0)
	assert.Error(t, err)
	_, err = h.Rollup(now, now, time.Hour)
	assert.Error(t, err)
}

func sample(at time.Time, free, total int) *SnapshotSample {
	return &SnapshotSample{
		At: at,
		Counts: map[string]map[slurm.NodeStatus]int{
			"alto": {slurm.StateIdle: free, slurm.StateAllocated: total - free},
		},
		FreeNodes:  free,
		TotalNodes: total,
	}
}

func TestHistorySampleRoundTrip(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append(nil, nil, sample(at, 2, 5)))

	records, err := h.ReadRange(at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sample", records[0].Kind)
	assert.Equal(t, 2, records[0].Sample.FreeNodes)
	assert.Equal(t, 3, records[0].Sample.Counts["alto"][slurm.StateAllocated])
}

func TestPartitionCountsUsesLastSampleInWindow(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append(nil, nil, sample(at, 4, 5)))
	require.NoError(t, h.Append(nil, nil, sample(at.Add(10*time.Minute), 1, 5)))

	counts, err := h.PartitionCounts(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, counts)
	assert.Equal(t, 1, counts["alto"][slurm.StateIdle])
	assert.Equal(t, 4, counts["alto"][slurm.StateAllocated])

	// No samples in the window means the watcher was not running then.
	counts, err = h.PartitionCounts(at.Add(-2*time.Hour), at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, counts)
}

func TestNodeStateVector(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append([]TransitionEvent{
		transition("huk01", slurm.StateAllocated, at),
		transition("huk02", slurm.StateDown, at.Add(time.Minute)),
		transition("huk01", slurm.StateIdle, at.Add(30*time.Minute)),
	}, nil, nil))

	steps, err := h.NodeStateVector("huk01", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, slurm.StateAllocated, steps[0].Status)
	assert.Equal(t, slurm.StateIdle, steps[1].Status)
	assert.True(t, steps[0].At.Before(steps[1].At))
}
