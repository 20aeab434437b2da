package cluster

import (
	"testing"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Hops = []config.Hop{
		{Host: "bastion.example.edu", User: "carlos", Port: 7722, PasswordEnv: "SLURMWATCH_BASTION_PASS"},
		{Host: "192.168.16.100", User: "carlos"},
	}
	cfg.Partitions = []string{"alto", "medio"}
	cfg.NodePrefix = "huk"
	return cfg
}

func TestNewResolvesHopPasswords(t *testing.T) {
	t.Setenv("SLURMWATCH_BASTION_PASS", "hunter2")

	c := New(testConfig(), logger.Noop())
	require.Len(t, c.chain.Hops, 2)
	assert.Equal(t, "hunter2", c.chain.Hops[0].Password)
	assert.Empty(t, c.chain.Hops[1].Password)
	require.Len(t, c.bastion.Hops, 1)
	assert.Equal(t, "bastion.example.edu", c.bastion.Hops[0].Host)
}

func TestFilterPartitions(t *testing.T) {
	c := New(testConfig(), logger.Noop())

	nodes := []slurm.NodeState{
		{Name: "huk01", Partition: "alto"},
		{Name: "huk02", Partition: "bajo"},
		{Name: "huk03", Partition: "medio"},
	}
	filtered := c.filterPartitions(nodes)
	require.Len(t, filtered, 2)
	assert.Equal(t, "huk01", filtered[0].Name)
	assert.Equal(t, "huk03", filtered[1].Name)
}

func TestFilterPartitionsEmptyConfigKeepsAll(t *testing.T) {
	cfg := testConfig()
	cfg.Partitions = nil
	c := New(cfg, logger.Noop())

	nodes := []slurm.NodeState{{Name: "huk01", Partition: "bajo"}}
	assert.Len(t, c.filterPartitions(nodes), 1)
}

func TestAttachRunningJobs(t *testing.T) {
	snap := &Snapshot{
		Nodes: []slurm.NodeState{
			{Name: "huk01", Status: slurm.StateAllocated},
			{Name: "huk02", Status: slurm.StateIdle},
		},
		Jobs: []slurm.JobRecord{
			{JobID: "901", User: "ana", State: slurm.JobPending, NodeList: ""},
			{JobID: "902", User: "beto", State: slurm.JobRunning, NodeList: "huk01"},
			{JobID: "903", User: "ana", State: slurm.JobRunning, NodeList: "huk01"},
		},
	}
	attachRunningJobs(snap)

	// First running job per node wins; idle nodes stay unlinked.
	assert.Equal(t, "902", snap.Nodes[0].RunningJobID)
	assert.Empty(t, snap.Nodes[1].RunningJobID)
}

func TestAttachRunningJobsExpandsNodeRanges(t *testing.T) {
	snap := &Snapshot{
		Nodes: []slurm.NodeState{
			{Name: "huk01", Status: slurm.StateAllocated},
			{Name: "huk02", Status: slurm.StateAllocated},
			{Name: "huk03", Status: slurm.StateAllocated},
			{Name: "huk04", Status: slurm.StateIdle},
		},
		Jobs: []slurm.JobRecord{
			{JobID: "910", User: "carlos", State: slurm.JobRunning, NodeList: "huk[01-03]"},
		},
	}
	attachRunningJobs(snap)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "910", snap.Nodes[i].RunningJobID, snap.Nodes[i].Name)
	}
	assert.Empty(t, snap.Nodes[3].RunningJobID)
}

func TestNewTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.Poll.Timeout = 45 * time.Second
	c := New(cfg, logger.Noop())
	assert.Equal(t, 45*time.Second, c.timeout)
}
