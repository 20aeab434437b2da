// Package cluster runs scheduler commands on the remote head node through
// the SSH chain and returns typed records. Every operation acquires its own
// scoped session (open, use, close on all paths); nothing here holds a
// connection between calls.
package cluster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/config"
	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
	"github.com/slurmwatch/slurmwatch/pkg/sshutil"
	"golang.org/x/sync/errgroup"
)

// Client executes Slurm commands on the cluster head node.
type Client struct {
	chain      *sshutil.Chain
	bastion    *sshutil.Chain // first hop only, for the heartbeat
	headHop    sshutil.Hop    // credentials reused for compute-node probes
	partitions map[string]bool
	loc        *time.Location
	nodePrefix string
	timeout    time.Duration
	log        logger.Logger
}

// Snapshot bundles the records gathered in one poll cycle.
type Snapshot struct {
	Nodes        []slurm.NodeState
	Jobs         []slurm.JobRecord
	Incomplete   bool
	SkippedLines int
	ObservedAt   time.Time
}

// NodeReport is the result of an on-demand node inspection.
type NodeReport struct {
	Detail slurm.NodeDetail

	// Memory is authoritative when Approximate is false (direct probe).
	// When the probe fails, figures fall back to scheduler accounting.
	Memory      slurm.MemoryReport
	Approximate bool

	// TopJob is the first job running on the node, when it is busy.
	TopJob *slurm.JobRecord

	// IdleSince is Slurm's LastBusyTime, zero when unknown.
	IdleSince time.Time
}

// New builds a Client from configuration. Hop passwords are read from the
// environment variables named in the config.
func New(cfg *config.Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.Noop()
	}

	hops := make([]sshutil.Hop, len(cfg.Hops))
	for i, h := range cfg.Hops {
		hops[i] = hopFromConfig(h)
	}

	partitions := make(map[string]bool, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		partitions[p] = true
	}

	return &Client{
		chain:      &sshutil.Chain{Hops: hops, ConnectTimeout: cfg.Poll.ConnectTimeout},
		bastion:    &sshutil.Chain{Hops: hops[:1], ConnectTimeout: cfg.Poll.ConnectTimeout},
		headHop:    hops[len(hops)-1],
		partitions: partitions,
		loc:        slurm.Offset(cfg.UTCOffset),
		nodePrefix: cfg.NodePrefix,
		timeout:    cfg.Poll.Timeout,
		log:        log,
	}
}

func hopFromConfig(h config.Hop) sshutil.Hop {
	return sshutil.Hop{
		Host:         h.Host,
		User:         h.User,
		Port:         h.Port,
		Password:     passwordFromEnv(h.PasswordEnv),
		IdentityFile: h.IdentityFile,
	}
}

// FetchSnapshot gathers the node listing and queue listing in one scoped
// session. The two commands run concurrently over the same chain (SSH
// multiplexes sessions); either failing fails the whole snapshot, so a
// partial view never reaches the store.
func (c *Client) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	sess, err := c.chain.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	observedAt := time.Now()

	var nodeOut, queueOut string
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(gctx, c.timeout)
		defer cancel()
		var err error
		nodeOut, err = sess.Output(ctx, slurm.NodeListingCommand)
		return err
	})

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(gctx, c.timeout)
		defer cancel()
		var err error
		queueOut, err = sess.Output(ctx, slurm.QueueListingCommand)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	nodes, err := slurm.ParseNodeListing(nodeOut, observedAt)
	if err != nil {
		return nil, err
	}
	queue, err := slurm.ParseQueueListing(queueOut, c.loc)
	if err != nil {
		return nil, err
	}

	if nodes.Skipped > 0 || queue.Skipped > 0 {
		c.log.Warn("snapshot degraded: %d node lines and %d queue lines skipped",
			nodes.Skipped, queue.Skipped)
	}

	snap := &Snapshot{
		Nodes:        c.filterPartitions(nodes.Nodes),
		Jobs:         queue.Jobs,
		Incomplete:   nodes.Incomplete,
		SkippedLines: nodes.Skipped + queue.Skipped,
		ObservedAt:   observedAt,
	}
	attachRunningJobs(snap)
	return snap, nil
}

// filterPartitions drops nodes outside the configured target partitions.
func (c *Client) filterPartitions(nodes []slurm.NodeState) []slurm.NodeState {
	if len(c.partitions) == 0 {
		return nodes
	}
	filtered := nodes[:0]
	for _, n := range nodes {
		if c.partitions[n.Partition] {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// attachRunningJobs links each busy node to the first running job reported
// on it, giving consumers a job reference without a second remote call.
// Compressed node lists ("huk[01-03]") are expanded so multi-node jobs
// reach every member.
func attachRunningJobs(snap *Snapshot) {
	byNode := make(map[string]string)
	for _, j := range snap.Jobs {
		if j.State != slurm.JobRunning || j.NodeList == "" {
			continue
		}
		for _, name := range slurm.ExpandNodeList(j.NodeList) {
			if _, ok := byNode[name]; !ok {
				byNode[name] = j.JobID
			}
		}
	}
	for i := range snap.Nodes {
		if id, ok := byNode[snap.Nodes[i].Name]; ok {
			snap.Nodes[i].RunningJobID = id
		}
	}
}

// QueueSummary returns the total active job count and per-user counts.
func (c *Client) QueueSummary(ctx context.Context) (int, map[string]int, error) {
	out, err := c.run(ctx, "squeue -h -o %u")
	if err != nil {
		return 0, nil, err
	}
	total, byUser := slurm.ParseQueueUsers(out)
	return total, byUser, nil
}

// FetchUserJobs lists the active jobs of a single user, in the same
// record shape the snapshot carries. Drives watching a user outside the
// tracked one without widening the poll loop.
func (c *Client) FetchUserJobs(ctx context.Context, user string) ([]slurm.JobRecord, error) {
	out, err := c.run(ctx, fmt.Sprintf("squeue -h -u %s -o \"%%i|%%u|%%T|%%N|%%V|%%e\"", user))
	if err != nil {
		return nil, err
	}
	listing, err := slurm.ParseQueueListing(out, c.loc)
	if err != nil {
		return nil, err
	}
	return listing.Jobs, nil
}

// NodeDetails fetches scontrol records for the named nodes.
func (c *Client) NodeDetails(ctx context.Context, nodes []string) (map[string]slurm.NodeDetail, error) {
	if len(nodes) == 0 {
		return map[string]slurm.NodeDetail{}, nil
	}
	cmd := "scontrol show node " + strings.Join(nodes, ",")
	out, err := c.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return slurm.ParseNodeDetail(out)
}

// ProbeNode opens one extra hop onto the compute node and reads its memory
// straight from the OS, bypassing the scheduler's sometimes-stale
// accounting. On any failure it falls back to scontrol figures and marks
// the report approximate. Safe to call concurrently with the poll loop:
// it opens its own chain.
func (c *Client) ProbeNode(ctx context.Context, nodeName string) (*NodeReport, error) {
	nodeName = slurm.ResolveNodeName(nodeName, c.nodePrefix)

	sess, err := c.chain.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	report := &NodeReport{Approximate: true}

	// Scheduler's view first; also the fallback memory source.
	detailCtx, cancel := context.WithTimeout(ctx, c.timeout)
	detailOut, err := sess.Output(detailCtx, "scontrol show node "+nodeName)
	cancel()
	if err != nil {
		return nil, err
	}
	details, err := slurm.ParseNodeDetail(detailOut)
	if err != nil {
		return nil, err
	}
	detail, ok := details[nodeName]
	if !ok {
		for _, d := range details {
			detail = d
			break
		}
	}
	report.Detail = detail
	report.IdleSince = detail.LastBusy
	report.Memory = slurm.MemoryReport{
		TotalMB: detail.RealMemoryMB,
		UsedMB:  detail.AllocMemMB,
		FreeMB:  detail.RealMemoryMB - detail.AllocMemMB,
	}

	// Direct probe: one extra hop onto the node itself.
	probeHop := c.headHop
	probeHop.Host = nodeName
	probeHop.Port = 0

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	probe, err := sess.Extend(probeCtx, probeHop)
	if err != nil {
		c.log.Debug("direct probe hop to %s failed, using scheduler figures: %v", nodeName, err)
	} else {
		defer probe.Close()
		out, err := probe.Output(probeCtx, slurm.MemoryProbeCommand)
		if err == nil {
			if mem, perr := slurm.ParseMemoryProbe(out); perr == nil {
				report.Memory = *mem
				report.Approximate = false
			}
		} else {
			c.log.Debug("free -m on %s failed: %v", nodeName, err)
		}
	}

	// Busy nodes get their top running job for context.
	if detail.CPUAlloc > 0 {
		jobCtx, cancel := context.WithTimeout(ctx, c.timeout)
		jobOut, err := sess.Output(jobCtx, fmt.Sprintf("squeue -h -w %s -o \"%%i|%%u|%%T|%%N|%%V|%%e\"", nodeName))
		cancel()
		if err == nil {
			if listing, perr := slurm.ParseQueueListing(jobOut, c.loc); perr == nil && len(listing.Jobs) > 0 {
				report.TopJob = &listing.Jobs[0]
			}
		}
	}

	return report, nil
}

// IsReachable is a lightweight heartbeat: can we still log in to the
// bastion? Used to tell "the whole link is down" from "one command failed".
func (c *Client) IsReachable(ctx context.Context) bool {
	sess, err := c.bastion.Connect(ctx)
	if err != nil {
		return false
	}
	sess.Close()
	return true
}

// run opens a scoped session, executes one command with the configured
// timeout, and closes the session.
func (c *Client) run(ctx context.Context, cmd string) (string, error) {
	sess, err := c.chain.Connect(ctx)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return sess.Output(execCtx, cmd)
}

// passwordFromEnv is a seam for tests.
var passwordFromEnv = getenv
