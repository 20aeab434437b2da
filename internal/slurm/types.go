// Package slurm converts raw Slurm command output into typed records.
// All parsers are pure functions over text; no I/O happens here.
package slurm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeStatus is the derived scheduler state of a compute node.
type NodeStatus string

const (
	StateIdle      NodeStatus = "idle"
	StateMixed     NodeStatus = "mixed"
	StateAllocated NodeStatus = "allocated"
	StateDown      NodeStatus = "down"
	StateUnknown   NodeStatus = "unknown"
)

// NodeState is one compute node's observed status within one partition.
// A node that belongs to several partitions yields one NodeState per
// membership, sharing the same resource numbers.
type NodeState struct {
	Name          string     `json:"name"`
	Partition     string     `json:"partition"`
	Status        NodeStatus `json:"status"`
	CPUsTotal     int        `json:"cpus_total"`
	CPUsAllocated int        `json:"cpus_allocated"`
	MemTotalMB    int        `json:"mem_total_mb"`
	MemFreeMB     int        `json:"mem_free_mb"`

	// MemApproximate is true unless MemFreeMB came from a direct probe of
	// the node's OS. Slurm's own accounting can be stale.
	MemApproximate bool `json:"mem_approximate"`

	// RunningJobID references the job occupying the node, when known.
	RunningJobID string `json:"running_job_id,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// Key identifies a NodeState across polls. Nodes are diffed per
// partition membership, not per bare node name.
func (n NodeState) Key() string {
	return n.Name + "/" + n.Partition
}

// JobState is a queued or running job's reported state.
type JobState string

const (
	JobPending    JobState = "pending"
	JobRunning    JobState = "running"
	JobCompleting JobState = "completing"
	JobUnknown    JobState = "unknown"
)

// JobRecord is one queued or running job. The JobID is stable across polls
// while the job exists; its disappearance from the queue listing is the
// completion signal (Slurm does not reliably report completed jobs).
type JobRecord struct {
	JobID       string    `json:"job_id"`
	User        string    `json:"user"`
	State       JobState  `json:"state"`
	NodeList    string    `json:"node_list"`
	SubmittedAt time.Time `json:"submitted_at"`
	// EstimatedEnd is nil when Slurm reports no end estimate. It is
	// normalized at parse time with the configured UTC offset.
	EstimatedEnd *time.Time `json:"estimated_end,omitempty"`
}

// MemoryReport holds memory figures probed directly from a node's OS
// (free -m), bypassing the scheduler's accounting.
type MemoryReport struct {
	TotalMB int `json:"total_mb"`
	UsedMB  int `json:"used_mb"`
	FreeMB  int `json:"free_mb"`
}

// NodeDetail holds the subset of scontrol show node fields we care about.
// Used as the fallback when a direct probe is not possible.
type NodeDetail struct {
	Name         string
	RealMemoryMB int
	AllocMemMB   int
	CPUAlloc     int
	CPUTot       int
	CPULoad      float64
	LastBusy     time.Time // zero when Slurm never reported LastBusyTime
}

// NodeListing is the result of parsing a full sinfo run.
// Skipped counts malformed lines; Incomplete is set when any record was
// built from a line missing numeric fields.
type NodeListing struct {
	Nodes      []NodeState
	Skipped    int
	Incomplete bool
}

// QueueListing is the result of parsing a full squeue run.
type QueueListing struct {
	Jobs    []JobRecord
	Skipped int
}

// DeriveStatus computes a node's status from its raw state token and CPU
// counters. A down/drain token always wins; otherwise the status is a pure
// function of allocated vs total CPUs.
func DeriveStatus(rawToken string, cpusAllocated, cpusTotal int) NodeStatus {
	if tok := mapStateToken(rawToken); tok == StateDown {
		return StateDown
	}
	if cpusTotal <= 0 {
		// No CPU figures to derive from; trust the token.
		return mapStateToken(rawToken)
	}
	switch {
	case cpusAllocated <= 0:
		return StateIdle
	case cpusAllocated >= cpusTotal:
		return StateAllocated
	default:
		return StateMixed
	}
}

// mapStateToken maps a Slurm-native state token onto the NodeStatus enum.
// Tokens carry decorations like "*" (unresponsive) or "~" (powered down);
// unrecognized tokens map to StateUnknown rather than failing the parse.
func mapStateToken(token string) NodeStatus {
	t := strings.ToLower(strings.TrimRight(token, "*~#!%$@^-"))
	switch {
	case strings.HasPrefix(t, "idle"):
		return StateIdle
	case strings.HasPrefix(t, "mix"):
		return StateMixed
	case strings.HasPrefix(t, "alloc"), strings.HasPrefix(t, "comp"):
		return StateAllocated
	case strings.HasPrefix(t, "down"), strings.HasPrefix(t, "drain"),
		strings.HasPrefix(t, "drng"), strings.HasPrefix(t, "fail"),
		strings.HasPrefix(t, "maint"), strings.HasPrefix(t, "inval"):
		return StateDown
	default:
		return StateUnknown
	}
}

// mapJobToken maps a squeue state token (RUNNING, PD, CG, ...) onto JobState.
func mapJobToken(token string) JobState {
	t := strings.ToUpper(strings.TrimSpace(token))
	switch t {
	case "PENDING", "PD":
		return JobPending
	case "RUNNING", "R":
		return JobRunning
	case "COMPLETING", "CG":
		return JobCompleting
	default:
		return JobUnknown
	}
}

// ResolveNodeName expands a bare node number using the cluster's node
// prefix ("120" becomes "huk120" when the prefix is "huk"). Full names
// pass through untouched.
func ResolveNodeName(name, prefix string) string {
	if name == "" || prefix == "" {
		return name
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return name
		}
	}
	return prefix + name
}

// ExpandNodeList expands Slurm's compressed hostlist notation into
// individual node names: "huk[01-03,07]" becomes huk01 huk02 huk03
// huk07, preserving zero padding. Plain names and comma-separated lists
// pass through; anything unparseable is returned as-is so callers never
// lose a name.
func ExpandNodeList(list string) []string {
	var names []string
	for _, token := range splitHostList(list) {
		open := strings.IndexByte(token, '[')
		if open < 0 || !strings.HasSuffix(token, "]") {
			names = append(names, token)
			continue
		}
		prefix := token[:open]
		for _, part := range strings.Split(token[open+1:len(token)-1], ",") {
			lo, hi, ok := strings.Cut(part, "-")
			if !ok {
				names = append(names, prefix+lo)
				continue
			}
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || end < start {
				names = append(names, token)
				break
			}
			for n := start; n <= end; n++ {
				names = append(names, fmt.Sprintf("%s%0*d", prefix, len(lo), n))
			}
		}
	}
	return names
}

// splitHostList splits on commas that are not inside brackets.
func splitHostList(list string) []string {
	var tokens []string
	depth, start := 0, 0
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				tokens = append(tokens, list[start:i])
				start = i + 1
			}
		}
	}
	if start < len(list) {
		tokens = append(tokens, list[start:])
	}
	return tokens
}
