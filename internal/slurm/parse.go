package slurm

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/errors"
)

// Commands whose output the parsers in this file understand. The cluster
// client runs these verbatim on the head node.
const (
	// NodeListingCommand: partition, node, state token, A/I/O/T CPUs, memory MB.
	NodeListingCommand = `sinfo -h -N -o "%P %n %T %C %m"`

	// QueueListingCommand: pipe-separated so empty fields survive splitting.
	QueueListingCommand = `squeue -h -o "%i|%u|%T|%N|%V|%e"`

	// MemoryProbeCommand reports memory straight from the node's OS.
	MemoryProbeCommand = "free -m"

	// slurmTimeLayout is the timestamp format sinfo/squeue/scontrol emit.
	slurmTimeLayout = "2006-01-02T15:04:05"
)

// ParseNodeListing parses sinfo output (one node-partition membership per
// line) into NodeStates. Malformed lines are skipped and counted; lines
// missing numeric fields produce a record with zeros and set the Incomplete
// flag. Empty or fully unparseable input is a single PARSE error so callers
// can tell a degraded listing from an unusable one.
func ParseNodeListing(text string, observedAt time.Time) (*NodeListing, error) {
	listing := &NodeListing{}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Tolerate an accidental header row.
		if strings.HasPrefix(line, "PARTITION") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			listing.Skipped++
			continue
		}

		node := NodeState{
			Partition:  strings.TrimSuffix(fields[0], "*"),
			Name:       fields[1],
			ObservedAt: observedAt,
			// sinfo memory figures come from the scheduler's accounting.
			MemApproximate: true,
		}
		rawState := fields[2]

		complete := true
		if len(fields) >= 4 {
			alloc, total, ok := parseCPUQuad(fields[3])
			if ok {
				node.CPUsAllocated = alloc
				node.CPUsTotal = total
			} else {
				complete = false
			}
		} else {
			complete = false
		}

		if len(fields) >= 5 {
			if mem, err := strconv.Atoi(strings.TrimSuffix(fields[4], "+")); err == nil {
				node.MemTotalMB = mem
			} else {
				complete = false
			}
		} else {
			complete = false
		}

		if !complete {
			listing.Incomplete = true
		}

		node.Status = DeriveStatus(rawState, node.CPUsAllocated, node.CPUsTotal)
		if node.CPUsAllocated > node.CPUsTotal {
			// Scheduler reporting bug, clamp rather than emit an impossible record.
			node.CPUsAllocated = node.CPUsTotal
		}

		listing.Nodes = append(listing.Nodes, node)
	}

	if len(listing.Nodes) == 0 {
		return nil, errors.New(errors.ErrParse,
			"Node listing was empty or unrecognized",
			"Check that sinfo runs on the head node: sinfo -h -N -o \"%P %n %T %C %m\"")
	}

	return listing, nil
}

// parseCPUQuad parses sinfo's %C field "alloc/idle/other/total".
func parseCPUQuad(s string) (alloc, total int, ok bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return 0, 0, false
	}
	alloc, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, false
	}
	return alloc, total, true
}

// ParseQueueListing parses squeue output (one job per line, pipe-separated
// fields: jobid|user|state|nodelist|submit|end). Timestamps are interpreted
// in loc, which carries the cluster's configured UTC offset. Malformed lines
// are skipped and counted; an empty queue is valid (zero jobs, no error) only
// when the input is whitespace, since squeue prints nothing for an idle queue.
func ParseQueueListing(text string, loc *time.Location) (*QueueListing, error) {
	if loc == nil {
		loc = time.UTC
	}
	listing := &QueueListing{}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < 4 || fields[0] == "" || fields[1] == "" {
			listing.Skipped++
			continue
		}

		job := JobRecord{
			JobID:    strings.TrimSpace(fields[0]),
			User:     strings.TrimSpace(fields[1]),
			State:    mapJobToken(fields[2]),
			NodeList: strings.TrimSpace(fields[3]),
		}

		if len(fields) >= 5 {
			if ts, err := time.ParseInLocation(slurmTimeLayout, strings.TrimSpace(fields[4]), loc); err == nil {
				job.SubmittedAt = ts
			}
		}
		if len(fields) >= 6 {
			end := strings.TrimSpace(fields[5])
			if end != "" && end != "N/A" && end != "NONE" && end != "(null)" {
				if ts, err := time.ParseInLocation(slurmTimeLayout, end, loc); err == nil {
					job.EstimatedEnd = &ts
				}
			}
		}

		listing.Jobs = append(listing.Jobs, job)
	}

	// squeue legitimately prints nothing when the queue is empty, but if we
	// got lines and parsed none of them the input format is wrong.
	if len(listing.Jobs) == 0 && listing.Skipped > 0 {
		return nil, errors.New(errors.ErrParse,
			"Queue listing format not recognized",
			"Expected pipe-separated squeue output: %i|%u|%T|%N|%V|%e")
	}

	return listing, nil
}

// ParseMemoryProbe parses `free -m` output from a compute node. Only the
// "Mem:" row matters.
func ParseMemoryProbe(text string) (*MemoryReport, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			break
		}
		total, err1 := strconv.Atoi(fields[1])
		used, err2 := strconv.Atoi(fields[2])
		free, err3 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		return &MemoryReport{TotalMB: total, UsedMB: used, FreeMB: free}, nil
	}

	return nil, errors.New(errors.ErrParse,
		"Couldn't find a Mem: row in the probe output",
		"The node may not have GNU free installed, or the probe command failed upstream")
}

// ParseNodeDetail parses `scontrol show node` output, which is several
// key=value tokens spread over multiple lines per node. A NodeName= token
// starts a new node block. Unknown keys are ignored.
func ParseNodeDetail(text string) (map[string]NodeDetail, error) {
	details := make(map[string]NodeDetail)
	var current string

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		for _, tok := range strings.Fields(line) {
			eq := strings.Index(tok, "=")
			if eq <= 0 {
				continue
			}
			key, val := tok[:eq], tok[eq+1:]

			if key == "NodeName" {
				current = val
				details[current] = NodeDetail{Name: val}
				continue
			}
			if current == "" {
				continue
			}

			d := details[current]
			switch key {
			case "RealMemory":
				d.RealMemoryMB, _ = strconv.Atoi(val)
			case "AllocMem":
				d.AllocMemMB, _ = strconv.Atoi(val)
			case "CPUAlloc":
				d.CPUAlloc, _ = strconv.Atoi(val)
			case "CPUTot":
				d.CPUTot, _ = strconv.Atoi(val)
			case "CPULoad":
				d.CPULoad, _ = strconv.ParseFloat(val, 64)
			case "LastBusyTime":
				if ts, err := time.Parse(slurmTimeLayout, val); err == nil {
					d.LastBusy = ts
				}
			}
			details[current] = d
		}
	}

	if len(details) == 0 {
		return nil, errors.New(errors.ErrParse,
			"scontrol output contained no node blocks",
			"Check the node name exists: scontrol show node <name>")
	}

	return details, nil
}

// ParseQueueUsers parses `squeue -h -o %u` output into per-user job counts.
// Used for the queue context summary, never for diffing.
func ParseQueueUsers(text string) (total int, byUser map[string]int) {
	byUser = make(map[string]int)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		user := strings.TrimSpace(scanner.Text())
		if user == "" {
			continue
		}
		byUser[user]++
		total++
	}
	return total, byUser
}

// Offset returns a fixed time.Location for the given UTC offset in hours.
// Applied once at parse time; timestamps are never re-derived later.
func Offset(hours int) *time.Location {
	if hours == 0 {
		return time.UTC
	}
	return time.FixedZone("cluster", hours*3600)
}
