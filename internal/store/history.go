package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

// historyFilePattern names one month of history. A fresh file each month
// keeps any single file small enough to grep and lets old months be
// archived or deleted independently.
const historyFilePattern = "history_%s.jsonl"

const historyMonthLayout = "2006_01"

// HistoryRecord is one line of the history log. Exactly one of the
// payload fields is set, discriminated by Kind.
type HistoryRecord struct {
	Kind       string           `json:"kind"` // "transition", "job", or "sample"
	Transition *TransitionEvent `json:"transition,omitempty"`
	Job        *JobEvent        `json:"job,omitempty"`
	Sample     *SnapshotSample  `json:"sample,omitempty"`
}

// SnapshotSample summarizes one applied snapshot: status counts per
// partition plus queue totals. One is logged per poll cycle, so the
// history can answer "how busy was the cluster at 3am" even when no
// node changed state.
type SnapshotSample struct {
	At          time.Time                           `json:"at"`
	Counts      map[string]map[slurm.NodeStatus]int `json:"counts"`
	FreeNodes   int                                 `json:"free_nodes"`
	TotalNodes  int                                 `json:"total_nodes"`
	TrackedJobs int                                 `json:"tracked_jobs"`
}

// HistoryLog is an append-only event log, one JSON object per line,
// rotated monthly. Appends are serialized; a write failure never corrupts
// previously written lines.
type HistoryLog struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	name string // currently open file name, for rotation checks
	now  func() time.Time
}

// OpenHistory creates the log directory if needed and returns a log
// rooted there. Files are opened lazily on first append.
func OpenHistory(dir string) (*HistoryLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore, "cannot create history directory", "")
	}
	return &HistoryLog{dir: dir, now: time.Now}, nil
}

// Append writes the given events and sample as individual lines,
// rotating to a new file when the month has rolled over since the last
// append. A nil sample is skipped.
func (h *HistoryLog) Append(transitions []TransitionEvent, jobs []JobEvent, sample *SnapshotSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.rotate(); err != nil {
		return err
	}

	w := bufio.NewWriter(h.file)
	enc := json.NewEncoder(w)
	for i := range transitions {
		if err := enc.Encode(HistoryRecord{Kind: "transition", Transition: &transitions[i]}); err != nil {
			return errors.WrapWithCode(err, errors.ErrStore, "history write failed", "")
		}
	}
	for i := range jobs {
		if err := enc.Encode(HistoryRecord{Kind: "job", Job: &jobs[i]}); err != nil {
			return errors.WrapWithCode(err, errors.ErrStore, "history write failed", "")
		}
	}
	if sample != nil {
		if err := enc.Encode(HistoryRecord{Kind: "sample", Sample: sample}); err != nil {
			return errors.WrapWithCode(err, errors.ErrStore, "history write failed", "")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.WrapWithCode(err, errors.ErrStore, "history flush failed", "")
	}
	return h.file.Sync()
}

// rotate opens the file for the current month, closing the previous one
// when the month changed.
func (h *HistoryLog) rotate() error {
	name := fmt.Sprintf(historyFilePattern, h.now().UTC().Format(historyMonthLayout))
	if h.file != nil && h.name == name {
		return nil
	}
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	f, err := os.OpenFile(filepath.Join(h.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrStore, "cannot open history file", "")
	}
	h.file = f
	h.name = name
	return nil
}

// Close flushes and closes the current file. Further appends reopen it.
func (h *HistoryLog) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	h.name = ""
	return err
}

// ReadRange loads all records whose timestamp falls in [from, to),
// walking every monthly file that could overlap the range. Lines that do
// not parse are skipped, not fatal: a torn final line from a crash must
// not make a whole month unreadable.
func (h *HistoryLog) ReadRange(from, to time.Time) ([]HistoryRecord, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore, "cannot read history directory", "")
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "history_") && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // YYYY_MM sorts chronologically

	var records []HistoryRecord
	for _, name := range names {
		if !monthOverlaps(name, from, to) {
			continue
		}
		recs, err := readHistoryFile(filepath.Join(h.dir, name), from, to)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func monthOverlaps(name string, from, to time.Time) bool {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "history_"), ".jsonl")
	start, err := time.Parse(historyMonthLayout, stamp)
	if err != nil {
		return false
	}
	end := start.AddDate(0, 1, 0)
	return start.Before(to) && end.After(from)
}

func readHistoryFile(path string, from, to time.Time) ([]HistoryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore, "cannot open history file", "")
	}
	defer f.Close()

	var records []HistoryRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec HistoryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		at := recordTime(rec)
		if at.IsZero() || at.Before(from) || !at.Before(to) {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore, "history read failed", "")
	}
	return records, nil
}

func recordTime(rec HistoryRecord) time.Time {
	switch {
	case rec.Transition != nil:
		return rec.Transition.At
	case rec.Job != nil:
		return rec.Job.At
	case rec.Sample != nil:
		return rec.Sample.At
	}
	return time.Time{}
}
