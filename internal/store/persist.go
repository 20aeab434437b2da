package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"github.com/slurmwatch/slurmwatch/internal/slurm"
)

// jobStateFile persists the tracked-user job set between runs. Without
// it, every restart would re-announce jobs that were already running.
type jobStateFile struct {
	path string
}

func (f *jobStateFile) load() ([]slurm.JobRecord, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore, "cannot read job state file", "")
	}
	var jobs []slurm.JobRecord
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore, "job state file is corrupt", "")
	}
	return jobs, nil
}

// save writes atomically: temp file in the same directory, then rename.
// A crash mid-write leaves the previous state intact.
func (f *jobStateFile) save(jobs []slurm.JobRecord) error {
	if jobs == nil {
		jobs = []slurm.JobRecord{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrStore, "cannot encode job state", "")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrStore, "cannot create state directory", "")
	}
	tmp, err := os.CreateTemp(dir, ".job_state-*.json")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrStore, "cannot create temp state file", "")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WrapWithCode(err, errors.ErrStore, "cannot write job state", "")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapWithCode(err, errors.ErrStore, "cannot write job state", "")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapWithCode(err, errors.ErrStore, "cannot replace job state file", "")
	}
	return nil
}
