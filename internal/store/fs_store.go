package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore implements Store on the filesystem. Each run lives in
// <baseDir>/runs/<runID>/ next to its trace.
//
// Writes go through a temp file and rename, so concurrent callers never
// observe a partial record.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store, creating baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) runDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

func (fs *FSStore) recordPath(runID string) string {
	return filepath.Join(fs.runDir(runID), "run.json")
}

// SaveRun validates and atomically writes a run record.
func (fs *FSStore) SaveRun(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid run record: %w", err)
	}

	runDir := fs.runDir(record.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run record: %w", err)
	}

	finalPath := fs.recordPath(record.RunID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp run file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename run file: %w", err)
	}

	slog.Debug("Run saved", "run_id", record.RunID, "path", finalPath)
	return nil
}

// LoadRun reads the record for runID.
func (fs *FSStore) LoadRun(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.recordPath(runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize run record: %w", err)
	}

	slog.Debug("Run loaded", "run_id", runID, "path", path)
	return &record, nil
}

// ListRuns returns metadata for every readable run record.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		runID := entry.Name()
		if _, err := os.Stat(fs.recordPath(runID)); os.IsNotExist(err) {
			continue // trace only, or a run still in progress
		}

		record, err := fs.LoadRun(runID)
		if err != nil {
			slog.Warn("Failed to load run for listing", "run_id", runID, "error", err)
			continue
		}

		infos = append(infos, record.ToInfo())
	}

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory with all its artifacts.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.runDir(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "run_id", runID, "path", runDir)
	return nil
}
