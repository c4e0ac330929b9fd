package store

// Store defines persistence for completed run records.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically writes the record for its RunID, replacing any
	// previous record.
	SaveRun(record *RunRecord) error

	// LoadRun returns the record for runID, or ErrNotFound.
	LoadRun(runID string) (*RunRecord, error)

	// ListRuns returns metadata for all stored runs. Unreadable records are
	// skipped.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the record and every artifact of the run, including
	// its trace. Returns ErrNotFound if the run doesn't exist.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
