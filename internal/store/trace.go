package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/gridrefine/internal/eval"
	"github.com/cwbudde/gridrefine/internal/opt"
)

// TraceEntry is one completed round, serialized as a JSON line in
// trace.jsonl.
type TraceEntry struct {
	Round       int               `json:"round"`
	BestValue   float64           `json:"bestValue"`
	Improved    bool              `json:"improved"`
	Best        []eval.Arg        `json:"best,omitempty"`
	Bounds      []opt.ParamBounds `json:"bounds"`
	Evaluations int               `json:"evaluations"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewTraceEntry converts a round result into a trace entry.
func NewTraceEntry(rr opt.RoundResult) TraceEntry {
	return TraceEntry{
		Round:       rr.Round,
		BestValue:   rr.BestValue,
		Improved:    rr.Improved,
		Best:        rr.Best,
		Bounds:      rr.Bounds,
		Evaluations: rr.Evaluations,
		Timestamp:   time.Now(),
	}
}

func tracePath(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID, "trace.jsonl")
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter creates the trace file at <baseDir>/runs/<runID>/trace.jsonl.
// If append is true, new entries are appended to an existing file.
func NewTraceWriter(baseDir, runID string, append bool) (*TraceWriter, error) {
	path := tracePath(baseDir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}, nil
}

// Write appends an entry. It is buffered until Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of runID.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	file, err := os.Open(tracePath(baseDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Read returns the next entry, or io.EOF.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads every remaining entry.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// TraceObserver records every finished round to a TraceWriter. Write
// failures are logged and do not stop the run.
type TraceObserver struct {
	opt.NopObserver
	writer *TraceWriter
	logger *slog.Logger
}

// NewTraceObserver wraps w. The caller owns w and must close it.
func NewTraceObserver(w *TraceWriter, logger *slog.Logger) *TraceObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceObserver{writer: w, logger: logger}
}

func (o *TraceObserver) RoundFinished(rr opt.RoundResult) {
	if err := o.writer.Write(NewTraceEntry(rr)); err != nil {
		o.logger.Warn("Failed to write trace entry", "round", rr.Round, "error", err)
		return
	}
	// Flush per round so a killed run keeps its completed rounds.
	if err := o.writer.Flush(); err != nil {
		o.logger.Warn("Failed to flush trace", "round", rr.Round, "error", err)
	}
}
