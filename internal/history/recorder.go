// File: internal/history/recorder.go

// Package history persists one record per application attempt to an
// append-only JSONL file. The file doubles as the dedupe source: jobs with a
// completed record are not attempted again.
package history

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one JSONL line. Timestamps are UTC.
type Record struct {
	AttemptID  string                `json:"attempt_id"`
	JobURL     string                `json:"job_url"`
	Status     schemas.AttemptStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	Iterations int                   `json:"iterations"`
	Actions    int                   `json:"actions"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	RecordedAt time.Time             `json:"recorded_at"`
}

// FileRecorder implements schemas.HistoryRecorder over a JSONL file.
type FileRecorder struct {
	mu        sync.Mutex
	path      string
	logger    *zap.Logger
	completed map[string]struct{}
}

// NewFileRecorder opens (or creates) the history file at path and indexes
// previously completed job URLs.
func NewFileRecorder(path string, logger *zap.Logger) (*FileRecorder, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand history path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	r := &FileRecorder{
		path:      expanded,
		logger:    logger.Named("history"),
		completed: map[string]struct{}{},
	}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

// Record appends one line for the finished attempt. Exactly one call is made
// per attempt, so the file is a complete ledger of everything tried.
func (r *FileRecorder) Record(ctx context.Context, result schemas.AttemptResult, hist *schemas.SessionHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := Record{
		AttemptID:  result.AttemptID,
		JobURL:     result.JobURL,
		Status:     result.Status,
		Reason:     result.Reason,
		Iterations: result.Iterations,
		StartedAt:  result.StartedAt.UTC(),
		FinishedAt: result.FinishedAt.UTC(),
		RecordedAt: time.Now().UTC(),
	}
	if hist != nil {
		rec.Actions = len(hist.Outcomes)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}

	if result.Status == schemas.StatusCompleted {
		r.completed[result.JobURL] = struct{}{}
	}

	r.logger.Info("Attempt recorded",
		zap.String("attempt_id", result.AttemptID),
		zap.String("status", string(result.Status)),
		zap.Int("iterations", result.Iterations),
	)
	return nil
}

// AlreadyApplied reports whether a completed attempt exists for the URL.
func (r *FileRecorder) AlreadyApplied(jobURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.completed[jobURL]
	return ok
}

// loadIndex scans the existing file once at startup. Corrupt lines are
// skipped with a warning; a truncated tail must not brick the run.
func (r *FileRecorder) loadIndex() error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			r.logger.Warn("Skipping corrupt history line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if rec.Status == schemas.StatusCompleted {
			r.completed[rec.JobURL] = struct{}{}
		}
	}
	return scanner.Err()
}
