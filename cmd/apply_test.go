// File: cmd/apply_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/history"
)

func TestRecordLaunchFailure_LandsInHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applied.jsonl")
	logger := zaptest.NewLogger(t)
	recorder, err := history.NewFileRecorder(path, logger)
	require.NoError(t, err)

	result := recordLaunchFailure(context.Background(), recorder, logger,
		"https://jobs.example.com/view/1", errors.New("chrome executable not found"))

	assert.NotEmpty(t, result.AttemptID)
	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "browser launch failed")
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), result.AttemptID)
	assert.Contains(t, string(data), "chrome executable not found")
}

func TestRecordLaunchFailure_SurvivesCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applied.jsonl")
	logger := zaptest.NewLogger(t)
	recorder, err := history.NewFileRecorder(path, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := recordLaunchFailure(ctx, recorder, logger,
		"https://jobs.example.com/view/2", errors.New("launch timeout"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), result.AttemptID,
		"cancellation must not lose the ledger entry")
}
