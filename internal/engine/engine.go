// File: internal/engine/engine.go

// Package engine fans a batch of job URLs out over a bounded worker pool.
// Each attempt gets its own browser session; the pacing limiter is shared so
// the pool as a whole stays under the configured request rate.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
)

// AttemptFunc runs one complete application attempt, owning the session it
// creates. It must always return a terminal result.
type AttemptFunc func(ctx context.Context, jobURL string) schemas.AttemptResult

// Deduper reports whether a job already has a completed application.
type Deduper interface {
	AlreadyApplied(jobURL string) bool
}

// Engine processes batches of job URLs.
type Engine struct {
	cfg     config.EngineConfig
	limiter *Limiter
	attempt AttemptFunc
	deduper Deduper
	logger  *zap.Logger
}

// New creates an engine around the shared limiter; pass nil to build a
// dedicated one from cfg. deduper may be nil to disable skip-on-applied.
func New(cfg config.EngineConfig, limiter *Limiter, attempt AttemptFunc, deduper Deduper, logger *zap.Logger) *Engine {
	if limiter == nil {
		limiter = NewLimiter(cfg)
	}
	return &Engine{
		cfg:     cfg,
		limiter: limiter,
		attempt: attempt,
		deduper: deduper,
		logger:  logger.Named("engine"),
	}
}

// ProcessBatch runs an attempt for every URL, at most Concurrency at a time,
// and returns one result per processed URL in completion order. URLs with a
// prior completed application are skipped. Cancellation drains cleanly: every
// started attempt still reports a terminal result.
func (e *Engine) ProcessBatch(ctx context.Context, jobURLs []string) []schemas.AttemptResult {
	var (
		mu      sync.Mutex
		results []schemas.AttemptResult
	)

	concurrency := e.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	started := time.Now()
	e.logger.Info("Processing job batch",
		zap.Int("jobs", len(jobURLs)),
		zap.Int("concurrency", concurrency),
	)

	for _, jobURL := range jobURLs {
		jobURL := jobURL
		if e.deduper != nil && e.deduper.AlreadyApplied(jobURL) {
			e.logger.Info("Skipping job with a completed application", zap.String("job_url", jobURL))
			continue
		}

		g.Go(func() error {
			if err := e.limiter.Acquire(gctx); err != nil {
				// Cancelled while waiting for a slot; the attempt still gets
				// its terminal cancelled result.
				e.logger.Debug("Pacing wait interrupted", zap.String("job_url", jobURL))
			}

			result := e.attempt(gctx, jobURL)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	e.logger.Info("Job batch finished",
		zap.Int("attempted", len(results)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return results
}

// Summarize tallies a batch by terminal status.
func Summarize(results []schemas.AttemptResult) map[schemas.AttemptStatus]int {
	counts := make(map[schemas.AttemptStatus]int, 3)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
