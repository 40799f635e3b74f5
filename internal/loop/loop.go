// File: internal/loop/loop.go

// Package loop runs one application attempt end to end: observe the page,
// plan a batch, execute it, evaluate progress, repeat. Every attempt ends in
// exactly one terminal result, which is recorded before Run returns.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
	"github.com/applyloop/applyloop/internal/planner"
	"github.com/applyloop/applyloop/internal/snapshot"
	"github.com/applyloop/applyloop/internal/stall"
)

// batchPlanner is the routine planning tier.
type batchPlanner interface {
	PlanNext(ctx context.Context, snap *schemas.Snapshot, hist *schemas.SessionHistory) (*planner.Plan, error)
}

// batchEscalator is the recovery tier consulted on stalls.
type batchEscalator interface {
	Recover(ctx context.Context, snap *schemas.Snapshot, hist *schemas.SessionHistory) (*planner.Plan, error)
}

// batchExecutor carries validated actions out against the browser.
type batchExecutor interface {
	ExecuteBatch(ctx context.Context, actions []schemas.Action, planned *schemas.Snapshot, iteration int) ([]schemas.ActionOutcome, *schemas.Snapshot, error)
}

// Loop drives a single attempt. One Loop instance per attempt; it owns the
// session history and hands it to the recorder exactly once.
type Loop struct {
	driver    schemas.BrowserDriver
	builder   *snapshot.Builder
	planner   batchPlanner
	escalator batchEscalator
	executor  batchExecutor
	recorder  schemas.HistoryRecorder
	cfg       config.Config
	logger    *zap.Logger
}

// New wires a loop from its collaborators.
func New(
	driver schemas.BrowserDriver,
	builder *snapshot.Builder,
	batchPlanner batchPlanner,
	escalator batchEscalator,
	executor batchExecutor,
	recorder schemas.HistoryRecorder,
	cfg config.Config,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		driver:    driver,
		builder:   builder,
		planner:   batchPlanner,
		escalator: escalator,
		executor:  executor,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.Named("loop"),
	}
}

// Run executes one application attempt against the job URL. It always returns
// a terminal result; infrastructure failures are folded into it rather than
// surfaced as errors. The result is recorded even when ctx is cancelled.
func (l *Loop) Run(ctx context.Context, jobURL string) schemas.AttemptResult {
	attemptID := uuid.NewString()
	hist := &schemas.SessionHistory{AttemptID: attemptID, JobURL: jobURL}
	startedAt := time.Now().UTC()
	logger := l.logger.With(zap.String("attempt_id", attemptID), zap.String("job_url", jobURL))

	iterations := 0
	finish := func(status schemas.AttemptStatus, reason string) schemas.AttemptResult {
		result := schemas.AttemptResult{
			AttemptID:  attemptID,
			JobURL:     jobURL,
			Status:     status,
			Reason:     reason,
			Iterations: iterations,
			StartedAt:  startedAt,
			FinishedAt: time.Now().UTC(),
		}
		logger.Info("Attempt finished",
			zap.String("status", string(status)),
			zap.String("reason", reason),
			zap.Int("iterations", iterations),
		)
		// Recording must survive the cancellation that ended the attempt.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := l.recorder.Record(recordCtx, result, hist); err != nil {
			logger.Error("Failed to record attempt", zap.Error(err))
		}
		return result
	}

	if err := ctx.Err(); err != nil {
		return finish(schemas.StatusAborted, schemas.ReasonCancelled)
	}

	logger.Info("Starting application attempt")
	if err := l.driver.Navigate(ctx, jobURL); err != nil {
		if ctx.Err() != nil {
			return finish(schemas.StatusAborted, schemas.ReasonCancelled)
		}
		if errors.Is(err, schemas.ErrSessionLost) {
			return finish(schemas.StatusFailed, schemas.ReasonSessionLost)
		}
		return finish(schemas.StatusFailed, fmt.Sprintf("navigation failed: %v", err))
	}

	snap, err := l.builder.Capture(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return finish(schemas.StatusAborted, schemas.ReasonCancelled)
		}
		if errors.Is(err, schemas.ErrSessionLost) {
			return finish(schemas.StatusFailed, schemas.ReasonSessionLost)
		}
		return finish(schemas.StatusFailed, fmt.Sprintf("initial capture failed: %v", err))
	}

	snap = l.openApplyFlow(ctx, snap, logger)

	detector := stall.NewDetector(snap.Fingerprint, l.cfg.Loop, l.logger)
	stalled := false

	for {
		if ctx.Err() != nil {
			return finish(schemas.StatusAborted, schemas.ReasonCancelled)
		}
		if l.confirmed(snap) {
			return finish(schemas.StatusCompleted, "")
		}
		iterations++

		plan, planErr := l.plan(ctx, snap, hist, stalled)
		if planErr != nil {
			if ctx.Err() != nil {
				return finish(schemas.StatusAborted, schemas.ReasonCancelled)
			}
			logger.Warn("Planning failed, counting iteration as stalled", zap.Error(planErr))
			hist.Append(schemas.ActionOutcome{
				Action:    schemas.Action{Type: schemas.ActionWaitForChange},
				Success:   false,
				ErrorKind: schemas.ErrKindValidation,
				Detail:    fmt.Sprintf("planning failed: %v", planErr),
				Iteration: iterations,
				Timestamp: time.Now().UTC(),
			})
			switch detector.Observe(false, snap.Fingerprint, iterations) {
			case stall.GiveUp:
				return finish(schemas.StatusFailed, schemas.ReasonExhausted)
			case stall.Stalled:
				stalled = true
			}
			continue
		}

		// Rejected actions still leave a trace in the history, so the model
		// sees its own validation failures next iteration.
		for _, v := range plan.Rejected {
			hist.Append(schemas.ActionOutcome{
				Action:    v.Action,
				Success:   false,
				ErrorKind: schemas.ErrKindValidation,
				Detail:    v.Reason,
				Iteration: iterations,
				Timestamp: time.Now().UTC(),
			})
		}

		if abort, reason := abortRequested(plan.Actions); abort {
			return finish(schemas.StatusAborted, reason)
		}

		outcomes, post, execErr := l.executor.ExecuteBatch(ctx, plan.Actions, snap, iterations)
		hist.Append(outcomes...)
		if post != nil {
			snap = post
		}
		if execErr != nil {
			if errors.Is(execErr, schemas.ErrSessionLost) {
				return finish(schemas.StatusFailed, schemas.ReasonSessionLost)
			}
			return finish(schemas.StatusAborted, schemas.ReasonCancelled)
		}

		// A missing upload source cannot be fixed by more iterations.
		for _, o := range outcomes {
			if o.ErrorKind == schemas.ErrKindResourceMissing {
				return finish(schemas.StatusFailed, o.Detail)
			}
		}

		if l.confirmed(snap) {
			return finish(schemas.StatusCompleted, "")
		}

		switch detector.Observe(anySucceeded(outcomes), snap.Fingerprint, iterations) {
		case stall.GiveUp:
			return finish(schemas.StatusFailed, schemas.ReasonExhausted)
		case stall.Stalled:
			stalled = true
		case stall.Progressing:
			stalled = false
		}
	}
}

// plan selects the tier: the recovery escalator when stalled (with a fresh
// screenshot for it), the routine planner otherwise.
func (l *Loop) plan(ctx context.Context, snap *schemas.Snapshot, hist *schemas.SessionHistory, stalled bool) (*planner.Plan, error) {
	if !stalled {
		return l.planner.PlanNext(ctx, snap, hist)
	}

	withImage := snap
	if fresh, err := l.builder.Capture(ctx, true); err == nil {
		withImage = fresh
	}
	return l.escalator.Recover(ctx, withImage, hist)
}

// openApplyFlow clicks the apply trigger when the job page shows one. Not
// finding the trigger is fine: the form may already be open.
func (l *Loop) openApplyFlow(ctx context.Context, snap *schemas.Snapshot, logger *zap.Logger) *schemas.Snapshot {
	el, ok := l.findApplyTrigger(snap)
	if !ok {
		return snap
	}

	logger.Info("Clicking apply trigger",
		zap.String("selector", el.Selector), zap.String("label", el.Label))
	err := l.driver.Perform(ctx, schemas.ConcreteAction{Kind: schemas.ConcreteClick, Selector: el.Selector})
	if err != nil {
		logger.Warn("Apply trigger click failed", zap.Error(err))
		return snap
	}
	if fresh, err := l.builder.Capture(ctx, false); err == nil {
		return fresh
	}
	return snap
}

// findApplyTrigger locates the apply entry point: the configured CSS selector
// first, then any enabled button whose label matches.
func (l *Loop) findApplyTrigger(snap *schemas.Snapshot) (schemas.Element, bool) {
	if sel := l.cfg.Browser.ApplySelector; sel != "" {
		for _, el := range snap.Elements {
			if el.Selector == sel && el.IsEnabled {
				return el, true
			}
		}
	}

	label := strings.ToLower(l.cfg.Browser.ApplyLabel)
	if label == "" {
		return schemas.Element{}, false
	}
	for _, el := range snap.Elements {
		if el.Role != schemas.RoleButton || !el.IsEnabled {
			continue
		}
		if strings.Contains(strings.ToLower(el.Label), label) {
			return el, true
		}
	}
	return schemas.Element{}, false
}

// confirmed reports whether the page shows one of the configured submission
// confirmation phrases. Matching is case-insensitive over normalized text.
func (l *Loop) confirmed(snap *schemas.Snapshot) bool {
	text := strings.ToLower(snap.VisibleText)
	for _, phrase := range l.cfg.Loop.ConfirmationPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// anySucceeded reports whether at least one action of the batch landed.
func anySucceeded(outcomes []schemas.ActionOutcome) bool {
	for _, o := range outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

// abortRequested scans a plan for an abort action. Anything planned after the
// abort is irrelevant.
func abortRequested(actions []schemas.Action) (bool, string) {
	for _, a := range actions {
		if a.Type == schemas.ActionAbort {
			reason := a.Reason
			if reason == "" {
				reason = "aborted by recovery model"
			}
			return true, reason
		}
	}
	return false, ""
}
