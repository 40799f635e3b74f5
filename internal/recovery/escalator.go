// File: internal/recovery/escalator.go

// Package recovery handles stalled attempts: it escalates to the powerful
// model tier with the complete session history and a screenshot, and is the
// only tier allowed to abort an attempt outright.
package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
	"github.com/applyloop/applyloop/internal/llmutil"
	"github.com/applyloop/applyloop/internal/planner"
)

const recoverySystemPrompt = `You are the escalation assistant for an automated job application agent. The routine planner has made several attempts without the page changing; you see everything it saw plus a screenshot and its full action history.

Diagnose why the page is stuck. Common causes: a validation message near a field, a modal or cookie banner intercepting clicks, a required field the planner keeps missing, or the form already being complete.

Respond with a single JSON object: {"actions": [...], "rationale": "..."}

You may use the same actions as the planner (FILL_TEXT, SELECT_OPTION, CLICK, UPLOAD_FILE, WAIT_FOR_CHANGE, SUBMIT) and additionally:
  {"type": "ABORT", "reason": "..."}  - end the attempt; use this when the application cannot proceed (login wall, external redirect, the job is gone, or repeated identical failures).

Rules:
- Only reference element_id values present in the current page state.
- Do not repeat the exact action sequence that already failed.
- Prefer one decisive corrective action over a long batch.
- Respond with JSON only.`

// Escalator plans one recovery batch per stall. Stateless between calls.
type Escalator struct {
	llm     schemas.LLMClient
	profile schemas.ProfileProvider
	cfg     config.LoopConfig
	logger  *zap.Logger
}

// New creates an escalator.
func New(llm schemas.LLMClient, profile schemas.ProfileProvider, cfg config.LoopConfig, logger *zap.Logger) *Escalator {
	return &Escalator{
		llm:     llm,
		profile: profile,
		cfg:     cfg,
		logger:  logger.Named("recovery"),
	}
}

// Recover asks the powerful tier for a corrective batch. The snapshot should
// carry a screenshot; the full history travels with the prompt. The returned
// plan may consist of a single abort action.
func (e *Escalator) Recover(ctx context.Context, snap *schemas.Snapshot, hist *schemas.SessionHistory) (*planner.Plan, error) {
	callCtx := ctx
	if e.cfg.PlanTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.PlanTimeout)
		defer cancel()
	}

	req := schemas.GenerationRequest{
		SystemPrompt: recoverySystemPrompt,
		UserPrompt:   planner.BuildStatePrompt(snap, hist.Outcomes, e.profile, e.cfg.MaxBatchSize),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.4,
			ForceJSONFormat: true,
		},
	}
	if len(snap.Image) > 0 {
		req.Images = [][]byte{snap.Image}
	}

	e.logger.Info("Escalating stalled attempt to powerful tier",
		zap.String("attempt_id", hist.AttemptID),
		zap.Int("history_len", len(hist.Outcomes)),
		zap.Bool("with_screenshot", len(req.Images) > 0),
	)

	response, err := e.llm.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("recovery generation: %w", err)
	}

	batch, err := llmutil.ParseJSONResponse[schemas.ActionBatch](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", planner.ErrInvalidResponse, err)
	}

	valid, rejected, err := planner.ValidateBatch(batch, snap, e.cfg.MaxBatchSize, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", planner.ErrInvalidResponse, err)
	}
	for _, v := range rejected {
		e.logger.Warn("Rejected recovery action",
			zap.String("type", string(v.Action.Type)),
			zap.String("reason", v.Reason),
		)
	}

	return &planner.Plan{Actions: valid, Rationale: batch.Rationale, Rejected: rejected}, nil
}
