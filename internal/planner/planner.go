// File: internal/planner/planner.go

// Package planner asks the fast model tier for the next bounded batch of
// actions and enforces the batch contract before anything reaches the
// executor.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
	"github.com/applyloop/applyloop/internal/llmutil"
)

// ErrInvalidResponse reports that the model kept producing unusable output
// after the retry budget was spent. Distinct from schemas.ErrLLMUnavailable,
// which means the model could not be reached at all.
var ErrInvalidResponse = errors.New("planner produced no usable action batch")

const defaultTemperature = 0.2

// Plan is a validated batch ready for execution, together with the actions
// that were proposed but rejected.
type Plan struct {
	Actions   []schemas.Action
	Rationale string
	Rejected  []Violation
}

// Planner plans one iteration at a time. Stateless between calls; all context
// travels in the snapshot and the history tail.
type Planner struct {
	llm            schemas.LLMClient
	profile        schemas.ProfileProvider
	cfg            config.LoopConfig
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

// New creates a planner.
func New(llm schemas.LLMClient, profile schemas.ProfileProvider, cfg config.LoopConfig, logger *zap.Logger) *Planner {
	return &Planner{
		llm:     llm,
		profile: profile,
		cfg:     cfg,
		logger:  logger.Named("planner"),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// PlanNext produces the next action batch for the snapshot. Malformed model
// output is retried up to the configured budget with a corrective note;
// transport failures are retried with backoff against the same budget before
// being surfaced for the caller to treat as a stall signal.
func (p *Planner) PlanNext(ctx context.Context, snap *schemas.Snapshot, hist *schemas.SessionHistory) (*Plan, error) {
	userPrompt := BuildStatePrompt(snap, hist.Tail(p.cfg.HistoryTail), p.profile, p.cfg.MaxBatchSize)

	var lastErr error
	for attempt := 0; attempt <= p.cfg.PlanRetries; attempt++ {
		prompt := userPrompt
		if lastErr != nil {
			prompt += fmt.Sprintf("\nYour previous response was rejected: %v\nRespond again with valid JSON only.\n", lastErr)
		}

		plan, err := p.planOnce(ctx, snap, prompt)
		if err == nil {
			return plan, nil
		}
		if errors.Is(err, schemas.ErrLLMUnavailable) || ctx.Err() != nil {
			return nil, err
		}

		p.logger.Warn("Discarding unusable planner response",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, lastErr)
}

func (p *Planner) planOnce(ctx context.Context, snap *schemas.Snapshot, userPrompt string) (*Plan, error) {
	response, err := p.generate(ctx, userPrompt)
	if err != nil {
		return nil, err
	}

	batch, err := llmutil.ParseJSONResponse[schemas.ActionBatch](response)
	if err != nil {
		return nil, err
	}

	valid, rejected, err := ValidateBatch(batch, snap, p.cfg.MaxBatchSize, false)
	if err != nil {
		return nil, err
	}
	for _, v := range rejected {
		p.logger.Warn("Rejected planned action",
			zap.String("type", string(v.Action.Type)),
			zap.String("element_id", v.Action.ElementID),
			zap.String("reason", v.Reason),
		)
	}

	return &Plan{Actions: valid, Rationale: batch.Rationale, Rejected: rejected}, nil
}

// generate calls the fast tier, retrying transport failures with backoff up
// to the configured cap. Each try gets its own plan timeout.
func (p *Planner) generate(ctx context.Context, userPrompt string) (string, error) {
	var response string

	operation := func() error {
		callCtx := ctx
		if p.cfg.PlanTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.cfg.PlanTimeout)
			defer cancel()
		}

		resp, err := p.llm.Generate(callCtx, schemas.GenerationRequest{
			SystemPrompt: plannerSystemPrompt,
			UserPrompt:   userPrompt,
			Tier:         schemas.TierFast,
			Options: schemas.GenerationOptions{
				Temperature:     defaultTemperature,
				ForceJSONFormat: true,
			},
		})
		if err != nil {
			if errors.Is(err, schemas.ErrLLMUnavailable) && ctx.Err() == nil {
				p.logger.Warn("Model unreachable, retrying with backoff", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		response = resp
		return nil
	}

	retries := uint64(0)
	if p.cfg.PlanRetries > 0 {
		retries = uint64(p.cfg.PlanRetries)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.backoffFactory(), retries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return "", err
	}
	return response, nil
}
