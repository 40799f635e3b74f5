// File: internal/executor/executor.go

// Package executor carries validated action batches out against the live
// browser, in order, failing fast on the first error. It re-reads the page
// before the first action and between actions so each one is checked against
// reality at execution time, not against the snapshot it was planned from.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
	"github.com/applyloop/applyloop/internal/snapshot"
)

const (
	defaultWaitTimeout = 5 * time.Second
	waitPollInterval   = 250 * time.Millisecond
)

// Executor runs one batch per call. It never invents actions and never
// reorders or retries them; a failed action ends the batch and the remainder
// is discarded.
type Executor struct {
	driver  schemas.BrowserDriver
	builder *snapshot.Builder
	cfg     config.LoopConfig
	logger  *zap.Logger
}

// New creates an executor over the driver. The builder is used for the
// between-action page re-reads.
func New(driver schemas.BrowserDriver, builder *snapshot.Builder, cfg config.LoopConfig, logger *zap.Logger) *Executor {
	return &Executor{
		driver:  driver,
		builder: builder,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

// ExecuteBatch runs the actions in order against the page the batch was
// planned from. It returns one outcome per attempted action and the snapshot
// taken after the last attempted action. The error return is non-nil only for
// terminal conditions (lost session, cancelled context); ordinary action
// failures are reported through the outcomes.
func (e *Executor) ExecuteBatch(ctx context.Context, actions []schemas.Action, planned *schemas.Snapshot, iteration int) ([]schemas.ActionOutcome, *schemas.Snapshot, error) {
	outcomes := make([]schemas.ActionOutcome, 0, len(actions))
	if err := ctx.Err(); err != nil {
		return outcomes, planned, err
	}

	// The page may have changed during the model call. Re-read it up front so
	// the first action is checked against the live page, not the snapshot the
	// batch was planned from.
	current := planned
	if fresh, err := e.builder.Capture(ctx, false); err == nil {
		current = fresh
	} else if errors.Is(err, schemas.ErrSessionLost) {
		return outcomes, planned, err
	}

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return outcomes, current, err
		}

		outcome := schemas.ActionOutcome{
			Action:    action,
			Iteration: iteration,
			Timestamp: time.Now().UTC(),
		}

		err := e.executeOne(ctx, action, planned, current)

		// Re-read the page after every attempt so the outcome records the
		// fingerprint the action actually produced.
		fresh, capErr := e.builder.Capture(ctx, false)
		if capErr == nil {
			current = fresh
			outcome.NewFingerprint = fresh.Fingerprint
		} else if errors.Is(capErr, schemas.ErrSessionLost) {
			outcome.Success = false
			outcome.ErrorKind = schemas.ErrKindSessionLost
			outcome.Detail = capErr.Error()
			return append(outcomes, outcome), current, capErr
		}

		if err != nil {
			outcome.Success = false
			outcome.ErrorKind = classify(err)
			outcome.Detail = err.Error()
			outcomes = append(outcomes, outcome)

			e.logger.Warn("Action failed, discarding rest of batch",
				zap.String("type", string(action.Type)),
				zap.String("element_id", action.ElementID),
				zap.String("error_kind", string(outcome.ErrorKind)),
				zap.Int("discarded", len(actions)-i-1),
				zap.Error(err),
			)

			if errors.Is(err, schemas.ErrSessionLost) {
				return outcomes, current, err
			}
			return outcomes, current, nil
		}

		outcome.Success = true
		outcomes = append(outcomes, outcome)
	}

	return outcomes, current, nil
}

// executeOne performs a single action under the per-action timeout. planned
// is the snapshot the batch was validated against; current is the latest
// re-read, used to confirm the target element still exists and is enabled.
func (e *Executor) executeOne(ctx context.Context, action schemas.Action, planned, current *schemas.Snapshot) error {
	timeout := e.cfg.ActionTimeout
	if action.Type == schemas.ActionWaitForChange {
		timeout = defaultWaitTimeout
		if action.TimeoutMs > 0 {
			timeout = time.Duration(action.TimeoutMs) * time.Millisecond
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch action.Type {
	case schemas.ActionWaitForChange:
		return e.waitForChange(ctx, current.Fingerprint)

	case schemas.ActionUploadFile:
		if _, err := os.Stat(action.Path); err != nil {
			return &actionError{kind: schemas.ErrKindResourceMissing,
				msg: fmt.Sprintf("upload source %q: %v", action.Path, err)}
		}
	}

	el, err := e.resolveLive(action, planned, current)
	if err != nil {
		return err
	}

	concrete, err := translate(action, el)
	if err != nil {
		return err
	}

	if err := e.driver.Perform(ctx, concrete); err != nil {
		if errors.Is(err, schemas.ErrSessionLost) {
			return err
		}
		if ctx.Err() == context.DeadlineExceeded {
			return &actionError{kind: schemas.ErrKindTimeout,
				msg: fmt.Sprintf("action %s on %s timed out after %s", action.Type, action.ElementID, timeout)}
		}
		return fmt.Errorf("driver: %w", err)
	}
	return nil
}

// resolveLive maps the planned element onto the current page. Identity is the
// selector: element ids are positional and may shift between captures.
func (e *Executor) resolveLive(action schemas.Action, planned, current *schemas.Snapshot) (schemas.Element, error) {
	plannedEl, ok := planned.ElementByID(action.ElementID)
	if !ok {
		return schemas.Element{}, &actionError{kind: schemas.ErrKindElementNotFound,
			msg: fmt.Sprintf("element %q missing from planned snapshot", action.ElementID)}
	}

	for _, el := range current.Elements {
		if el.Selector == plannedEl.Selector {
			if !el.IsEnabled {
				return schemas.Element{}, &actionError{kind: schemas.ErrKindElementDisabled,
					msg: fmt.Sprintf("element %q (%s) became disabled", action.ElementID, el.Selector)}
			}
			return el, nil
		}
	}
	return schemas.Element{}, &actionError{kind: schemas.ErrKindElementNotFound,
		msg: fmt.Sprintf("element %q (%s) no longer on the page", action.ElementID, plannedEl.Selector)}
}

// waitForChange polls until the page fingerprint moves away from the given
// one. The surrounding context carries the deadline.
func (e *Executor) waitForChange(ctx context.Context, fromFingerprint string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &actionError{kind: schemas.ErrKindTimeout, msg: "page did not change before the wait deadline"}
			}
			return ctx.Err()
		case <-ticker.C:
			snap, err := e.builder.Capture(ctx, false)
			if err != nil {
				if errors.Is(err, schemas.ErrSessionLost) {
					return err
				}
				continue
			}
			if snap.Fingerprint != fromFingerprint {
				return nil
			}
		}
	}
}

// translate resolves an abstract action into a driver call.
func translate(action schemas.Action, el schemas.Element) (schemas.ConcreteAction, error) {
	switch action.Type {
	case schemas.ActionFillText:
		return schemas.ConcreteAction{Kind: schemas.ConcreteFill, Selector: el.Selector, Value: action.Value}, nil
	case schemas.ActionSelectOption:
		return schemas.ConcreteAction{Kind: schemas.ConcreteSelect, Selector: el.Selector, Value: action.Value}, nil
	case schemas.ActionClick, schemas.ActionSubmit:
		return schemas.ConcreteAction{Kind: schemas.ConcreteClick, Selector: el.Selector}, nil
	case schemas.ActionUploadFile:
		return schemas.ConcreteAction{Kind: schemas.ConcreteUpload, Selector: el.Selector, Path: action.Path}, nil
	default:
		return schemas.ConcreteAction{}, &actionError{kind: schemas.ErrKindValidation,
			msg: fmt.Sprintf("action type %q has no driver translation", action.Type)}
	}
}

// actionError carries a structured kind through the error return.
type actionError struct {
	kind schemas.ErrorKind
	msg  string
}

func (e *actionError) Error() string { return e.msg }

// classify maps an execution error onto the outcome vocabulary.
func classify(err error) schemas.ErrorKind {
	var ae *actionError
	if errors.As(err, &ae) {
		return ae.kind
	}
	if errors.Is(err, schemas.ErrSessionLost) {
		return schemas.ErrKindSessionLost
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.ErrKindTimeout
	}
	return schemas.ErrKindDriverFailure
}
