// File: internal/loop/loop_test.go
package loop

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
	"github.com/applyloop/applyloop/internal/planner"
	"github.com/applyloop/applyloop/internal/snapshot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type fakeDriver struct {
	captures   []*schemas.RawCapture
	captureIdx int
	navErr     error
	performed  []schemas.ConcreteAction
}

func (d *fakeDriver) Navigate(context.Context, string) error { return d.navErr }

func (d *fakeDriver) CapturePage(context.Context, bool) (*schemas.RawCapture, error) {
	if len(d.captures) == 0 {
		return nil, schemas.ErrSessionLost
	}
	idx := d.captureIdx
	if idx >= len(d.captures) {
		idx = len(d.captures) - 1
	}
	d.captureIdx++
	return d.captures[idx], nil
}

func (d *fakeDriver) Perform(_ context.Context, a schemas.ConcreteAction) error {
	d.performed = append(d.performed, a)
	return nil
}

func (d *fakeDriver) CurrentURL(context.Context) (string, error) { return "", nil }
func (d *fakeDriver) Close(context.Context) error                { return nil }

type scriptPlanner struct {
	plans []*planner.Plan
	errs  []error
	calls int
}

func (p *scriptPlanner) PlanNext(context.Context, *schemas.Snapshot, *schemas.SessionHistory) (*planner.Plan, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.plans) {
		idx = len(p.plans) - 1
	}
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	return p.plans[idx], nil
}

type scriptEscalator struct {
	plans []*planner.Plan
	err   error
	calls int
}

func (e *scriptEscalator) Recover(context.Context, *schemas.Snapshot, *schemas.SessionHistory) (*planner.Plan, error) {
	idx := e.calls
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if idx >= len(e.plans) {
		idx = len(e.plans) - 1
	}
	return e.plans[idx], nil
}

type execStep struct {
	outcomes []schemas.ActionOutcome
	post     *schemas.Snapshot
	err      error
}

type scriptExecutor struct {
	steps []execStep
	calls int
}

func (e *scriptExecutor) ExecuteBatch(_ context.Context, actions []schemas.Action, planned *schemas.Snapshot, iteration int) ([]schemas.ActionOutcome, *schemas.Snapshot, error) {
	idx := e.calls
	e.calls++
	if idx >= len(e.steps) {
		idx = len(e.steps) - 1
	}
	step := e.steps[idx]
	outcomes := step.outcomes
	if outcomes == nil {
		for _, a := range actions {
			outcomes = append(outcomes, schemas.ActionOutcome{Action: a, Success: true, Iteration: iteration})
		}
	}
	post := step.post
	if post == nil {
		post = planned
	}
	return outcomes, post, step.err
}

type memRecorder struct {
	mu      sync.Mutex
	results []schemas.AttemptResult
	hists   []*schemas.SessionHistory
}

func (r *memRecorder) Record(_ context.Context, result schemas.AttemptResult, hist *schemas.SessionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.hists = append(r.hists, hist)
	return nil
}

// -- Fixtures --

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Browser.ApplySelector = "button.jobs-apply-button"
	cfg.Browser.ApplyLabel = "Easy Apply"
	cfg.Loop = config.LoopConfig{
		MaxBatchSize:        5,
		HistoryTail:         10,
		StallThreshold:      3,
		GiveUpThreshold:     6,
		MaxIterations:       40,
		ConfirmationPhrases: []string{"application sent", "application submitted"},
	}
	return cfg
}

func jobPageCapture() *schemas.RawCapture {
	return &schemas.RawCapture{
		URL:         "https://jobs.example.com/view/1",
		VisibleText: "Backend Engineer at Example Corp",
		Elements: []schemas.RawElement{
			{Selector: "button.jobs-apply-button", Tag: "button", Label: "Easy Apply"},
		},
	}
}

func formPageCapture() *schemas.RawCapture {
	return &schemas.RawCapture{
		URL:         "https://jobs.example.com/apply/1",
		VisibleText: "Contact info First name",
		Elements: []schemas.RawElement{
			{Selector: "#first-name", Tag: "input", Type: "text", Label: "First name", Required: true},
			{Selector: "#next", Tag: "button", Label: "Next"},
		},
	}
}

func snapWith(fp, text string) *schemas.Snapshot {
	return &schemas.Snapshot{
		Fingerprint: fp,
		URL:         "https://jobs.example.com/apply/1",
		VisibleText: text,
		Elements: []schemas.Element{
			{ID: "e1", Role: schemas.RoleTextbox, Label: "First name", IsEnabled: true, Selector: "#first-name"},
			{ID: "e2", Role: schemas.RoleButton, Label: "Next", IsEnabled: true, Selector: "#next"},
		},
	}
}

func clickPlan() *planner.Plan {
	return &planner.Plan{Actions: []schemas.Action{{Type: schemas.ActionClick, ElementID: "e2"}}}
}

type loopFixture struct {
	driver    *fakeDriver
	planner   *scriptPlanner
	escalator *scriptEscalator
	executor  batchExecutor
	recorder  *memRecorder
	loop      *Loop
}

func newFixture(t *testing.T, driver *fakeDriver, p *scriptPlanner, e *scriptEscalator, x batchExecutor) *loopFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	recorder := &memRecorder{}
	builder := snapshot.NewBuilder(driver, logger)
	l := New(driver, builder, p, e, x, recorder, testConfig(), logger)
	return &loopFixture{driver: driver, planner: p, escalator: e, executor: x, recorder: recorder, loop: l}
}

func requireOneRecord(t *testing.T, f *loopFixture, result schemas.AttemptResult) {
	t.Helper()
	require.Len(t, f.recorder.results, 1, "exactly one record per attempt")
	assert.Equal(t, result.AttemptID, f.recorder.results[0].AttemptID)
	assert.Equal(t, result.Status, f.recorder.results[0].Status)
}

// -- Tests --

func TestRun_CompletesOnConfirmation(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{jobPageCapture(), formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-done", "Your application was sent to Example Corp. Application sent!")},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusCompleted, result.Status)
	assert.Empty(t, result.Reason)
	assert.Equal(t, 1, result.Iterations)
	assert.NotEmpty(t, result.AttemptID)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
	requireOneRecord(t, f, result)
	require.Len(t, f.recorder.hists, 1)
	assert.Len(t, f.recorder.hists[0].Outcomes, 1)
}

func TestRun_ClicksApplyTrigger(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{jobPageCapture(), formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-done", "application submitted")},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	require.NotEmpty(t, driver.performed)
	assert.Equal(t, schemas.ConcreteClick, driver.performed[0].Kind)
	assert.Equal(t, "button.jobs-apply-button", driver.performed[0].Selector)
}

func TestRun_FindsApplyTriggerBySelector(t *testing.T) {
	// The trigger matches the configured selector even though its label does
	// not mention applying at all.
	jobPage := jobPageCapture()
	jobPage.Elements = []schemas.RawElement{
		{Selector: "#share", Tag: "button", Label: "Share"},
		{Selector: "button.jobs-apply-button", Tag: "button", Label: "Solliciteren"},
	}

	driver := &fakeDriver{captures: []*schemas.RawCapture{jobPage, formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-done", "application submitted")},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	require.NotEmpty(t, driver.performed)
	assert.Equal(t, "button.jobs-apply-button", driver.performed[0].Selector)
}

func TestRun_NoApplyTriggerIsFine(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-done", "application submitted")},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")
	assert.Equal(t, schemas.StatusCompleted, result.Status)
	assert.Empty(t, driver.performed, "no trigger click when the page has no apply button")
}

func TestRun_StallEscalatesToRecovery(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	// The same fingerprint three times in a row trips the stall threshold;
	// the recovery plan then unsticks the page. The first iteration replaces
	// the job-page fingerprint, so the streak starts counting at the second.
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-stuck", "still here")},
		{post: snapWith("fp-stuck", "still here")},
		{post: snapWith("fp-stuck", "still here")},
		{post: snapWith("fp-stuck", "still here")},
		{post: snapWith("fp-done", "application sent")},
	}}
	e := &scriptEscalator{plans: []*planner.Plan{clickPlan()}}
	f := newFixture(t, driver, p, e, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusCompleted, result.Status)
	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, 1, e.calls, "recovery consulted exactly once after the stall")
	assert.Equal(t, 4, p.calls, "routine planner not used for the stalled iteration")
	requireOneRecord(t, f, result)
}

func TestRun_GivesUpAfterThreshold(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-stuck", "still here")},
	}}
	e := &scriptEscalator{plans: []*planner.Plan{clickPlan()}}
	f := newFixture(t, driver, p, e, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, schemas.ReasonExhausted, result.Reason)
	assert.Equal(t, 7, result.Iterations, "one iteration of progress onto the form, then six without")
	assert.GreaterOrEqual(t, e.calls, 1, "recovery was tried before giving up")
	requireOneRecord(t, f, result)
}

func TestRun_RecoveryAbortEndsAttempt(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-stuck", "login required to continue")},
	}}
	e := &scriptEscalator{plans: []*planner.Plan{
		{Actions: []schemas.Action{{Type: schemas.ActionAbort, Reason: "login wall"}}},
	}}
	f := newFixture(t, driver, p, e, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusAborted, result.Status)
	assert.Equal(t, "login wall", result.Reason)
	assert.Equal(t, 4, p.calls, "no further planner calls after the abort")
	requireOneRecord(t, f, result)
}

func TestRun_SessionLostFailsAttempt(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{
			outcomes: []schemas.ActionOutcome{{
				Action:    schemas.Action{Type: schemas.ActionClick, ElementID: "e2"},
				Success:   false,
				ErrorKind: schemas.ErrKindSessionLost,
				Iteration: 1,
			}},
			err: schemas.ErrSessionLost,
		},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, schemas.ReasonSessionLost, result.Reason)
	requireOneRecord(t, f, result)
	assert.Len(t, f.recorder.hists[0].Outcomes, 1, "the partial batch outcome is preserved")
}

func TestRun_MissingUploadSourceFailsAttempt(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{
		{Actions: []schemas.Action{{Type: schemas.ActionUploadFile, ElementID: "e1", Path: "/nonexistent/resume.pdf"}}},
	}}
	x := &scriptExecutor{steps: []execStep{
		{outcomes: []schemas.ActionOutcome{{
			Action:    schemas.Action{Type: schemas.ActionUploadFile, ElementID: "e1", Path: "/nonexistent/resume.pdf"},
			Success:   false,
			ErrorKind: schemas.ErrKindResourceMissing,
			Detail:    `upload source "/nonexistent/resume.pdf": no such file`,
			Iteration: 1,
		}}},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "upload source")
	assert.Equal(t, 1, result.Iterations, "a missing file ends the attempt immediately")
	requireOneRecord(t, f, result)
}

func TestRun_NavigationFailure(t *testing.T) {
	driver := &fakeDriver{navErr: fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")}
	f := newFixture(t, driver, &scriptPlanner{plans: []*planner.Plan{clickPlan()}}, &scriptEscalator{}, &scriptExecutor{steps: []execStep{{}}})

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "navigation failed")
	assert.Equal(t, 0, result.Iterations)
	requireOneRecord(t, f, result)
}

func TestRun_CancellationBeforeStart(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	f := newFixture(t, driver, &scriptPlanner{plans: []*planner.Plan{clickPlan()}}, &scriptEscalator{}, &scriptExecutor{steps: []execStep{{}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.loop.Run(ctx, "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusAborted, result.Status)
	assert.Equal(t, schemas.ReasonCancelled, result.Reason)
	requireOneRecord(t, f, result)
}

func TestRun_CancellationMidAttempt(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	ctx, cancel := context.WithCancel(context.Background())

	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-2", "step two")},
	}}
	// Cancel once the first batch has executed.
	cancelling := &cancelAfterExecutor{inner: x, cancel: cancel}
	f := newFixture(t, driver, p, &scriptEscalator{}, cancelling)

	result := f.loop.Run(ctx, "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusAborted, result.Status)
	assert.Equal(t, schemas.ReasonCancelled, result.Reason)
	requireOneRecord(t, f, result)
}

type cancelAfterExecutor struct {
	inner  *scriptExecutor
	cancel context.CancelFunc
}

func (c *cancelAfterExecutor) ExecuteBatch(ctx context.Context, actions []schemas.Action, planned *schemas.Snapshot, iteration int) ([]schemas.ActionOutcome, *schemas.Snapshot, error) {
	outcomes, post, err := c.inner.ExecuteBatch(ctx, actions, planned, iteration)
	c.cancel()
	return outcomes, post, err
}

func TestRun_PlannerFailureCountsTowardStall(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{
		plans: []*planner.Plan{nil},
		errs:  []error{planner.ErrInvalidResponse},
	}
	e := &scriptEscalator{err: schemas.ErrLLMUnavailable}
	f := newFixture(t, driver, p, e, &scriptExecutor{steps: []execStep{{}}})

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, schemas.ReasonExhausted, result.Reason)
	assert.Equal(t, 6, result.Iterations, "planning failures burn the stall budget, never spin forever")
	requireOneRecord(t, f, result)
	assert.NotEmpty(t, f.recorder.hists[0].Outcomes, "planning failures leave a trace in the history")
}

func TestRun_RejectedActionsLandInHistory(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	plan := clickPlan()
	plan.Rejected = []planner.Violation{
		{Action: schemas.Action{Type: schemas.ActionClick, ElementID: "e99"}, Reason: "element \"e99\" not present in snapshot"},
	}
	p := &scriptPlanner{plans: []*planner.Plan{plan}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-done", "application sent")},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	require.Len(t, f.recorder.hists, 1)
	outcomes := f.recorder.hists[0].Outcomes
	require.Len(t, outcomes, 2)
	assert.Equal(t, schemas.ErrKindValidation, outcomes[0].ErrorKind)
	assert.Equal(t, "e99", outcomes[0].Action.ElementID)
}

func TestRun_ConfirmationIsCaseInsensitive(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}
	x := &scriptExecutor{steps: []execStep{
		{post: snapWith("fp-done", "APPLICATION SUBMITTED successfully")},
	}}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")
	assert.Equal(t, schemas.StatusCompleted, result.Status)
}

func TestRun_MaxIterationsCap(t *testing.T) {
	driver := &fakeDriver{captures: []*schemas.RawCapture{formPageCapture()}}
	p := &scriptPlanner{plans: []*planner.Plan{clickPlan()}}

	// Every iteration progresses to a new fingerprint, so only the cap stops it.
	x := &progressingExecutor{}
	f := newFixture(t, driver, p, &scriptEscalator{}, x)

	start := time.Now()
	result := f.loop.Run(context.Background(), "https://jobs.example.com/view/1")

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, schemas.ReasonExhausted, result.Reason)
	assert.Equal(t, 40, result.Iterations)
	assert.Less(t, time.Since(start), 10*time.Second)
	requireOneRecord(t, f, result)
}

type progressingExecutor struct{ calls int }

func (e *progressingExecutor) ExecuteBatch(_ context.Context, actions []schemas.Action, _ *schemas.Snapshot, iteration int) ([]schemas.ActionOutcome, *schemas.Snapshot, error) {
	e.calls++
	outcomes := []schemas.ActionOutcome{{Action: actions[0], Success: true, Iteration: iteration}}
	return outcomes, snapWith(fmt.Sprintf("fp-%d", e.calls), "step"), nil
}
