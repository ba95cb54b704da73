package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/agent"
	"github.com/joescharf/specflow/internal/metrics"
	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/notify"
)

// --- fakes ---

type fakeStages struct {
	mu       sync.Mutex
	reviews  map[models.Stage]*models.ReviewResult
	errs     map[models.Stage]error
	panicOn  models.Stage
	calls    []models.Stage
	upstream []string
	bodies   []string
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		reviews: map[models.Stage]*models.ReviewResult{},
		errs:    map[models.Stage]error{},
	}
}

func (f *fakeStages) produce(stage models.Stage, issue models.Issue, upstream string) (*StageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, stage)
	f.upstream = append(f.upstream, upstream)
	f.bodies = append(f.bodies, issue.Body)
	if f.panicOn == stage {
		panic("generator exploded")
	}
	if err := f.errs[stage]; err != nil {
		return nil, err
	}
	rv := f.reviews[stage]
	if rv == nil {
		rv = &models.ReviewResult{Approved: true, Score: 1, Comments: "all checks passed"}
	}
	return &StageOutput{
		Path:    fmt.Sprintf("specs/%d/%s.md", issue.Number, stage),
		Content: string(stage),
		Review:  rv,
	}, nil
}

func (f *fakeStages) CreateSpec(_ context.Context, issue models.Issue) (*StageOutput, error) {
	return f.produce(models.StageSpec, issue, "")
}

func (f *fakeStages) CreatePlan(_ context.Context, issue models.Issue, specPath string) (*StageOutput, error) {
	return f.produce(models.StagePlan, issue, specPath)
}

func (f *fakeStages) CreateTasks(_ context.Context, issue models.Issue, planPath string) (*StageOutput, error) {
	return f.produce(models.StageTasks, issue, planPath)
}

func (f *fakeStages) Calls() []models.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Stage(nil), f.calls...)
}

type fakeRunner struct {
	result    *agent.Result
	err       error
	calls     int
	tasksPath string
}

func (r *fakeRunner) Run(_ context.Context, tasksPath string, _ int) (*agent.Result, error) {
	r.calls++
	r.tasksPath = tasksPath
	return r.result, r.err
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []models.StageRun
}

func (r *fakeRecorder) RecordStageRun(_ context.Context, run *models.StageRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

type fakeCommenter struct {
	bodies map[int][]string
}

func (c *fakeCommenter) AddComment(_ context.Context, number int, body string) error {
	if c.bodies == nil {
		c.bodies = map[int][]string{}
	}
	c.bodies[number] = append(c.bodies[number], body)
	return nil
}

func successRunner() *fakeRunner {
	return &fakeRunner{result: &agent.Result{Status: models.ImplementationSuccess, CompletedCount: 3, TotalCount: 3}}
}

func plainMessages(msgs []notify.Message) []notify.Message {
	var out []notify.Message
	for _, m := range msgs {
		if m.Approval == nil {
			out = append(out, m)
		}
	}
	return out
}

func approvals(msgs []notify.Message) []notify.ApprovalRequest {
	var out []notify.ApprovalRequest
	for _, m := range msgs {
		if m.Approval != nil {
			out = append(out, *m.Approval)
		}
	}
	return out
}

var issue42 = models.Issue{Number: 42, Title: "Add login page", Body: "Users need to sign in with email."}

// --- StartWorkflow ---

func TestStartWorkflow_AutoAdvanceHeldAtPlan(t *testing.T) {
	stages := newFakeStages()
	rec := &notify.Recorder{}
	o := NewOrchestrator(stages, successRunner(), rec, WithPolicy(AutoAdvance{Hold: []models.Stage{models.StagePlan}}))

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, "#team"))

	state, ok := o.Status(42)
	require.True(t, ok)
	assert.Equal(t, models.StagePlan, state.CurrentStage)
	assert.Equal(t, models.ApprovalPending, state.ApprovalStatus)
	assert.Equal(t, "specs/42/spec.md", state.SpecPath)
	assert.Equal(t, "specs/42/plan.md", state.PlanPath)
	assert.Equal(t, []models.Stage{models.StageSpec, models.StagePlan}, stages.Calls())
	assert.Equal(t, "specs/42/spec.md", stages.upstream[1])

	msgs := rec.Messages()
	assert.Len(t, plainMessages(msgs), 2)
	reqs := approvals(msgs)
	require.Len(t, reqs, 1)
	assert.Equal(t, "issue-42-plan", reqs[0].CallbackID)
	for _, m := range msgs {
		assert.Equal(t, "#team", m.Channel)
	}
}

func TestStartWorkflow_FullPipeline(t *testing.T) {
	stages := newFakeStages()
	runner := successRunner()
	rec := &notify.Recorder{}
	runs := &fakeRecorder{}
	o := NewOrchestrator(stages, runner, rec, WithRecorder(runs))

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.StageImplementation, state.CurrentStage)
	assert.Equal(t, models.ApprovalApproved, state.ApprovalStatus)
	assert.Equal(t, models.ImplementationSuccess, state.ImplementationStatus)
	assert.Equal(t, 3, state.CompletedTasks)
	assert.Equal(t, "specs/42/tasks.md", runner.tasksPath)
	assert.True(t, state.Finished())

	msgs := rec.Messages()
	require.Len(t, msgs, 4, "one notification per stage outcome")
	assert.Empty(t, approvals(msgs))
	assert.Equal(t, DefaultChannel, msgs[0].Channel)
	assert.Contains(t, msgs[3].Text, "Implementation complete")

	require.Len(t, runs.runs, 4)
	assert.Equal(t, models.StageSpec, runs.runs[0].Stage)
	assert.True(t, runs.runs[0].Approved)
	assert.Equal(t, models.StageImplementation, runs.runs[3].Stage)
}

func TestStartWorkflow_SpecRejected(t *testing.T) {
	stages := newFakeStages()
	stages.reviews[models.StageSpec] = &models.ReviewResult{Approved: false, Score: 0.5, Comments: "Spec review: 2/4 checks passed"}
	rec := &notify.Recorder{}
	o := NewOrchestrator(stages, successRunner(), rec)

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.StageSpec, state.CurrentStage)
	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Equal(t, "Spec review: 2/4 checks passed", state.ErrorMessage)
	assert.Equal(t, "specs/42/spec.md", state.SpecPath)
	assert.Equal(t, []models.Stage{models.StageSpec}, stages.Calls())

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "❌ REJECTED")
	assert.Contains(t, msgs[0].Text, "*Score*: 0.50")
}

func TestStartWorkflow_GenerationFailure(t *testing.T) {
	stages := newFakeStages()
	stages.errs[models.StageSpec] = errors.New("disk full")
	rec := &notify.Recorder{}
	o := NewOrchestrator(stages, successRunner(), rec)

	err := o.StartWorkflow(context.Background(), issue42, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	state, _ := o.Status(42)
	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Contains(t, state.ErrorMessage, "disk full")
	assert.Empty(t, state.SpecPath)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Spec failed")
}

func TestStartWorkflow_PanicRecovered(t *testing.T) {
	stages := newFakeStages()
	stages.panicOn = models.StagePlan
	rec := &notify.Recorder{}
	runs := &fakeRecorder{}
	o := NewOrchestrator(stages, successRunner(), rec, WithRecorder(runs))

	var err error
	require.NotPanics(t, func() {
		err = o.StartWorkflow(context.Background(), issue42, "")
	})
	require.Error(t, err)

	state, _ := o.Status(42)
	assert.Equal(t, models.StagePlan, state.CurrentStage)
	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Contains(t, state.ErrorMessage, "generator exploded")

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Text, "Spec")
	assert.Contains(t, msgs[1].Text, "Plan failed - Issue #42")
	assert.Contains(t, msgs[1].Text, "generator exploded")

	require.Len(t, runs.runs, 2)
	assert.Equal(t, models.StagePlan, runs.runs[1].Stage)
	assert.Contains(t, runs.runs[1].Error, "panicked")
}

func TestStartWorkflow_ManualOnlyHoldsSpec(t *testing.T) {
	stages := newFakeStages()
	rec := &notify.Recorder{}
	o := NewOrchestrator(stages, successRunner(), rec, WithPolicy(ManualOnly{}))

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.StageSpec, state.CurrentStage)
	assert.Equal(t, models.ApprovalPending, state.ApprovalStatus)
	reqs := approvals(rec.Messages())
	require.Len(t, reqs, 1)
	assert.Equal(t, "issue-42-spec", reqs[0].CallbackID)
}

func TestStartWorkflow_RestartReplacesState(t *testing.T) {
	stages := newFakeStages()
	stages.reviews[models.StageSpec] = &models.ReviewResult{Comments: "bad"}
	o := NewOrchestrator(stages, successRunner(), &notify.Recorder{}, WithPolicy(ManualOnly{}))
	ctx := context.Background()

	require.NoError(t, o.StartWorkflow(ctx, issue42, ""))
	state, _ := o.Status(42)
	require.Equal(t, models.ApprovalRejected, state.ApprovalStatus)

	stages.reviews[models.StageSpec] = nil
	require.NoError(t, o.StartWorkflow(ctx, issue42, ""))
	state, _ = o.Status(42)
	assert.Equal(t, models.ApprovalPending, state.ApprovalStatus)
	assert.Empty(t, state.ErrorMessage)
	assert.Len(t, o.List(), 1)
}

func TestStartWorkflow_NotificationFailureDoesNotStopPipeline(t *testing.T) {
	rec := &notify.Recorder{Err: errors.New("slack down")}
	o := NewOrchestrator(newFakeStages(), successRunner(), rec)

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.ImplementationSuccess, state.ImplementationStatus)
}

func TestStartWorkflow_CommentsOnIssue(t *testing.T) {
	comments := &fakeCommenter{}
	o := NewOrchestrator(newFakeStages(), successRunner(), &notify.Recorder{}, WithCommenter(comments))

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))
	assert.Len(t, comments.bodies[42], 4)
}

func TestStartWorkflow_Metrics(t *testing.T) {
	m := metrics.InitMetrics(prometheus.NewRegistry())
	stages := newFakeStages()
	stages.reviews[models.StageTasks] = &models.ReviewResult{Score: 0.4, Comments: "thin"}
	o := NewOrchestrator(stages, successRunner(), &notify.Recorder{}, WithMetrics(m))

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRunsTotal.WithLabelValues("spec", metrics.OutcomeApproved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRunsTotal.WithLabelValues("tasks", metrics.OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowsTracked))
}

func TestStartWorkflow_ConcurrentIssues(t *testing.T) {
	stages := newFakeStages()
	o := NewOrchestrator(stages, nil, &notify.Recorder{})

	var wg sync.WaitGroup
	for n := 1; n <= 5; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, o.StartWorkflow(context.Background(), models.Issue{Number: n, Title: "t"}, ""))
		}(n)
	}
	wg.Wait()

	list := o.List()
	require.Len(t, list, 5)
	for _, s := range list {
		assert.Equal(t, models.ImplementationSkipped, s.ImplementationStatus)
	}
}

// --- Implementation outcomes ---

func TestImplementation_SkippedIsSuccess(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Status: models.ImplementationSkipped, Message: "goose CLI not available"}}
	rec := &notify.Recorder{}
	o := NewOrchestrator(newFakeStages(), runner, rec)

	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.StageImplementation, state.CurrentStage)
	assert.Equal(t, models.ImplementationSkipped, state.ImplementationStatus)
	assert.Equal(t, 0, state.CompletedTasks)
	assert.NotEqual(t, models.ApprovalRejected, state.ApprovalStatus)

	msgs := rec.Messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "goose CLI not available")
}

func TestImplementation_FailedRejects(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Status: models.ImplementationFailed, CompletedCount: 1, FailedTask: "T002", Message: "T002 failed: exit status 1"}}
	o := NewOrchestrator(newFakeStages(), runner, &notify.Recorder{})

	err := o.StartWorkflow(context.Background(), issue42, "")
	require.Error(t, err)

	state, _ := o.Status(42)
	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Equal(t, "T002 failed: exit status 1", state.ErrorMessage)
	assert.Equal(t, models.ImplementationFailed, state.ImplementationStatus)
	assert.Equal(t, 1, state.CompletedTasks)
}

func TestImplementation_RunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("tasks file missing")}
	o := NewOrchestrator(newFakeStages(), runner, &notify.Recorder{})

	err := o.StartWorkflow(context.Background(), issue42, "")
	require.Error(t, err)

	state, _ := o.Status(42)
	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Contains(t, state.ErrorMessage, "tasks file missing")
}

// --- ApproveAndContinue ---

func TestApproveAndContinue_RunsNextStage(t *testing.T) {
	stages := newFakeStages()
	rec := &notify.Recorder{}
	o := NewOrchestrator(stages, successRunner(), rec,
		WithPolicy(AutoAdvance{Hold: []models.Stage{models.StagePlan, models.StageTasks}}))
	ctx := context.Background()

	require.NoError(t, o.StartWorkflow(ctx, issue42, ""))
	require.NoError(t, o.ApproveAndContinue(ctx, 42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.StageTasks, state.CurrentStage)
	assert.Equal(t, models.ApprovalPending, state.ApprovalStatus)
	assert.Equal(t, "specs/42/tasks.md", state.TasksPath)
	assert.Equal(t, "specs/42/plan.md", stages.upstream[2])
	assert.Equal(t, []string{issue42.Body, issue42.Body, issue42.Body}, stages.bodies)

	reqs := approvals(rec.Messages())
	require.Len(t, reqs, 2)
	assert.Equal(t, "issue-42-tasks", reqs[1].CallbackID)

	require.NoError(t, o.ApproveAndContinue(ctx, 42, ""))
	state, _ = o.Status(42)
	assert.Equal(t, models.ImplementationSuccess, state.ImplementationStatus)
}

func TestApproveAndContinue_AfterRejection(t *testing.T) {
	stages := newFakeStages()
	stages.reviews[models.StageSpec] = &models.ReviewResult{Score: 0.25, Comments: "weak"}
	o := NewOrchestrator(stages, successRunner(), &notify.Recorder{}, WithPolicy(ManualOnly{}))
	ctx := context.Background()

	require.NoError(t, o.StartWorkflow(ctx, issue42, ""))
	require.NoError(t, o.ApproveAndContinue(ctx, 42, ""))

	state, _ := o.Status(42)
	assert.Equal(t, models.StagePlan, state.CurrentStage)
	assert.Equal(t, models.ApprovalPending, state.ApprovalStatus)
	assert.Empty(t, state.ErrorMessage)
}

func TestApproveAndContinue_TerminalIsNoop(t *testing.T) {
	stages := newFakeStages()
	runner := successRunner()
	o := NewOrchestrator(stages, runner, &notify.Recorder{})
	ctx := context.Background()

	require.NoError(t, o.StartWorkflow(ctx, issue42, ""))
	require.NoError(t, o.ApproveAndContinue(ctx, 42, ""))

	assert.Equal(t, 1, runner.calls)
	assert.Len(t, stages.Calls(), 3)
	state, _ := o.Status(42)
	assert.Equal(t, models.StageImplementation, state.CurrentStage)
}

func TestApproveAndContinue_NotFound(t *testing.T) {
	o := NewOrchestrator(newFakeStages(), successRunner(), &notify.Recorder{})

	err := o.ApproveAndContinue(context.Background(), 7, "")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

// --- Reject ---

func TestReject_NotFoundHasNoSideEffects(t *testing.T) {
	rec := &notify.Recorder{}
	runs := &fakeRecorder{}
	o := NewOrchestrator(newFakeStages(), successRunner(), rec, WithRecorder(runs))

	err := o.Reject(context.Background(), 42, "needs rework")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, ok := o.Status(42)
	assert.False(t, ok)
	assert.Empty(t, o.List())
	assert.Empty(t, rec.Messages())
	assert.Empty(t, runs.runs)
}

func TestReject_MarksCurrentStage(t *testing.T) {
	stages := newFakeStages()
	runs := &fakeRecorder{}
	o := NewOrchestrator(stages, successRunner(), &notify.Recorder{},
		WithPolicy(ManualOnly{}), WithRecorder(runs))
	ctx := context.Background()

	require.NoError(t, o.StartWorkflow(ctx, issue42, ""))
	require.NoError(t, o.Reject(ctx, 42, "needs rework"))

	state, _ := o.Status(42)
	assert.Equal(t, models.StageSpec, state.CurrentStage)
	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Equal(t, "needs rework", state.ErrorMessage)
	assert.Len(t, stages.Calls(), 1, "reject must not run stages")

	last := runs.runs[len(runs.runs)-1]
	assert.Equal(t, "rejected: needs rework", last.Error)
}

// --- Prune ---

func TestPrune_KeepsRecent(t *testing.T) {
	o := NewOrchestrator(newFakeStages(), successRunner(), &notify.Recorder{})
	require.NoError(t, o.StartWorkflow(context.Background(), issue42, ""))

	assert.Equal(t, 0, o.Prune(time.Hour))
	assert.Equal(t, 1, o.Prune(-time.Second))
	assert.Empty(t, o.List())
}
