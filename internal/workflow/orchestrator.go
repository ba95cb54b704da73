package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/specflow/internal/agent"
	"github.com/joescharf/specflow/internal/metrics"
	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/notify"
)

// ErrWorkflowNotFound is returned when no workflow exists for an issue.
var ErrWorkflowNotFound = errors.New("workflow not found")

// DefaultChannel is used when neither the caller nor config names a channel.
const DefaultChannel = "#dev-team"

// RunRecorder persists the audit trail of stage evaluations.
type RunRecorder interface {
	RecordStageRun(ctx context.Context, run *models.StageRun) error
}

// Commenter posts stage outcomes back onto the tracked issue.
type Commenter interface {
	AddComment(ctx context.Context, number int, body string) error
}

// Orchestrator drives issues through spec, plan, tasks and implementation.
type Orchestrator struct {
	stages   StageRunner
	runner   agent.Runner
	notifier notify.Notifier
	policy   AdvancePolicy
	registry *Registry

	recorder  RunRecorder
	commenter Commenter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	channel   string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the advance policy. The default advances every approved stage.
func WithPolicy(p AdvancePolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithRegistry shares an existing registry.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithRecorder records every stage evaluation.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithCommenter comments each stage outcome on the issue.
func WithCommenter(c Commenter) Option {
	return func(o *Orchestrator) { o.commenter = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDefaultChannel sets the channel used when a call passes "".
func WithDefaultChannel(ch string) Option {
	return func(o *Orchestrator) { o.channel = ch }
}

// NewOrchestrator wires the stage runner, coding agent and notifier.
func NewOrchestrator(stages StageRunner, runner agent.Runner, notifier notify.Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stages:   stages,
		runner:   runner,
		notifier: notifier,
		policy:   AutoAdvance{},
		logger:   slog.Default(),
		channel:  DefaultChannel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	return o
}

// Registry exposes the workflow registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// StartWorkflow creates a fresh workflow for issue and runs it until it
// completes or halts. An existing workflow for the same issue is replaced.
// A rejected review is a normal outcome and returns nil.
func (o *Orchestrator) StartWorkflow(ctx context.Context, issue models.Issue, channel string) error {
	unlock := o.registry.Lock(issue.Number)
	defer unlock()

	o.registry.Put(models.NewWorkflowState(issue))
	o.metrics.SetWorkflowsTracked(o.registry.Len())
	o.logger.Info("workflow started", "issue", issue.Number, "title", issue.Title)

	return o.drive(ctx, issue, o.channelOr(channel))
}

// ApproveAndContinue approves the current stage, advances and runs the next
// stage. Approving at the terminal stage is a no-op.
func (o *Orchestrator) ApproveAndContinue(ctx context.Context, issueNumber int, channel string) error {
	unlock := o.registry.Lock(issueNumber)
	defer unlock()

	state, ok := o.registry.Get(issueNumber)
	if !ok {
		return fmt.Errorf("issue #%d: %w", issueNumber, ErrWorkflowNotFound)
	}

	var advanced bool
	o.registry.Update(issueNumber, func(s *models.WorkflowState) {
		s.Approve()
		advanced = s.Advance()
	})
	if !advanced {
		o.logger.Info("final stage approved", "issue", issueNumber)
		return nil
	}

	return o.drive(ctx, state.Issue(), o.channelOr(channel))
}

// Reject marks the current stage rejected without running anything.
func (o *Orchestrator) Reject(ctx context.Context, issueNumber int, reason string) error {
	unlock := o.registry.Lock(issueNumber)
	defer unlock()

	var stage models.Stage
	found := o.registry.Update(issueNumber, func(s *models.WorkflowState) {
		stage = s.CurrentStage
		s.Reject(reason)
	})
	if !found {
		return fmt.Errorf("issue #%d: %w", issueNumber, ErrWorkflowNotFound)
	}

	o.logger.Info("stage rejected", "issue", issueNumber, "stage", stage, "reason", reason)
	o.record(ctx, &models.StageRun{IssueNumber: issueNumber, Stage: stage, Error: "rejected: " + reason})
	return nil
}

// Status returns a snapshot of the issue's workflow.
func (o *Orchestrator) Status(issueNumber int) (models.WorkflowState, bool) {
	return o.registry.Get(issueNumber)
}

// List returns snapshots of every tracked workflow.
func (o *Orchestrator) List() []models.WorkflowState {
	return o.registry.List()
}

// Prune evicts finished workflows older than retention.
func (o *Orchestrator) Prune(retention time.Duration) int {
	n := o.registry.Prune(retention)
	o.metrics.SetWorkflowsTracked(o.registry.Len())
	if n > 0 {
		o.logger.Info("pruned workflows", "count", n)
	}
	return n
}

func (o *Orchestrator) channelOr(ch string) string {
	if ch != "" {
		return ch
	}
	return o.channel
}

// drive runs stages from the current one until the workflow halts. The
// caller holds the issue lock.
func (o *Orchestrator) drive(ctx context.Context, issue models.Issue, channel string) (err error) {
	var stage models.Stage
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("%s stage panicked: %v", stage, r)
			o.logger.Error("stage panic recovered", "issue", issue.Number, "stage", stage, "panic", r)
			o.registry.Update(issue.Number, func(s *models.WorkflowState) { s.Reject(reason) })
			o.record(ctx, &models.StageRun{IssueNumber: issue.Number, Stage: stage, Error: reason})
			o.metrics.RecordStage(string(stage), metrics.OutcomeFailed, time.Since(start))
			o.sendRecovered(ctx, issue.Number, channel, stageFailedMessage(stage, issue, reason))
			err = fmt.Errorf("issue #%d: %s", issue.Number, reason)
		}
	}()

	for {
		state, ok := o.registry.Get(issue.Number)
		if !ok {
			return fmt.Errorf("issue #%d: %w", issue.Number, ErrWorkflowNotFound)
		}
		stage = state.CurrentStage
		start = time.Now()

		switch stage {
		case models.StageSpec, models.StagePlan, models.StageTasks:
			advanced, err := o.runDocumentStage(ctx, issue, state, channel)
			if err != nil || !advanced {
				return err
			}
		case models.StageImplementation:
			return o.runImplementation(ctx, issue, state, channel)
		default:
			return fmt.Errorf("issue #%d: no handler for stage %s", issue.Number, stage)
		}
	}
}

// runDocumentStage produces and reviews one document. advanced reports
// whether the workflow moved to the next stage.
func (o *Orchestrator) runDocumentStage(ctx context.Context, issue models.Issue, state models.WorkflowState, channel string) (advanced bool, err error) {
	stage := state.CurrentStage
	start := time.Now()

	var out *StageOutput
	switch stage {
	case models.StageSpec:
		out, err = o.stages.CreateSpec(ctx, issue)
	case models.StagePlan:
		out, err = o.stages.CreatePlan(ctx, issue, state.SpecPath)
	case models.StageTasks:
		out, err = o.stages.CreateTasks(ctx, issue, state.PlanPath)
	}
	if err == nil && out == nil {
		err = errors.New("no document produced")
	}
	if err != nil {
		reason := fmt.Sprintf("%s generation failed: %v", stage, err)
		o.registry.Update(issue.Number, func(s *models.WorkflowState) { s.Reject(reason) })
		o.record(ctx, &models.StageRun{IssueNumber: issue.Number, Stage: stage, Error: reason})
		o.metrics.RecordStage(string(stage), metrics.OutcomeFailed, time.Since(start))
		o.send(ctx, issue.Number, channel, stageFailedMessage(stage, issue, reason))
		return false, fmt.Errorf("issue #%d %s stage: %w", issue.Number, stage, err)
	}

	rv := out.Review
	o.registry.Update(issue.Number, func(s *models.WorkflowState) { s.SetArtifact(stage, out.Path) })
	o.record(ctx, &models.StageRun{
		IssueNumber:  issue.Number,
		Stage:        stage,
		Approved:     rv.Approved,
		Score:        rv.Score,
		Comments:     rv.Comments,
		ArtifactPath: out.Path,
	})
	o.metrics.RecordReviewScore(string(stage), rv.Score)
	o.send(ctx, issue.Number, channel, stageMessage(stage, issue, rv, out.Path))

	log := o.logger.With("issue", issue.Number, "stage", stage, "score", rv.Score)

	if !rv.Approved {
		o.registry.Update(issue.Number, func(s *models.WorkflowState) { s.Reject(rv.Comments) })
		o.metrics.RecordStage(string(stage), metrics.OutcomeRejected, time.Since(start))
		log.Info("review rejected")
		return false, nil
	}

	if o.policy.ShouldAdvance(stage, rv) {
		o.registry.Update(issue.Number, func(s *models.WorkflowState) {
			s.Approve()
			advanced = s.Advance()
		})
		o.metrics.RecordStage(string(stage), metrics.OutcomeApproved, time.Since(start))
		log.Info("review passed, advancing")
		return advanced, nil
	}

	o.metrics.RecordStage(string(stage), metrics.OutcomeHeld, time.Since(start))
	log.Info("review passed, awaiting approval")
	o.requestApproval(ctx, channel, stage, issue, rv, out.Path)
	return false, nil
}

func (o *Orchestrator) runImplementation(ctx context.Context, issue models.Issue, state models.WorkflowState, channel string) error {
	start := time.Now()
	stage := models.StageImplementation

	res, err := o.runAgent(ctx, state)
	if err != nil {
		reason := fmt.Sprintf("implementation failed: %v", err)
		o.registry.Update(issue.Number, func(s *models.WorkflowState) {
			s.SetImplementation(models.ImplementationFailed, 0)
			s.Reject(reason)
		})
		o.record(ctx, &models.StageRun{IssueNumber: issue.Number, Stage: stage, Error: reason})
		o.metrics.RecordStage(string(stage), metrics.OutcomeFailed, time.Since(start))
		o.send(ctx, issue.Number, channel, stageFailedMessage(stage, issue, reason))
		return fmt.Errorf("issue #%d implementation: %w", issue.Number, err)
	}

	run := &models.StageRun{IssueNumber: issue.Number, Stage: stage, Comments: res.Message}
	var outcome string
	switch res.Status {
	case models.ImplementationSuccess:
		o.registry.Update(issue.Number, func(s *models.WorkflowState) {
			s.SetImplementation(models.ImplementationSuccess, res.CompletedCount)
			s.Approve()
		})
		run.Approved = true
		outcome = metrics.OutcomeApproved
	case models.ImplementationSkipped:
		o.registry.Update(issue.Number, func(s *models.WorkflowState) {
			s.SetImplementation(models.ImplementationSkipped, 0)
		})
		outcome = metrics.OutcomeSkipped
	default:
		reason := implementationFailure(res)
		o.registry.Update(issue.Number, func(s *models.WorkflowState) {
			s.SetImplementation(models.ImplementationFailed, res.CompletedCount)
			s.Reject(reason)
		})
		run.Error = reason
		outcome = metrics.OutcomeFailed
		err = fmt.Errorf("issue #%d implementation: %s", issue.Number, reason)
	}

	o.record(ctx, run)
	o.metrics.RecordStage(string(stage), outcome, time.Since(start))
	o.send(ctx, issue.Number, channel, implementationMessage(issue, res))
	o.logger.Info("implementation finished", "issue", issue.Number, "status", res.Status, "completed", res.CompletedCount)
	return err
}

func (o *Orchestrator) runAgent(ctx context.Context, state models.WorkflowState) (*agent.Result, error) {
	if o.runner == nil {
		return &agent.Result{Status: models.ImplementationSkipped, Message: "no coding agent configured"}, nil
	}
	res, err := o.runner.Run(ctx, state.TasksPath, state.IssueNumber)
	if err == nil && res == nil {
		err = errors.New("coding agent returned no result")
	}
	return res, err
}

// send delivers the single notification for a stage outcome. Delivery
// failures are logged and never fail the stage.
func (o *Orchestrator) send(ctx context.Context, issue int, channel, text string) {
	if err := o.notifier.SendMessage(ctx, channel, text); err != nil {
		o.logger.Warn("send notification", "issue", issue, "channel", channel, "error", err)
	}
	if o.commenter != nil {
		if err := o.commenter.AddComment(ctx, issue, text); err != nil {
			o.logger.Warn("comment on issue", "issue", issue, "error", err)
		}
	}
}

// sendRecovered sends a failure notice from a recover branch, where a
// second panic from the notifier must not escape.
func (o *Orchestrator) sendRecovered(ctx context.Context, issue int, channel, text string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("failure notification panicked", "issue", issue, "panic", r)
		}
	}()
	o.send(ctx, issue, channel, text)
}

func (o *Orchestrator) requestApproval(ctx context.Context, channel string, stage models.Stage, issue models.Issue, rv *models.ReviewResult, path string) {
	req := notify.ApprovalRequest{
		Phase:       stageLabel(stage),
		Title:       fmt.Sprintf("%s ready for approval - Issue #%d", stageLabel(stage), issue.Number),
		Description: fmt.Sprintf("*%s*\nScore: %.2f\nFile: `%s`", issue.Title, rv.Score, path),
		CallbackID:  CallbackID(issue.Number, stage),
	}
	if _, err := o.notifier.RequestApproval(ctx, channel, req); err != nil {
		o.logger.Warn("request approval", "issue", issue.Number, "stage", stage, "error", err)
		return
	}
	o.metrics.RecordApprovalRequest()
}

func (o *Orchestrator) record(ctx context.Context, run *models.StageRun) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordStageRun(ctx, run); err != nil {
		o.logger.Warn("record stage run", "issue", run.IssueNumber, "stage", run.Stage, "error", err)
	}
}
