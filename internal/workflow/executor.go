package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/specflow/internal/artifacts"
	"github.com/joescharf/specflow/internal/generate"
	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/review"
)

// StageOutput is a persisted document and its reviews.
type StageOutput struct {
	Path      string
	Content   string
	Review    *models.ReviewResult
	Secondary *models.ReviewResult
}

// StageRunner produces the document stages of a workflow.
type StageRunner interface {
	CreateSpec(ctx context.Context, issue models.Issue) (*StageOutput, error)
	CreatePlan(ctx context.Context, issue models.Issue, specPath string) (*StageOutput, error)
	CreateTasks(ctx context.Context, issue models.Issue, planPath string) (*StageOutput, error)
}

// Executor generates, persists and reviews one document per call.
type Executor struct {
	artifacts artifacts.Store
	generator generate.Generator
	reviewer  review.Reviewer
	secondary review.Reviewer
	logger    *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSecondaryReviewer adds an advisory reviewer whose verdict is logged
// and returned but never gates the stage.
func WithSecondaryReviewer(r review.Reviewer) ExecutorOption {
	return func(e *Executor) { e.secondary = r }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor returns an Executor. The generator is expected to handle its
// own fallback (see generate.Fallback).
func NewExecutor(store artifacts.Store, gen generate.Generator, reviewer review.Reviewer, opts ...ExecutorOption) *Executor {
	e := &Executor{
		artifacts: store,
		generator: gen,
		reviewer:  reviewer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSpec drafts the spec from the issue. The review reference is the issue title.
func (e *Executor) CreateSpec(ctx context.Context, issue models.Issue) (*StageOutput, error) {
	return e.run(ctx, models.StageSpec, issue, "")
}

// CreatePlan drafts the plan from the spec at specPath, which is also the review reference.
func (e *Executor) CreatePlan(ctx context.Context, issue models.Issue, specPath string) (*StageOutput, error) {
	return e.run(ctx, models.StagePlan, issue, specPath)
}

// CreateTasks drafts the task list from the plan at planPath, which is also the review reference.
func (e *Executor) CreateTasks(ctx context.Context, issue models.Issue, planPath string) (*StageOutput, error) {
	return e.run(ctx, models.StageTasks, issue, planPath)
}

func (e *Executor) run(ctx context.Context, stage models.Stage, issue models.Issue, upstreamPath string) (*StageOutput, error) {
	docType, ok := stage.DocumentType()
	if !ok {
		return nil, fmt.Errorf("stage %s does not produce a document", stage)
	}
	log := e.logger.With("issue", issue.Number, "stage", stage)

	var upstream string
	if stage != models.StageSpec {
		if upstreamPath == "" {
			err := fmt.Errorf("%s stage requires the previous document", stage)
			log.Error("stage aborted", "error", err)
			return nil, err
		}
		text, err := e.artifacts.Read(upstreamPath)
		if err != nil {
			log.Error("read upstream document", "path", upstreamPath, "error", err)
			return nil, fmt.Errorf("read upstream: %w", err)
		}
		upstream = text
	}

	content, err := e.generator.Generate(ctx, generate.Request{Stage: stage, Issue: issue, Upstream: upstream})
	if err != nil {
		log.Error("generate document", "generator", e.generator.Name(), "error", err)
		return nil, fmt.Errorf("generate %s: %w", stage, err)
	}

	path, err := e.artifacts.Write(issue.Number, issue.Title, stage, content)
	if err != nil {
		log.Error("persist document", "error", err)
		return nil, fmt.Errorf("persist %s: %w", stage, err)
	}

	reference := upstream
	if stage == models.StageSpec {
		reference = issue.Title
	}

	out := &StageOutput{
		Path:    path,
		Content: content,
		Review:  e.reviewer.Review(ctx, content, docType, reference),
	}
	if out.Review == nil {
		out.Review = &models.ReviewResult{Comments: "reviewer returned no result"}
	}
	log.Info("document reviewed", "path", path, "status", out.Review.Status(), "score", out.Review.Score)

	if e.secondary != nil {
		out.Secondary = e.secondary.Review(ctx, content, docType, reference)
		if out.Secondary != nil {
			log.Info("secondary review", "status", out.Secondary.Status(), "score", out.Secondary.Score, "comments", out.Secondary.Comments)
		}
	}

	return out, nil
}
