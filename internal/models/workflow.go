package models

import (
	"fmt"
	"time"
)

// Stage is a step of the document pipeline. Stages are totally ordered.
type Stage string

const (
	StageConstitution   Stage = "constitution"
	StageSpec           Stage = "spec"
	StagePlan           Stage = "plan"
	StageTasks          Stage = "tasks"
	StageImplementation Stage = "implementation"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageConstitution, StageSpec, StagePlan, StageTasks, StageImplementation}

// Index returns the position of s in the pipeline, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage. ok is false at the terminal stage.
func (s Stage) Next() (next Stage, ok bool) {
	i := s.Index()
	if i < 0 || i >= len(Stages)-1 {
		return s, false
	}
	return Stages[i+1], true
}

// Terminal reports whether s is the last stage.
func (s Stage) Terminal() bool {
	return s == StageImplementation
}

// DocumentType maps a document-producing stage to its review checklist.
func (s Stage) DocumentType() (DocumentType, bool) {
	switch s {
	case StageSpec:
		return DocumentSpec, true
	case StagePlan:
		return DocumentPlan, true
	case StageTasks:
		return DocumentTasks, true
	}
	return "", false
}

// ParseStage converts a string to a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if s.Index() < 0 {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

// ApprovalStatus is the gate status of the current stage.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Implementation outcomes reported by the coding agent.
const (
	ImplementationSuccess = "success"
	ImplementationFailed  = "failed"
	ImplementationSkipped = "skipped"
)

// WorkflowState is the per-issue record of pipeline progress.
type WorkflowState struct {
	IssueNumber          int            `json:"issue_number"`
	IssueTitle           string         `json:"issue_title"`
	CurrentStage         Stage          `json:"current_stage"`
	ApprovalStatus       ApprovalStatus `json:"approval_status"`
	SpecPath             string         `json:"spec_path,omitempty"`
	PlanPath             string         `json:"plan_path,omitempty"`
	TasksPath            string         `json:"tasks_path,omitempty"`
	ImplementationStatus string         `json:"implementation_status,omitempty"`
	CompletedTasks       int            `json:"completed_tasks,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`

	// source is the full issue the workflow was started from.
	source Issue
}

// NewWorkflowState returns a state positioned at the spec stage.
func NewWorkflowState(issue Issue) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		IssueNumber:    issue.Number,
		IssueTitle:     issue.Title,
		CurrentStage:   StageSpec,
		ApprovalStatus: ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		source:         issue.clone(),
	}
}

func (w *WorkflowState) touch() {
	w.UpdatedAt = time.Now().UTC()
}

// Advance moves to the next stage and resets approval to pending.
// It returns false and leaves the state untouched at the terminal stage.
func (w *WorkflowState) Advance() bool {
	next, ok := w.CurrentStage.Next()
	if !ok {
		return false
	}
	w.CurrentStage = next
	w.ApprovalStatus = ApprovalPending
	w.touch()
	return true
}

// Approve marks the current stage approved and clears any earlier
// rejection reason. It does not advance.
func (w *WorkflowState) Approve() {
	w.ApprovalStatus = ApprovalApproved
	w.ErrorMessage = ""
	w.touch()
}

// Reject marks the current stage rejected with reason, whatever the prior status.
func (w *WorkflowState) Reject(reason string) {
	w.ApprovalStatus = ApprovalRejected
	w.ErrorMessage = reason
	w.touch()
}

// SetArtifact records the persisted document path for a document stage.
func (w *WorkflowState) SetArtifact(stage Stage, path string) {
	switch stage {
	case StageSpec:
		w.SpecPath = path
	case StagePlan:
		w.PlanPath = path
	case StageTasks:
		w.TasksPath = path
	default:
		return
	}
	w.touch()
}

// SetImplementation records the coding agent outcome.
func (w *WorkflowState) SetImplementation(status string, completed int) {
	w.ImplementationStatus = status
	w.CompletedTasks = completed
	w.touch()
}

// Issue returns the issue the workflow was started from, body included.
// States decoded from JSON only carry the number and title.
func (w *WorkflowState) Issue() Issue {
	if w.source.Number == w.IssueNumber && w.source.Title != "" {
		return w.source.clone()
	}
	return Issue{Number: w.IssueNumber, Title: w.IssueTitle}
}

// Finished reports whether no further automatic progress is possible.
func (w *WorkflowState) Finished() bool {
	return w.ApprovalStatus == ApprovalRejected ||
		(w.CurrentStage.Terminal() && w.ImplementationStatus != "")
}

// Snapshot returns a value copy safe to read without holding the issue lock.
func (w *WorkflowState) Snapshot() WorkflowState {
	return *w
}
