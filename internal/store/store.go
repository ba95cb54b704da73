package store

import (
	"context"
	"errors"

	"github.com/joescharf/specflow/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DecisionStore keeps human answers to approval requests, keyed by callback ID.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d *models.ApprovalDecision) error
	GetDecision(ctx context.Context, callbackID string) (*models.ApprovalDecision, error)
}

// RunLog is the audit trail of stage evaluations.
type RunLog interface {
	RecordStageRun(ctx context.Context, run *models.StageRun) error
	ListStageRuns(ctx context.Context, issueNumber int, limit int) ([]*models.StageRun, error)
}

// Store defines the persistence interface for specflow.
type Store interface {
	DecisionStore
	RunLog

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
