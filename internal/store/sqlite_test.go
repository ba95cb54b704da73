package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Approval decisions ---

func TestDecisionSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.ApprovalDecision{
		CallbackID: "issue-42-plan",
		Decision:   models.DecisionApproved,
		Actor:      "U123",
	}
	require.NoError(t, s.SaveDecision(ctx, d))
	assert.False(t, d.DecidedAt.IsZero(), "decided_at should be stamped")

	got, err := s.GetDecision(ctx, "issue-42-plan")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, got.Decision)
	assert.Equal(t, "U123", got.Actor)
	assert.WithinDuration(t, d.DecidedAt, got.DecidedAt, time.Second)
}

func TestDecisionSave_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDecision(ctx, &models.ApprovalDecision{CallbackID: "cb", Decision: models.DecisionApproved}))
	require.NoError(t, s.SaveDecision(ctx, &models.ApprovalDecision{CallbackID: "cb", Decision: models.DecisionRejected, Actor: "U9"}))

	got, err := s.GetDecision(ctx, "cb")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, got.Decision)
	assert.Equal(t, "U9", got.Actor)
}

func TestDecisionGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDecision(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Stage runs ---

func TestStageRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &models.StageRun{
		IssueNumber:  7,
		Stage:        models.StageSpec,
		Approved:     true,
		Score:        0.8,
		Comments:     "Spec review: 4/5 checks passed",
		ArtifactPath: "specs/007-x/spec.md",
		CreatedAt:    base,
	}
	second := &models.StageRun{
		IssueNumber: 7,
		Stage:       models.StagePlan,
		Score:       0.4,
		Error:       "review rejected",
		CreatedAt:   base.Add(time.Minute),
	}
	other := &models.StageRun{IssueNumber: 8, Stage: models.StageSpec}

	require.NoError(t, s.RecordStageRun(ctx, first))
	require.NoError(t, s.RecordStageRun(ctx, second))
	require.NoError(t, s.RecordStageRun(ctx, other))
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, other.CreatedAt.IsZero())

	runs, err := s.ListStageRuns(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.StageSpec, runs[0].Stage)
	assert.True(t, runs[0].Approved)
	assert.InDelta(t, 0.8, runs[0].Score, 0.0001)
	assert.Equal(t, "specs/007-x/spec.md", runs[0].ArtifactPath)
	assert.Equal(t, models.StagePlan, runs[1].Stage)
	assert.False(t, runs[1].Approved)
	assert.Equal(t, "review rejected", runs[1].Error)

	limited, err := s.ListStageRuns(ctx, 7, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListStageRuns(ctx, 99, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
