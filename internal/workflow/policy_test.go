package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/models"
)

func TestAutoAdvance(t *testing.T) {
	pass := &models.ReviewResult{Approved: true, Score: 1}
	fail := &models.ReviewResult{Approved: false, Score: 0.2}

	p := AutoAdvance{}
	assert.True(t, p.ShouldAdvance(models.StageSpec, pass))
	assert.False(t, p.ShouldAdvance(models.StageSpec, fail))
	assert.False(t, p.ShouldAdvance(models.StageSpec, nil))

	held := AutoAdvance{Hold: []models.Stage{models.StagePlan}}
	assert.True(t, held.ShouldAdvance(models.StageSpec, pass))
	assert.False(t, held.ShouldAdvance(models.StagePlan, pass))
}

func TestManualOnly(t *testing.T) {
	assert.False(t, ManualOnly{}.ShouldAdvance(models.StageSpec, &models.ReviewResult{Approved: true, Score: 1}))
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(false, []string{"plan"})
	require.NoError(t, err)
	assert.IsType(t, ManualOnly{}, p)

	p, err = NewPolicy(true, []string{"plan", "tasks"})
	require.NoError(t, err)
	assert.Equal(t, AutoAdvance{Hold: []models.Stage{models.StagePlan, models.StageTasks}}, p)

	_, err = NewPolicy(true, []string{"review"})
	assert.Error(t, err)
}
