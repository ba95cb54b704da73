package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/specflow/internal/agent"
	"github.com/joescharf/specflow/internal/models"
)

func TestCallbackID_RoundTrip(t *testing.T) {
	id := CallbackID(42, models.StagePlan)
	assert.Equal(t, "issue-42-plan", id)

	n, stage, ok := ParseCallbackID(id)
	assert.True(t, ok)
	assert.Equal(t, 42, n)
	assert.Equal(t, models.StagePlan, stage)
}

func TestParseCallbackID_Invalid(t *testing.T) {
	for _, id := range []string{"", "deploy-1", "issue-x-plan", "issue-0-spec", "issue-7", "issue-7-review"} {
		_, _, ok := ParseCallbackID(id)
		assert.False(t, ok, id)
	}
}

func TestStageMessage(t *testing.T) {
	issue := models.Issue{Number: 7, Title: "Add login"}
	rv := &models.ReviewResult{Approved: true, Score: 0.8, Comments: "Spec review: 4/5 checks passed"}

	msg := stageMessage(models.StageSpec, issue, rv, "specs/7-add-login/spec.md")

	assert.Contains(t, msg, "Spec created - Issue #7")
	assert.Contains(t, msg, "*Title*: Add login")
	assert.Contains(t, msg, "✅ APPROVED")
	assert.Contains(t, msg, "*Score*: 0.80")
	assert.Contains(t, msg, "Spec review: 4/5 checks passed")
	assert.Contains(t, msg, "`specs/7-add-login/spec.md`")
}

func TestImplementationMessage(t *testing.T) {
	issue := models.Issue{Number: 3}

	assert.Contains(t, implementationMessage(issue, &agent.Result{Status: "success", CompletedCount: 4, Commit: "abc123"}), "Completed tasks: 4")
	assert.Contains(t, implementationMessage(issue, &agent.Result{Status: "skipped", Message: "goose CLI not available"}), "goose CLI not available")
	assert.Contains(t, implementationMessage(issue, &agent.Result{Status: "failed", FailedTask: "T002"}), "task failed: T002")
}
