package cmd

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/git"
	"github.com/joescharf/specflow/internal/models"
)

// mockTracker implements git.IssueTracker for testing.
type mockTracker struct {
	issues   map[int]*models.Issue
	comments map[int][]string
	labels   map[int][]string
	closed   []int
}

func newMockTracker() *mockTracker {
	return &mockTracker{
		issues: map[int]*models.Issue{
			42: {
				Number: 42, Title: "Add login page", Body: "Users need to sign in.",
				State: models.IssueStateOpen, Labels: []string{"specflow", "feature"},
				Author: "octocat", URL: "https://github.com/acme/app/issues/42",
				CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			},
		},
		comments: map[int][]string{},
		labels:   map[int][]string{},
	}
}

func (m *mockTracker) GetIssue(_ context.Context, n int) (*models.Issue, error) {
	if i, ok := m.issues[n]; ok {
		return i, nil
	}
	return nil, errors.New("404 Not Found")
}

func (m *mockTracker) ListOpenIssues(_ context.Context, limit int) ([]*models.Issue, error) {
	var out []*models.Issue
	for _, i := range m.issues {
		if len(out) == limit {
			break
		}
		out = append(out, i)
	}
	return out, nil
}

func (m *mockTracker) AddComment(_ context.Context, n int, body string) error {
	m.comments[n] = append(m.comments[n], body)
	return nil
}

func (m *mockTracker) AddLabel(_ context.Context, n int, label string) error {
	m.labels[n] = append(m.labels[n], label)
	return nil
}

func (m *mockTracker) CloseIssue(_ context.Context, n int) error {
	m.closed = append(m.closed, n)
	return nil
}

func useTracker(t *testing.T, tr git.IssueTracker) {
	t.Helper()
	orig := trackerFunc
	trackerFunc = func() (git.IssueTracker, error) { return tr, nil }
	t.Cleanup(func() { trackerFunc = orig })
}

func TestIssueListRun(t *testing.T) {
	_, out := testEnv(t)
	useTracker(t, newMockTracker())

	require.NoError(t, issueListRun(context.Background()))
	assert.Contains(t, out.String(), "Add login page")
	assert.Contains(t, out.String(), "specflow, feature")
	assert.Contains(t, out.String(), "octocat")
}

func TestIssueListRun_Empty(t *testing.T) {
	_, out := testEnv(t)
	useTracker(t, &mockTracker{issues: map[int]*models.Issue{}})

	require.NoError(t, issueListRun(context.Background()))
	assert.Contains(t, out.String(), "No open issues")
}

func TestIssueShowRun(t *testing.T) {
	_, out := testEnv(t)
	useTracker(t, newMockTracker())

	require.NoError(t, issueShowRun(context.Background(), "#42"))
	assert.Contains(t, out.String(), "Add login page")
	assert.Contains(t, out.String(), "Users need to sign in.")
	assert.Contains(t, out.String(), "https://github.com/acme/app/issues/42")

	assert.Error(t, issueShowRun(context.Background(), "99"))
	assert.Error(t, issueShowRun(context.Background(), "x"))
}

func TestIssueMutations(t *testing.T) {
	testEnv(t)
	tr := newMockTracker()
	useTracker(t, tr)

	issueComment = "Spec is ready for review."
	t.Cleanup(func() { issueComment = "" })
	require.NoError(t, issueCommentRun(context.Background(), "42"))
	require.NoError(t, issueLabelRun(context.Background(), "42", "spec-approved"))
	require.NoError(t, issueCloseRun(context.Background(), "42"))

	assert.Equal(t, []string{"Spec is ready for review."}, tr.comments[42])
	assert.Equal(t, []string{"spec-approved"}, tr.labels[42])
	assert.Equal(t, []int{42}, tr.closed)
}

func TestTrackerFunc_RequiresRepo(t *testing.T) {
	testEnv(t)
	viper.Set("agent.workdir", t.TempDir())

	_, err := trackerFunc()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github.repo")
}

func TestResolveRepo(t *testing.T) {
	testEnv(t)
	dir := t.TempDir()
	viper.Set("agent.workdir", dir)
	assert.Empty(t, resolveRepo())

	require.NoError(t, exec.Command("git", "-C", dir, "init").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "remote", "add", "origin", "https://github.com/octo/hello.git").Run())
	assert.Equal(t, "octo/hello", resolveRepo())

	viper.Set("github.repo", "acme/widgets")
	assert.Equal(t, "acme/widgets", resolveRepo())
}
