package review

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/models"
)

func TestNewSecondaryReviewer_DefaultRules(t *testing.T) {
	s, err := NewSecondaryReviewer("")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Rules())
	for _, r := range s.Rules() {
		assert.NotEmpty(t, r.Name)
		assert.NotEmpty(t, r.DocTypes, r.Name)
	}
}

func TestSecondaryReviewer_Spec(t *testing.T) {
	s, err := NewSecondaryReviewer("")
	require.NoError(t, err)

	doc := "Acceptance Scenarios: Given a user, when they log in, then...\nSC-001 measurable\nEdge Cases: none"
	r := s.Review(context.Background(), doc, models.DocumentSpec, "Add login")
	assert.Equal(t, 1.0, r.Score)
	assert.True(t, r.Approved)
	assert.ElementsMatch(t, []string{"acceptance_testable", "measurable_outcomes", "risk_noted"}, r.Passed)
}

func TestSecondaryReviewer_ReferenceTrace(t *testing.T) {
	s, err := ParseRules([]byte(`
rules:
  - name: traces_to_spec
    doc_types: [plan]
    any_of: ["FR-"]
    requires_reference_term: true
`))
	require.NoError(t, err)
	ref := "# Feature Specification: Password Reset\n\n..."

	r := s.Review(context.Background(), "Covers FR-001 for password flows", models.DocumentPlan, ref)
	assert.Equal(t, []string{"traces_to_spec"}, r.Passed)

	r = s.Review(context.Background(), "Covers FR-001 for billing", models.DocumentPlan, ref)
	assert.Equal(t, []string{"traces_to_spec"}, r.Failed)

	// Without a reference there is nothing to trace against.
	r = s.Review(context.Background(), "Covers FR-001", models.DocumentPlan, "")
	assert.Equal(t, []string{"traces_to_spec"}, r.Passed)
}

func TestSecondaryReviewer_NoApplicableRules(t *testing.T) {
	s, err := ParseRules([]byte("rules: []"))
	require.NoError(t, err)
	r := s.Review(context.Background(), "x", models.DocumentTasks, "")
	assert.Equal(t, 0.5, r.Score)
	assert.False(t, r.Approved)
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - doc_types: [spec]\n    any_of: [x]\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = ParseRules([]byte("rules:\n  - name: a\n    doc_types: [spec]\n"))
	assert.ErrorContains(t, err, "no any_of")

	_, err = ParseRules([]byte("rules: [unterminated"))
	assert.Error(t, err)
}

func TestNewSecondaryReviewer_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.5\nrules:\n  - name: only\n    doc_types: [tasks]\n    any_of: [T001]\n"), 0o644))

	s, err := NewSecondaryReviewer(path)
	require.NoError(t, err)
	require.Len(t, s.Rules(), 1)
	assert.True(t, s.Review(context.Background(), "- [ ] T001", models.DocumentTasks, "").Approved)

	_, err = NewSecondaryReviewer(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReferenceTerms(t *testing.T) {
	assert.Equal(t, []string{"password", "reset"}, referenceTerms("\n# Feature Specification: Password Reset\nbody"))
	assert.Equal(t, []string{"login"}, referenceTerms("Add login"))
	assert.Nil(t, referenceTerms(""))
}
