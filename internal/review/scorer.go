package review

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/specflow/internal/models"
)

// Check is one checklist item.
type Check struct {
	Name string
	Pass func(content string) bool
}

func containsAny(markers ...string) func(string) bool {
	return func(content string) bool {
		for _, m := range markers {
			if strings.Contains(content, m) {
				return true
			}
		}
		return false
	}
}

func longerThan(n int) func(string) bool {
	return func(content string) bool {
		return utf8.RuneCountInString(content) > n
	}
}

// Checklists maps each document type to its ordered checklist.
var Checklists = map[models.DocumentType][]Check{
	models.DocumentSpec: {
		{Name: "has_user_stories", Pass: containsAny("## User Scenarios", "User Story")},
		{Name: "has_requirements", Pass: containsAny("Requirements")},
		{Name: "has_success_criteria", Pass: containsAny("Success Criteria")},
		{Name: "min_length", Pass: longerThan(500)},
	},
	models.DocumentPlan: {
		{Name: "has_technical_context", Pass: containsAny("Technical Context", "기술 스택")},
		{Name: "has_implementation_phases", Pass: containsAny("Phase", "Implementation")},
		{Name: "has_project_structure", Pass: containsAny("Project Structure", "프로젝트 구조")},
		{Name: "has_verification", Pass: containsAny("Verification", "Test", "검증")},
		{Name: "min_length", Pass: longerThan(800)},
	},
	models.DocumentTasks: {
		{Name: "has_phases", Pass: containsAny("Phase")},
		{Name: "has_task_ids", Pass: containsAny("- [ ]", "- [x]")},
		{Name: "has_dependencies", Pass: containsAny("Dependencies", "의존성")},
		{Name: "has_checkpoints", Pass: containsAny("Checkpoint", "checkpoint")},
		{Name: "min_length", Pass: longerThan(1000)},
	},
}

// emptyChecklistScore is the score given to a document type without a checklist.
const emptyChecklistScore = 0.5

// Scorer is the rule-based checklist reviewer that gates stage transitions.
type Scorer struct {
	Threshold   float64
	AutoApprove bool
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithThreshold sets the approval threshold.
func WithThreshold(t float64) Option {
	return func(s *Scorer) { s.Threshold = t }
}

// WithAutoApprove makes every review pass with a perfect score.
func WithAutoApprove(v bool) Option {
	return func(s *Scorer) { s.AutoApprove = v }
}

// NewScorer returns a Scorer with the default 0.75 threshold.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{Threshold: DefaultThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Review implements Reviewer.
func (s *Scorer) Review(_ context.Context, content string, docType models.DocumentType, reference string) *models.ReviewResult {
	return s.Evaluate(content, docType, reference)
}

// Evaluate scores content against the checklist for docType.
// The reference is accepted for interface parity and is not consulted.
func (s *Scorer) Evaluate(content string, docType models.DocumentType, _ string) *models.ReviewResult {
	if s.AutoApprove {
		return &models.ReviewResult{Approved: true, Score: 1.0, Comments: "auto-approved"}
	}

	checks := Checklists[docType]
	var passed, failed []string
	for _, c := range checks {
		if c.Pass(content) {
			passed = append(passed, c.Name)
		} else {
			failed = append(failed, c.Name)
		}
	}

	score := emptyChecklistScore
	if len(checks) > 0 {
		score = float64(len(passed)) / float64(len(checks))
	}

	return &models.ReviewResult{
		Approved: score >= s.Threshold,
		Score:    score,
		Comments: formatComments(docType, passed, failed),
		Passed:   passed,
		Failed:   failed,
	}
}

func formatComments(docType models.DocumentType, passed, failed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s review: %d/%d checks passed\n", titleCase(string(docType)), len(passed), len(passed)+len(failed))
	writeGroup(&b, "Passed", passed)
	writeGroup(&b, "Failed", failed)
	return strings.TrimRight(b.String(), "\n")
}

func writeGroup(b *strings.Builder, label string, names []string) {
	fmt.Fprintf(b, "%s:\n", label)
	if len(names) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	for _, n := range names {
		fmt.Fprintf(b, "  - %s\n", n)
	}
}

func titleCase(s string) string {
	if s == "" {
		return "Document"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
