package review

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/specflow/internal/models"
)

//go:embed rules/compliance.yaml
var defaultRules []byte

// Rule is one advisory check loaded from YAML.
type Rule struct {
	Name                  string                `yaml:"name"`
	DocTypes              []models.DocumentType `yaml:"doc_types"`
	AnyOf                 []string              `yaml:"any_of"`
	RequiresReferenceTerm bool                  `yaml:"requires_reference_term"`
}

// RuleSet is the YAML document format for secondary rules.
type RuleSet struct {
	Threshold float64 `yaml:"threshold"`
	Rules     []Rule  `yaml:"rules"`
}

// SecondaryReviewer evaluates an advisory rule set with a different
// emphasis from the gating checklist. Its result is informational.
type SecondaryReviewer struct {
	set RuleSet
}

// NewSecondaryReviewer loads rules from path, or the embedded defaults when path is empty.
func NewSecondaryReviewer(path string) (*SecondaryReviewer, error) {
	data := defaultRules
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read review rules: %w", err)
		}
	}
	return ParseRules(data)
}

// ParseRules builds a SecondaryReviewer from YAML.
func ParseRules(data []byte) (*SecondaryReviewer, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse review rules: %w", err)
	}
	for i, r := range set.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
		if len(r.AnyOf) == 0 {
			return nil, fmt.Errorf("rule %q has no any_of keywords", r.Name)
		}
	}
	if set.Threshold <= 0 {
		set.Threshold = DefaultThreshold
	}
	return &SecondaryReviewer{set: set}, nil
}

// Rules returns the loaded rules.
func (s *SecondaryReviewer) Rules() []Rule {
	return s.set.Rules
}

// Review implements Reviewer.
func (s *SecondaryReviewer) Review(_ context.Context, content string, docType models.DocumentType, reference string) *models.ReviewResult {
	terms := referenceTerms(reference)
	lower := strings.ToLower(content)

	var passed, failed []string
	for _, r := range s.set.Rules {
		if !r.appliesTo(docType) {
			continue
		}
		if r.matches(content) && (!r.RequiresReferenceTerm || mentionsAny(lower, terms)) {
			passed = append(passed, r.Name)
		} else {
			failed = append(failed, r.Name)
		}
	}

	score := emptyChecklistScore
	if total := len(passed) + len(failed); total > 0 {
		score = float64(len(passed)) / float64(total)
	}
	return &models.ReviewResult{
		Approved: score >= s.set.Threshold,
		Score:    score,
		Comments: formatComments(docType, passed, failed),
		Passed:   passed,
		Failed:   failed,
	}
}

func (r Rule) appliesTo(docType models.DocumentType) bool {
	for _, d := range r.DocTypes {
		if d == docType {
			return true
		}
	}
	return false
}

func (r Rule) matches(content string) bool {
	for _, k := range r.AnyOf {
		if strings.Contains(content, k) {
			return true
		}
	}
	return false
}

// referenceTerms extracts significant lowercase words from the first
// non-empty line of the reference, which is the title or heading.
func referenceTerms(reference string) []string {
	var line string
	for _, l := range strings.Split(reference, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if i := strings.LastIndex(line, ":"); i >= 0 {
		line = line[i+1:]
	}
	var terms []string
	for _, w := range strings.FieldsFunc(line, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		if len(w) >= 4 {
			terms = append(terms, strings.ToLower(w))
		}
	}
	return terms
}

// mentionsAny is true when terms is empty, since there is nothing to trace.
func mentionsAny(lower string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
