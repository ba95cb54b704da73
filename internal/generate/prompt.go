package generate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joescharf/specflow/internal/models"
)

// PromptField is a named value a prompt file may reference as {name}.
type PromptField string

// The closed set of prompt fields.
const (
	FieldIssueTitle  PromptField = "issue_title"
	FieldIssueBody   PromptField = "issue_body"
	FieldIssueNumber PromptField = "issue_number"
	FieldSpec        PromptField = "spec"
	FieldPlan        PromptField = "plan"
)

var knownFields = map[PromptField]bool{
	FieldIssueTitle:  true,
	FieldIssueBody:   true,
	FieldIssueNumber: true,
	FieldSpec:        true,
	FieldPlan:        true,
}

var placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// RenderPrompt substitutes {field} placeholders from values. It fails on a
// placeholder outside the known field set and on a known field with no value.
func RenderPrompt(tmpl string, values map[PromptField]string) (string, error) {
	var unknown, unresolved []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := PromptField(m[1 : len(m)-1])
		if !knownFields[name] {
			unknown = append(unknown, string(name))
			return m
		}
		v, ok := values[name]
		if !ok {
			unresolved = append(unresolved, string(name))
			return m
		}
		return v
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("unknown prompt placeholder(s): %s", joinUnique(unknown))
	}
	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved prompt placeholder(s): %s", joinUnique(unresolved))
	}
	return out, nil
}

// promptValues builds the field values available for a request.
func promptValues(req Request) map[PromptField]string {
	v := map[PromptField]string{
		FieldIssueTitle:  req.Issue.Title,
		FieldIssueNumber: strconv.Itoa(req.Issue.Number),
		FieldIssueBody:   req.Issue.Title + "\n\n" + req.Issue.Body,
	}
	switch req.Stage {
	case models.StagePlan:
		v[FieldSpec] = req.Upstream
	case models.StageTasks:
		v[FieldPlan] = req.Upstream
	}
	return v
}

func joinUnique(names []string) string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
