package llm

import (
	"fmt"
	"strings"

	"github.com/joescharf/specflow/internal/models"
)

const draftSystem = `You write software design documents for a GitHub issue. Return ONLY the markdown document, no fencing or explanation.`

var draftInstructions = map[models.Stage]string{
	models.StageSpec: `Write a feature specification with these sections:
- "# Feature Specification: <title>"
- "## User Scenarios & Testing" containing prioritized "### User Story N - <name> (Priority: PN)" entries with acceptance scenarios
- "## Requirements" with "### Functional Requirements" (FR-001, FR-002, ...)
- "## Success Criteria" with measurable outcomes (SC-001, ...)`,
	models.StagePlan: `Write an implementation plan for the specification below with these sections:
- "# Implementation Plan: <title>"
- "## Summary"
- "## Technical Context" (language, dependencies, storage, testing)
- "## Project Structure"
- "## Implementation Phases" with "### Phase N" headings
- "## Verification Plan" describing tests`,
	models.StageTasks: `Write a task list for the plan below:
- "# Tasks: <title>"
- "## Phase N: <name>" sections
- each task as a checkbox line "- [ ] T001 <description>" with sequential IDs
- a "**Checkpoint**:" line closing each phase
- a "## Dependencies" section describing phase ordering`,
}

// buildDraftPrompt constructs the system and user prompts for drafting a stage document.
func buildDraftPrompt(stage models.Stage, issue models.Issue, upstream string) (system string, user string, err error) {
	instructions, ok := draftInstructions[stage]
	if !ok {
		return "", "", fmt.Errorf("no document is drafted for stage %q", stage)
	}
	system = draftSystem

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Issue #%d: %s\n", issue.Number, issue.Title)
	if issue.Body != "" {
		sb.WriteString("\n")
		sb.WriteString(issue.Body)
		sb.WriteString("\n")
	}
	if upstream != "" {
		sb.WriteString("\n---\n\n")
		sb.WriteString(upstream)
		sb.WriteString("\n")
	}
	user = sb.String()
	return system, user, nil
}

var reviewFocus = map[models.DocumentType]string{
	models.DocumentSpec:  "clear user stories with priorities, testable functional requirements, measurable success criteria",
	models.DocumentPlan:  "a concrete technical context, phased implementation, a project structure, a verification strategy consistent with the specification",
	models.DocumentTasks: "phased tasks with sequential IDs, checkpoints between phases, explicit dependencies, full coverage of the plan",
}

// buildReviewPrompt constructs the system and user prompts for grading a document.
func buildReviewPrompt(content string, docType models.DocumentType, reference string) (system string, user string) {
	focus := reviewFocus[docType]
	if focus == "" {
		focus = "overall completeness and clarity"
	}
	system = fmt.Sprintf(`You review %s documents. Look for %s.

Return ONLY a JSON object with these fields:
- "score": number between 0.0 and 1.0
- "approved": true if the document is ready for the next stage
- "summary": one or two sentences
- "issues": array of concrete problems
- "suggestions": array of improvements
- "strengths": array of things done well

Return valid JSON only, no markdown fencing or explanation`, docType, focus)

	var sb strings.Builder
	if reference != "" {
		sb.WriteString("Reference document:\n\n")
		sb.WriteString(reference)
		sb.WriteString("\n\n---\n\n")
	}
	fmt.Fprintf(&sb, "Review this %s document:\n\n", docType)
	sb.WriteString(content)
	user = sb.String()
	return
}
