package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joescharf/specflow/internal/agent"
	"github.com/joescharf/specflow/internal/models"
)

const callbackPrefix = "issue-"

// CallbackID names the approval request for an issue's stage, e.g. "issue-42-plan".
func CallbackID(issue int, stage models.Stage) string {
	return fmt.Sprintf("%s%d-%s", callbackPrefix, issue, stage)
}

// ParseCallbackID reverses CallbackID. ok is false for IDs that do not name a
// workflow stage.
func ParseCallbackID(id string) (issue int, stage models.Stage, ok bool) {
	rest, found := strings.CutPrefix(id, callbackPrefix)
	if !found {
		return 0, "", false
	}
	num, name, found := strings.Cut(rest, "-")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, "", false
	}
	st, err := models.ParseStage(name)
	if err != nil {
		return 0, "", false
	}
	return n, st, true
}

func stageLabel(stage models.Stage) string {
	s := string(stage)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func statusEmoji(approved bool) string {
	if approved {
		return "✅"
	}
	return "❌"
}

// stageMessage is the chat summary of a reviewed document.
func stageMessage(stage models.Stage, issue models.Issue, rv *models.ReviewResult, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s created - Issue #%d\n\n", stageLabel(stage), issue.Number)
	fmt.Fprintf(&b, "*Title*: %s\n", issue.Title)
	fmt.Fprintf(&b, "*Status*: %s %s\n", statusEmoji(rv.Approved), rv.Status())
	fmt.Fprintf(&b, "*Score*: %.2f\n\n", rv.Score)
	fmt.Fprintf(&b, "*Review*:\n%s\n\n", rv.Comments)
	fmt.Fprintf(&b, "*File*: `%s`", path)
	return b.String()
}

func stageFailedMessage(stage models.Stage, issue models.Issue, reason string) string {
	return fmt.Sprintf("❌ %s failed - Issue #%d\n\n*Title*: %s\n\n%s", stageLabel(stage), issue.Number, issue.Title, reason)
}

func implementationMessage(issue models.Issue, res *agent.Result) string {
	switch res.Status {
	case models.ImplementationSuccess:
		msg := fmt.Sprintf("✅ Implementation complete - Issue #%d\n\nCompleted tasks: %d", issue.Number, res.CompletedCount)
		if res.Commit != "" {
			msg += fmt.Sprintf("\nCommit: `%s`", res.Commit)
		}
		return msg
	case models.ImplementationSkipped:
		return fmt.Sprintf("⚠️ Implementation skipped - Issue #%d\n\n%s\nManual implementation is required.", issue.Number, res.Message)
	default:
		return stageFailedMessage(models.StageImplementation, issue, implementationFailure(res))
	}
}

func implementationFailure(res *agent.Result) string {
	if res.Message != "" {
		return res.Message
	}
	if res.FailedTask != "" {
		return "task failed: " + res.FailedTask
	}
	return "implementation failed"
}
