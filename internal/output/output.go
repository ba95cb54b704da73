package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/specflow/internal/models"
)

// UI writes colored CLI output.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// ApprovalColor colors an approval status or review verdict.
func ApprovalColor(status string) string {
	switch strings.ToLower(status) {
	case string(models.ApprovalApproved), models.ImplementationSuccess:
		return green(status)
	case string(models.ApprovalPending), models.ImplementationSkipped:
		return yellow(status)
	case string(models.ApprovalRejected), models.ImplementationFailed:
		return red(status)
	default:
		return status
	}
}

// ScoreColor formats a review score against the approval threshold.
func ScoreColor(score, threshold float64) string {
	s := fmt.Sprintf("%.2f", score)
	switch {
	case score >= threshold:
		return green(s)
	case score >= threshold/2:
		return yellow(s)
	default:
		return red(s)
	}
}

// StageColor highlights the stage a workflow is sitting at.
func StageColor(stage models.Stage) string {
	if stage.Terminal() {
		return cyan(string(stage))
	}
	return string(stage)
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Workflows renders workflow states as a table.
func (u *UI) Workflows(states []models.WorkflowState) error {
	table := u.Table([]string{"ISSUE", "TITLE", "STAGE", "STATUS", "IMPLEMENTATION", "UPDATED"})
	for _, s := range states {
		impl := "-"
		if s.ImplementationStatus != "" {
			impl = fmt.Sprintf("%s (%d)", ApprovalColor(s.ImplementationStatus), s.CompletedTasks)
		}
		if err := table.Append([]string{
			fmt.Sprintf("#%d", s.IssueNumber),
			truncate(s.IssueTitle, 48),
			StageColor(s.CurrentStage),
			ApprovalColor(string(s.ApprovalStatus)),
			impl,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Workflow prints one workflow state as a detail block.
func (u *UI) Workflow(s models.WorkflowState) {
	fmt.Fprintf(u.Out, "Issue:    #%d %s\n", s.IssueNumber, s.IssueTitle)
	fmt.Fprintf(u.Out, "Stage:    %s\n", StageColor(s.CurrentStage))
	fmt.Fprintf(u.Out, "Status:   %s\n", ApprovalColor(string(s.ApprovalStatus)))
	for _, doc := range []struct{ label, path string }{
		{"Spec", s.SpecPath}, {"Plan", s.PlanPath}, {"Tasks", s.TasksPath},
	} {
		if doc.path != "" {
			fmt.Fprintf(u.Out, "%-9s %s\n", doc.label+":", doc.path)
		}
	}
	if s.ImplementationStatus != "" {
		fmt.Fprintf(u.Out, "Implementation: %s (%d tasks)\n", ApprovalColor(s.ImplementationStatus), s.CompletedTasks)
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(u.Out, "Error:    %s\n", red(s.ErrorMessage))
	}
}

// Review prints a review verdict.
func (u *UI) Review(r *models.ReviewResult, threshold float64) {
	fmt.Fprintf(u.Out, "Status: %s  Score: %s\n", ApprovalColor(string(r.Status())), ScoreColor(r.Score, threshold))
	if r.Comments != "" {
		fmt.Fprintln(u.Out)
		fmt.Fprintln(u.Out, r.Comments)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
