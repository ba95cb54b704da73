package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/specflow/internal/git"
	"github.com/joescharf/specflow/internal/output"
)

var (
	issueLimit   int
	issueComment string
)

// trackerFunc returns the configured issue tracker, replaceable in tests.
var trackerFunc = func() (git.IssueTracker, error) {
	if resolveRepo() == "" {
		return nil, fmt.Errorf("github.repo is not configured (set it in config or SPECFLOW_GITHUB_REPO)")
	}
	t, err := newTracker(newLogger(ui.ErrOut))
	if err != nil {
		return nil, err
	}
	return t, nil
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Inspect and update GitHub issues",
	Long:  "Read and update issues in the configured GitHub repository (github.repo).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd.Context())
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent open issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd.Context())
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(cmd.Context(), args[0])
	},
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <number>",
	Short: "Comment on an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCommentRun(cmd.Context(), args[0])
	},
}

var issueLabelCmd = &cobra.Command{
	Use:   "label <number> <label>",
	Short: "Add a label to an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueLabelRun(cmd.Context(), args[0], args[1])
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <number>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCloseRun(cmd.Context(), args[0])
	},
}

func init() {
	issueListCmd.Flags().IntVar(&issueLimit, "limit", 10, "Maximum number of issues")
	issueCommentCmd.Flags().StringVar(&issueComment, "body", "", "Comment text (required)")
	_ = issueCommentCmd.MarkFlagRequired("body")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueCommentCmd)
	issueCmd.AddCommand(issueLabelCmd)
	issueCmd.AddCommand(issueCloseCmd)
	rootCmd.AddCommand(issueCmd)
}

// parseIssueNumber accepts "42" or "#42".
func parseIssueNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue number %q", s)
	}
	return n, nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func issueListRun(ctx context.Context) error {
	tracker, err := trackerFunc()
	if err != nil {
		return err
	}
	issues, err := tracker.ListOpenIssues(ctxOrBackground(ctx), issueLimit)
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	if len(issues) == 0 {
		ui.Info("No open issues")
		return nil
	}

	table := ui.Table([]string{"#", "TITLE", "LABELS", "AUTHOR", "CREATED"})
	for _, i := range issues {
		_ = table.Append([]string{
			strconv.Itoa(i.Number),
			i.Title,
			strings.Join(i.Labels, ", "),
			i.Author,
			i.CreatedAt.Local().Format("2006-01-02"),
		})
	}
	return table.Render()
}

func issueShowRun(ctx context.Context, ref string) error {
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	tracker, err := trackerFunc()
	if err != nil {
		return err
	}
	i, err := tracker.GetIssue(ctxOrBackground(ctx), n)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(fmt.Sprintf("#%d", i.Number)), i.Title)
	fmt.Fprintf(ui.Out, "State:   %s\n", i.State)
	if len(i.Labels) > 0 {
		fmt.Fprintf(ui.Out, "Labels:  %s\n", strings.Join(i.Labels, ", "))
	}
	if i.Author != "" {
		fmt.Fprintf(ui.Out, "Author:  %s\n", i.Author)
	}
	if i.URL != "" {
		fmt.Fprintf(ui.Out, "URL:     %s\n", i.URL)
	}
	if body := strings.TrimSpace(i.Body); body != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, body)
	}
	return nil
}

func issueCommentRun(ctx context.Context, ref string) error {
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	tracker, err := trackerFunc()
	if err != nil {
		return err
	}
	if err := tracker.AddComment(ctxOrBackground(ctx), n, issueComment); err != nil {
		return err
	}
	ui.Success("Commented on issue #%d", n)
	return nil
}

func issueLabelRun(ctx context.Context, ref, label string) error {
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	tracker, err := trackerFunc()
	if err != nil {
		return err
	}
	if err := tracker.AddLabel(ctxOrBackground(ctx), n, label); err != nil {
		return err
	}
	ui.Success("Labeled issue #%d with %q", n, label)
	return nil
}

func issueCloseRun(ctx context.Context, ref string) error {
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	tracker, err := trackerFunc()
	if err != nil {
		return err
	}
	if err := tracker.CloseIssue(ctxOrBackground(ctx), n); err != nil {
		return err
	}
	ui.Success("Closed issue #%d", n)
	return nil
}
