package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/specflow/internal/api"
	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/output"
	"github.com/joescharf/specflow/internal/workflow"
)

var (
	wfTitle    string
	wfBody     string
	wfChannel  string
	wfReason   string
	wfRunLimit int
)

// apiClientFunc returns a client for the running server, replaceable in tests.
var apiClientFunc = func() *api.Client {
	return api.NewClient(viper.GetString("server_url"), nil)
}

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Run and steer issue workflows",
	Long: `Run an issue through spec, plan, tasks and implementation, or inspect
and steer the workflows held by a running 'specflow serve' (server_url).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowListRun(cmd.Context())
	},
}

var workflowStartCmd = &cobra.Command{
	Use:   "start <issue>",
	Short: "Run an issue's workflow in this process",
	Long: `Run the workflow for an issue locally until it completes or halts.

The issue is fetched from github.repo unless --title is given. State is
not shared with a running server; a workflow held for approval here ends
with the process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowStartRun(cmd.Context(), args[0])
	},
}

var workflowListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workflows on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowListRun(cmd.Context())
	},
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <issue>",
	Short: "Show a workflow and its stage runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowStatusRun(cmd.Context(), args[0])
	},
}

var workflowApproveCmd = &cobra.Command{
	Use:   "approve <issue>",
	Short: "Approve the current stage and continue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowApproveRun(cmd.Context(), args[0])
	},
}

var workflowRejectCmd = &cobra.Command{
	Use:   "reject <issue>",
	Short: "Reject the current stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowRejectRun(cmd.Context(), args[0])
	},
}

func init() {
	workflowStartCmd.Flags().StringVar(&wfTitle, "title", "", "Issue title (skips the GitHub lookup)")
	workflowStartCmd.Flags().StringVar(&wfBody, "body", "", "Issue body, used with --title")
	workflowStartCmd.Flags().StringVar(&wfChannel, "channel", "", "Notification channel (default slack.channel)")

	workflowStatusCmd.Flags().IntVar(&wfRunLimit, "runs", 10, "Number of stage runs to show (0 for all)")
	workflowRejectCmd.Flags().StringVar(&wfReason, "reason", "", "Rejection reason")

	workflowCmd.AddCommand(workflowStartCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	workflowCmd.AddCommand(workflowApproveCmd)
	workflowCmd.AddCommand(workflowRejectCmd)
	rootCmd.AddCommand(workflowCmd)
}

func workflowStartRun(ctx context.Context, ref string) error {
	ctx = ctxOrBackground(ctx)
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr)
	a, err := buildApp(ctx, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	issue := models.Issue{Number: n, Title: wfTitle, Body: wfBody, State: models.IssueStateOpen}
	if issue.Title == "" {
		if a.tracker == nil {
			return fmt.Errorf("github.repo is not configured; pass --title")
		}
		fetched, err := a.tracker.GetIssue(ctx, n)
		if err != nil {
			return err
		}
		issue = *fetched
	}

	ui.Info("Running workflow for issue #%d: %s", n, issue.Title)
	runErr := a.orchestrator.StartWorkflow(ctx, issue, wfChannel)

	state, _ := a.orchestrator.Status(n)
	ui.Workflow(state)
	if runErr != nil {
		return runErr
	}
	switch {
	case state.ApprovalStatus == models.ApprovalRejected:
		ui.Warning("Workflow stopped at %s", state.CurrentStage)
	case state.Finished():
		ui.Success("Workflow finished")
	default:
		ui.Info("Workflow is waiting for approval at %s", state.CurrentStage)
	}
	return nil
}

func workflowListRun(ctx context.Context) error {
	states, err := apiClientFunc().Workflows(ctxOrBackground(ctx))
	if err != nil {
		return err
	}
	if len(states) == 0 {
		ui.Info("No workflows")
		return nil
	}
	return ui.Workflows(states)
}

func workflowStatusRun(ctx context.Context, ref string) error {
	ctx = ctxOrBackground(ctx)
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	client := apiClientFunc()
	state, err := client.Workflow(ctx, n)
	if err != nil {
		return err
	}
	ui.Workflow(state)

	runs, err := client.Runs(ctx, n, wfRunLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"STAGE", "RESULT", "SCORE", "ERROR", "AT"})
	for _, r := range runs {
		result := "approved"
		if !r.Approved {
			result = "rejected"
		}
		_ = table.Append([]string{
			string(r.Stage),
			output.ApprovalColor(result),
			fmt.Sprintf("%.2f", r.Score),
			r.Error,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return table.Render()
}

func workflowApproveRun(ctx context.Context, ref string) error {
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	state, err := apiClientFunc().Approve(ctxOrBackground(ctx), n)
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		return fmt.Errorf("no workflow for issue #%d on %s", n, viper.GetString("server_url"))
	}
	if err != nil {
		return err
	}
	ui.Success("Approved issue #%d", n)
	ui.Workflow(state)
	return nil
}

func workflowRejectRun(ctx context.Context, ref string) error {
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	err = apiClientFunc().Reject(ctxOrBackground(ctx), n, wfReason)
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		return fmt.Errorf("no workflow for issue #%d on %s", n, viper.GetString("server_url"))
	}
	if err != nil {
		return err
	}
	ui.Success("Rejected issue #%d", n)
	return nil
}
