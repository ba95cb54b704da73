package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	specmcp "github.com/joescharf/specflow/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Workflows started through the tools run in this process. Configure in an
MCP client with:

  {
    "mcpServers": {
      "specflow": { "command": "specflow", "args": ["mcp"] }
    }
  }

Available tools: specflow_review_document, specflow_start_workflow,
specflow_workflow_status, specflow_list_workflows, specflow_approve,
specflow_reject`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	ctx = ctxOrBackground(ctx)

	// stdout carries the protocol; logs go to stderr.
	logger := newLogger(os.Stderr)
	a, err := buildApp(ctx, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var issues specmcp.IssueSource
	if a.tracker != nil {
		issues = a.tracker
	}
	return specmcp.NewServer(a.orchestrator, a.reviewer, issues, buildVersion).ServeStdio(ctx)
}
