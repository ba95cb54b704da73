package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/review"
	"github.com/joescharf/specflow/internal/workflow"
)

// Workflows is the orchestrator surface exposed as tools.
type Workflows interface {
	StartWorkflow(ctx context.Context, issue models.Issue, channel string) error
	ApproveAndContinue(ctx context.Context, issueNumber int, channel string) error
	Reject(ctx context.Context, issueNumber int, reason string) error
	Status(issueNumber int) (models.WorkflowState, bool)
	List() []models.WorkflowState
}

// IssueSource fetches issues by number.
type IssueSource interface {
	GetIssue(ctx context.Context, number int) (*models.Issue, error)
}

// Server exposes document review and workflow control as MCP tools.
type Server struct {
	workflows Workflows
	reviewer  review.Reviewer
	issues    IssueSource
	version   string
}

// NewServer creates the MCP server wrapper. issues may be nil, in which case
// specflow_start_workflow requires a title.
func NewServer(wf Workflows, reviewer review.Reviewer, issues IssueSource, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{workflows: wf, reviewer: reviewer, issues: issues, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("specflow", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.reviewDocumentTool())
	srv.AddTool(s.startWorkflowTool())
	srv.AddTool(s.workflowStatusTool())
	srv.AddTool(s.listWorkflowsTool())
	srv.AddTool(s.approveTool())
	srv.AddTool(s.rejectTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func issueNumber(request mcp.CallToolRequest) (int, error) {
	n, err := request.RequireInt("issue_number")
	if err != nil {
		return 0, errors.New("missing required parameter: issue_number")
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid issue_number: %d", n)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// specflow_review_document
func (s *Server) reviewDocumentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("specflow_review_document",
		mcp.WithDescription("Score a spec, plan or tasks document against its checklist. Pass either content or path. Returns approved, score (0-1), comments, and the passed/failed check names."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Document type: spec, plan, tasks")),
		mcp.WithString("content", mcp.Description("Markdown document text")),
		mcp.WithString("path", mcp.Description("Path to a markdown document, used when content is empty")),
		mcp.WithString("reference", mcp.Description("Upstream context: issue title for specs, spec text for plans, plan text for tasks")),
	)
	return tool, s.handleReviewDocument
}

func (s *Server) handleReviewDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docType, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: type"), nil
	}
	dt, ok := models.ParseDocumentType(docType)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown document type: %s", docType)), nil
	}

	content := request.GetString("content", "")
	if content == "" {
		path := request.GetString("path", "")
		if path == "" {
			return mcp.NewToolResultError("one of content or path is required"), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", path, err)), nil
		}
		content = string(data)
	}

	result := s.reviewer.Review(ctx, content, dt, request.GetString("reference", ""))
	return jsonResult(map[string]any{
		"type":     dt,
		"status":   result.Status(),
		"approved": result.Approved,
		"score":    result.Score,
		"comments": result.Comments,
		"passed":   result.Passed,
		"failed":   result.Failed,
	})
}

// specflow_start_workflow
func (s *Server) startWorkflowTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("specflow_start_workflow",
		mcp.WithDescription("Start (or restart) the spec -> plan -> tasks -> implementation workflow for an issue. The issue is fetched from the tracker unless a title is given. Returns the workflow state after the run halts."),
		mcp.WithNumber("issue_number", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("title", mcp.Description("Issue title; skips the tracker lookup")),
		mcp.WithString("body", mcp.Description("Issue body, used with title")),
		mcp.WithString("channel", mcp.Description("Notification channel")),
	)
	return tool, s.handleStartWorkflow
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := issueNumber(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	issue := models.Issue{
		Number: n,
		Title:  request.GetString("title", ""),
		Body:   request.GetString("body", ""),
		State:  models.IssueStateOpen,
	}
	if issue.Title == "" {
		if s.issues == nil {
			return mcp.NewToolResultError("no issue tracker configured; pass title"), nil
		}
		fetched, err := s.issues.GetIssue(ctx, n)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch issue #%d: %v", n, err)), nil
		}
		issue = *fetched
	}

	runErr := s.workflows.StartWorkflow(ctx, issue, request.GetString("channel", ""))
	state, _ := s.workflows.Status(n)
	out := map[string]any{"workflow": state}
	if runErr != nil {
		out["error"] = runErr.Error()
	}
	return jsonResult(out)
}

// specflow_workflow_status
func (s *Server) workflowStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("specflow_workflow_status",
		mcp.WithDescription("Get the workflow state of an issue: current stage, approval status, document paths, implementation outcome and last error."),
		mcp.WithNumber("issue_number", mcp.Required(), mcp.Description("Issue number")),
	)
	return tool, s.handleWorkflowStatus
}

func (s *Server) handleWorkflowStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := issueNumber(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, ok := s.workflows.Status(n)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found for issue #%d", n)), nil
	}
	return jsonResult(state)
}

// specflow_list_workflows
func (s *Server) listWorkflowsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("specflow_list_workflows",
		mcp.WithDescription("List every tracked workflow, optionally filtered by stage or approval status."),
		mcp.WithString("stage", mcp.Description("Stage filter: spec, plan, tasks, implementation")),
		mcp.WithString("status", mcp.Description("Approval status filter: pending, approved, rejected")),
	)
	return tool, s.handleListWorkflows
}

func (s *Server) handleListWorkflows(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stage := models.Stage(request.GetString("stage", ""))
	status := models.ApprovalStatus(request.GetString("status", ""))

	out := []models.WorkflowState{}
	for _, st := range s.workflows.List() {
		if stage != "" && st.CurrentStage != stage {
			continue
		}
		if status != "" && st.ApprovalStatus != status {
			continue
		}
		out = append(out, st)
	}
	return jsonResult(out)
}

// specflow_approve
func (s *Server) approveTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("specflow_approve",
		mcp.WithDescription("Approve the current stage of an issue's workflow and run the next stage."),
		mcp.WithNumber("issue_number", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("channel", mcp.Description("Notification channel")),
	)
	return tool, s.handleApprove
}

func (s *Server) handleApprove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := issueNumber(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	err = s.workflows.ApproveAndContinue(ctx, n, request.GetString("channel", ""))
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found for issue #%d", n)), nil
	}
	state, _ := s.workflows.Status(n)
	out := map[string]any{"workflow": state}
	if err != nil {
		out["error"] = err.Error()
	}
	return jsonResult(out)
}

// specflow_reject
func (s *Server) rejectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("specflow_reject",
		mcp.WithDescription("Reject the current stage of an issue's workflow. No further stages run."),
		mcp.WithNumber("issue_number", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the stage is rejected")),
	)
	return tool, s.handleReject
}

func (s *Server) handleReject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := issueNumber(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, err := request.RequireString("reason")
	if err != nil || reason == "" {
		return mcp.NewToolResultError("missing required parameter: reason"), nil
	}
	if err := s.workflows.Reject(ctx, n, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reject issue #%d: %v", n, err)), nil
	}
	state, _ := s.workflows.Status(n)
	return jsonResult(state)
}
