package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joescharf/specflow/internal/git"
	"github.com/joescharf/specflow/internal/metrics"
	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/notify"
	"github.com/joescharf/specflow/internal/store"
	"github.com/joescharf/specflow/internal/workflow"
)

// maxBodyBytes caps inbound webhook and interaction payloads.
const maxBodyBytes = 1 << 20

// Workflows is the orchestrator surface the API drives.
type Workflows interface {
	StartWorkflow(ctx context.Context, issue models.Issue, channel string) error
	ApproveAndContinue(ctx context.Context, issueNumber int, channel string) error
	Reject(ctx context.Context, issueNumber int, reason string) error
	Status(issueNumber int) (models.WorkflowState, bool)
	List() []models.WorkflowState
}

// Dependencies holds everything the HTTP layer needs. Runs, Metrics and
// Gatherer are optional.
type Dependencies struct {
	Workflows     Workflows
	Notifier      notify.Notifier
	Decisions     store.DecisionStore
	Runs          store.RunLog
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
	Channel       string
	WebhookSecret string
	SigningSecret string
}

// Server provides the HTTP handlers.
type Server struct {
	deps Dependencies
	log  *slog.Logger

	// spawn runs work that outlives the request. Tests replace it to run inline.
	spawn func(func())
}

// NewServer creates a new API server.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Channel == "" {
		deps.Channel = workflow.DefaultChannel
	}
	return &Server{
		deps:  deps,
		log:   deps.Logger,
		spawn: func(fn func()) { go fn() },
	}
}

// Router returns an http.Handler for all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.deps.Metrics.Middleware)

	r.Get("/healthz", s.health)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}

	r.Post("/github/webhook", s.githubWebhook)
	r.Post("/slack/interactive", s.slackInteractive)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogger)

		r.Post("/send-approval", s.sendApproval)
		r.Get("/approval-status/{callbackID}", s.approvalStatus)

		r.Post("/approve/{issue}", s.approveIssue)
		r.Post("/reject/{issue}", s.rejectIssue)

		r.Get("/workflows", s.listWorkflows)
		r.Get("/workflows/{issue}", s.getWorkflow)
		r.Get("/workflows/{issue}/runs", s.listRuns)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// issueParam parses the {issue} path segment.
func issueParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "issue"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue number %q", chi.URLParam(r, "issue"))
	}
	return n, nil
}

// background detaches work from the request so it survives the response.
func background(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "specflow"})
}

// --- Inbound integrations ---

func (s *Server) githubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ev, err := git.ParseWebhook(r, s.deps.WebhookSecret)
	switch {
	case errors.Is(err, git.ErrUnsupportedEvent):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": err.Error()})
		return
	case errors.Is(err, git.ErrInvalidWebhook):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !ev.Triggers() {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": fmt.Sprintf("action %q not handled", ev.Action),
		})
		return
	}

	issue := ev.Issue
	ctx := background(r)
	s.deps.Metrics.RecordWorkflowStart("webhook")
	s.spawn(func() {
		if err := s.deps.Workflows.StartWorkflow(ctx, issue, s.deps.Channel); err != nil {
			s.log.Error("workflow from webhook", "issue", issue.Number, "error", err)
		}
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      fmt.Sprintf("Workflow started for issue #%d", issue.Number),
		"issue_number": issue.Number,
		"issue_title":  issue.Title,
	})
}

func (s *Server) slackInteractive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if err := notify.VerifySignature(r.Header, body, s.deps.SigningSecret); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	in, err := notify.ParseInteraction(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Decisions.SaveDecision(r.Context(), &models.ApprovalDecision{
		CallbackID: in.CallbackID,
		Decision:   in.Decision,
		Actor:      in.Actor,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Metrics.RecordApprovalDecision(string(in.Decision))
	s.log.Info("approval decision", "callback_id", in.CallbackID, "decision", in.Decision, "actor", in.Actor)

	s.applyDecision(background(r), in)

	writeJSON(w, http.StatusOK, notify.InteractionResponse(in))
}

// applyDecision drives the workflow named by the interaction's callback ID.
// Decisions for other callback IDs are only stored. A decision for a stage
// the workflow has already left is ignored.
func (s *Server) applyDecision(ctx context.Context, in *notify.Interaction) {
	n, stage, ok := workflow.ParseCallbackID(in.CallbackID)
	if !ok {
		return
	}
	state, found := s.deps.Workflows.Status(n)
	if !found || state.CurrentStage != stage || state.ApprovalStatus != models.ApprovalPending {
		s.log.Info("stale approval ignored", "callback_id", in.CallbackID)
		return
	}

	s.spawn(func() {
		var err error
		if in.Decision == models.DecisionApproved {
			err = s.deps.Workflows.ApproveAndContinue(ctx, n, s.deps.Channel)
		} else {
			err = s.deps.Workflows.Reject(ctx, n, fmt.Sprintf("rejected in Slack by @%s", in.Actor))
		}
		if err != nil {
			s.log.Error("apply approval decision", "issue", n, "stage", stage, "error", err)
		}
	})
}

// --- Approvals ---

type sendApprovalRequest struct {
	Channel     string `json:"channel"`
	Phase       string `json:"phase"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CallbackID  string `json:"callback_id"`
}

func (s *Server) sendApproval(w http.ResponseWriter, r *http.Request) {
	var req sendApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.CallbackID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "callback_id and title are required")
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = s.deps.Channel
	}

	ts, err := s.deps.Notifier.RequestApproval(r.Context(), channel, notify.ApprovalRequest{
		Phase:       req.Phase,
		Title:       req.Title,
		Description: req.Description,
		CallbackID:  req.CallbackID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "send approval: "+err.Error())
		return
	}
	s.deps.Metrics.RecordApprovalRequest()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "sent",
		"timestamp":   ts,
		"callback_id": req.CallbackID,
	})
}

func (s *Server) approvalStatus(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackID")
	d, err := s.deps.Decisions.GetDecision(r.Context(), callbackID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{
			"callback_id": callbackID,
			"status":      string(models.DecisionPending),
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callback_id": d.CallbackID,
		"status":      string(d.Decision),
		"actor":       d.Actor,
		"decided_at":  d.DecidedAt,
	})
}

// --- Workflows ---

func (s *Server) approveIssue(w http.ResponseWriter, r *http.Request) {
	n, err := issueParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.deps.Workflows.ApproveAndContinue(r.Context(), n, s.deps.Channel)
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Workflow not found for issue #%d", n))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state, _ := s.deps.Workflows.Status(n)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "approved",
		"issue_number": n,
		"workflow":     state,
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) rejectIssue(w http.ResponseWriter, r *http.Request) {
	n, err := issueParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected via API"
	}

	err = s.deps.Workflows.Reject(r.Context(), n, req.Reason)
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Workflow not found for issue #%d", n))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "rejected",
		"issue_number": n,
		"reason":       req.Reason,
	})
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Workflows.List())
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	n, err := issueParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, ok := s.deps.Workflows.Status(n)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Workflow not found for issue #%d", n))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	n, err := issueParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusOK, []*models.StageRun{})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	runs, err := s.deps.Runs.ListStageRuns(r.Context(), n, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.StageRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
