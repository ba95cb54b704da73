package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"

	"github.com/joescharf/specflow/internal/models"
)

// IssueTracker is the issue-tracker surface the workflow uses.
type IssueTracker interface {
	GetIssue(ctx context.Context, number int) (*models.Issue, error)
	ListOpenIssues(ctx context.Context, limit int) ([]*models.Issue, error)
	AddComment(ctx context.Context, number int, body string) error
	AddLabel(ctx context.Context, number int, label string) error
	CloseIssue(ctx context.Context, number int) error
}

// GitHubClient implements IssueTracker for one repository via the GitHub REST API.
type GitHubClient struct {
	client *github.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// GitHubOption configures a GitHubClient.
type GitHubOption func(*GitHubClient) error

// WithBaseURL points the client at a different API root.
func WithBaseURL(raw string) GitHubOption {
	return func(g *GitHubClient) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		g.client.BaseURL = u
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GitHubOption {
	return func(g *GitHubClient) error {
		g.logger = l
		return nil
	}
}

// NewGitHubClient creates a client for fullRepo ("owner/repo"). An empty
// token makes unauthenticated requests.
func NewGitHubClient(token, fullRepo string, opts ...GitHubOption) (*GitHubClient, error) {
	owner, repo, err := SplitRepo(fullRepo)
	if err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	g := &GitHubClient{
		client: github.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
		logger: slog.Default(),
	}
	for _, o := range opts {
		if err := o(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Repo returns "owner/repo".
func (g *GitHubClient) Repo() string {
	return g.owner + "/" + g.repo
}

// GetIssue fetches one issue.
func (g *GitHubClient) GetIssue(ctx context.Context, number int) (*models.Issue, error) {
	issue, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return ConvertIssue(issue), nil
}

// ListOpenIssues returns the most recently created open issues, excluding pull requests.
func (g *GitHubClient) ListOpenIssues(ctx context.Context, limit int) ([]*models.Issue, error) {
	if limit <= 0 {
		limit = 10
	}
	issues, _, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	var out []*models.Issue
	for _, i := range issues {
		if i.IsPullRequest() {
			continue
		}
		out = append(out, ConvertIssue(i))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// AddComment posts a comment on an issue.
func (g *GitHubClient) AddComment(ctx context.Context, number int, body string) error {
	_, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return nil
}

// AddLabel adds a label to an issue.
func (g *GitHubClient) AddLabel(ctx context.Context, number int, label string) error {
	_, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, number, []string{label})
	if err != nil {
		return fmt.Errorf("label issue #%d: %w", number, err)
	}
	return nil
}

// CloseIssue closes an issue.
func (g *GitHubClient) CloseIssue(ctx context.Context, number int) error {
	_, _, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, &github.IssueRequest{State: github.String("closed")})
	if err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

// ConvertIssue maps a GitHub API issue to the workflow's snapshot.
func ConvertIssue(i *github.Issue) *models.Issue {
	out := &models.Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     models.IssueState(i.GetState()),
		Author:    i.GetUser().GetLogin(),
		URL:       i.GetHTMLURL(),
		CreatedAt: i.GetCreatedAt().Time,
		UpdatedAt: i.GetUpdatedAt().Time,
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

// Webhook errors.
var (
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	ErrInvalidWebhook   = errors.New("invalid webhook delivery")
)

// IssueEvent is a parsed "issues" webhook delivery.
type IssueEvent struct {
	Action string
	Label  string
	Issue  models.Issue
}

// Triggers reports whether the event should start a workflow.
func (e *IssueEvent) Triggers() bool {
	return e.Action == "opened" || e.Action == "labeled"
}

// ParseWebhook validates (when secret is set) and parses a GitHub webhook request.
func ParseWebhook(r *http.Request, secret string) (*IssueEvent, error) {
	payload, err := github.ValidatePayload(r, []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	eventType := github.WebHookType(r)
	if eventType != "issues" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
	}
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	ie, ok := event.(*github.IssuesEvent)
	if !ok || ie.Issue == nil {
		return nil, fmt.Errorf("%w: issues payload without issue", ErrUnsupportedEvent)
	}
	return &IssueEvent{
		Action: ie.GetAction(),
		Label:  ie.GetLabel().GetName(),
		Issue:  *ConvertIssue(ie.Issue),
	}, nil
}
