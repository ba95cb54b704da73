package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/specflow/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Client wraps the Anthropic API for document drafting and review.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// complete sends one system+user exchange and returns the first text block.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// DraftDocument asks the model for the markdown document of a stage.
// upstream is the previous stage's document (empty for spec).
func (c *Client) DraftDocument(ctx context.Context, stage models.Stage, issue models.Issue, upstream string) (string, error) {
	system, user, err := buildDraftPrompt(stage, issue, upstream)
	if err != nil {
		return "", err
	}
	text, err := c.complete(ctx, system, user, 8192)
	if err != nil {
		return "", err
	}
	doc := stripFence(text)
	if doc == "" {
		return "", fmt.Errorf("empty %s document from model", stage)
	}
	return doc, nil
}

// DocumentReview is the structured verdict the model returns.
type DocumentReview struct {
	Score       float64  `json:"score"`
	Approved    bool     `json:"approved"`
	Summary     string   `json:"summary"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Strengths   []string `json:"strengths"`
}

// ReviewDocument asks the model to grade a document against its type's expectations.
func (c *Client) ReviewDocument(ctx context.Context, content string, docType models.DocumentType, reference string) (*DocumentReview, error) {
	system, user := buildReviewPrompt(content, docType, reference)
	text, err := c.complete(ctx, system, user, 2048)
	if err != nil {
		return nil, err
	}
	return parseDocumentReview(text)
}

func parseDocumentReview(text string) (*DocumentReview, error) {
	text = stripFence(text)
	var r DocumentReview
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if r.Score < 0 || r.Score > 1 {
		return nil, fmt.Errorf("score %.2f out of range", r.Score)
	}
	return &r, nil
}

// Prompt sends a fully rendered prompt file and returns the document it produces.
func (c *Client) Prompt(ctx context.Context, prompt string) (string, error) {
	text, err := c.complete(ctx, draftSystem, prompt, 8192)
	if err != nil {
		return "", err
	}
	return stripFence(text), nil
}
