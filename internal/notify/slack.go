package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"

	"github.com/joescharf/specflow/internal/models"
)

// Action IDs on the approval buttons.
const (
	ActionApprove = "approval_approved"
	ActionReject  = "approval_rejected"
)

// SlackNotifier posts to Slack and verifies its interactive callbacks.
type SlackNotifier struct {
	client        *slack.Client
	signingSecret string
}

// SlackOption configures a SlackNotifier.
type SlackOption func(*slackConfig)

type slackConfig struct {
	apiURL string
}

// WithAPIURL points the client at a different Slack API base URL.
func WithAPIURL(u string) SlackOption {
	return func(c *slackConfig) { c.apiURL = u }
}

// NewSlackNotifier creates a Slack-backed Notifier.
func NewSlackNotifier(botToken, signingSecret string, opts ...SlackOption) *SlackNotifier {
	cfg := &slackConfig{}
	for _, o := range opts {
		o(cfg)
	}
	var clientOpts []slack.Option
	if cfg.apiURL != "" {
		clientOpts = append(clientOpts, slack.OptionAPIURL(cfg.apiURL))
	}
	return &SlackNotifier{
		client:        slack.New(botToken, clientOpts...),
		signingSecret: signingSecret,
	}
}

// SendMessage implements Notifier.
func (s *SlackNotifier) SendMessage(ctx context.Context, channel, text string) error {
	if _, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}

// RequestApproval implements Notifier. It returns the message timestamp.
func (s *SlackNotifier) RequestApproval(ctx context.Context, channel string, req ApprovalRequest) (string, error) {
	_, ts, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(req.Phase+" - approval requested", false),
		slack.MsgOptionBlocks(ApprovalBlocks(req)...),
	)
	if err != nil {
		return "", fmt.Errorf("slack approval request: %w", err)
	}
	return ts, nil
}

// ApprovalBlocks builds the header, description and approve/reject buttons.
// The actions block carries the callback ID as its block ID.
func ApprovalBlocks(req ApprovalRequest) []slack.Block {
	approve := slack.NewButtonBlockElement(ActionApprove, string(models.DecisionApproved),
		slack.NewTextBlockObject(slack.PlainTextType, "✅ Approve", true, false)).WithStyle(slack.StylePrimary)
	reject := slack.NewButtonBlockElement(ActionReject, string(models.DecisionRejected),
		slack.NewTextBlockObject(slack.PlainTextType, "❌ Reject", true, false)).WithStyle(slack.StyleDanger)

	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "📋 "+req.Phase, true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*\n\n%s", req.Title, req.Description), false, false), nil, nil),
		slack.NewActionBlock(req.CallbackID, approve, reject),
	}
}

// VerifyRequest checks the Slack signing signature and timestamp of an inbound request.
func (s *SlackNotifier) VerifyRequest(header http.Header, body []byte) error {
	return VerifySignature(header, body, s.signingSecret)
}

// VerifySignature checks a Slack v0 signature over body.
func VerifySignature(header http.Header, body []byte, secret string) error {
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ParseInteraction decodes the form-encoded "payload" of a block action.
func ParseInteraction(body []byte) (*Interaction, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse interaction form: %w", err)
	}
	raw := form.Get("payload")
	if raw == "" {
		return nil, fmt.Errorf("interaction has no payload")
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		return nil, fmt.Errorf("decode interaction payload: %w", err)
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return nil, fmt.Errorf("interaction has no actions")
	}
	action := cb.ActionCallback.BlockActions[0]
	decision := models.Decision(action.Value)
	if !decision.Valid() {
		return nil, fmt.Errorf("unknown decision %q", action.Value)
	}
	return &Interaction{
		CallbackID: action.BlockID,
		Decision:   decision,
		Actor:      cb.User.Name,
	}, nil
}

// InteractionResponse replaces the approval prompt with the decision.
func InteractionResponse(in *Interaction) slack.Message {
	text := fmt.Sprintf("✅ *Approved* (by @%s)", in.Actor)
	if in.Decision == models.DecisionRejected {
		text = fmt.Sprintf("❌ *Rejected* (by @%s)", in.Actor)
	}
	msg := slack.NewBlockMessage(
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	)
	msg.ReplaceOriginal = true
	return msg
}
