package notify

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/joescharf/specflow/internal/models"
)

// ErrInvalidSignature is returned when an inbound chat request fails verification.
var ErrInvalidSignature = errors.New("invalid request signature")

// ApprovalRequest is an interactive approve/reject prompt.
type ApprovalRequest struct {
	Phase       string
	Title       string
	Description string
	CallbackID  string
}

// Interaction is a human decision delivered by the chat platform.
type Interaction struct {
	CallbackID string
	Decision   models.Decision
	Actor      string
}

// Notifier delivers workflow progress to a chat channel.
type Notifier interface {
	SendMessage(ctx context.Context, channel, text string) error
	// RequestApproval posts an approval prompt and returns a message handle.
	RequestApproval(ctx context.Context, channel string, req ApprovalRequest) (string, error)
}

// LogNotifier writes notifications to a logger. Used when no chat token is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a Notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendMessage implements Notifier.
func (n *LogNotifier) SendMessage(_ context.Context, channel, text string) error {
	n.logger.Info("notification", "channel", channel, "text", text)
	return nil
}

// RequestApproval implements Notifier.
func (n *LogNotifier) RequestApproval(_ context.Context, channel string, req ApprovalRequest) (string, error) {
	n.logger.Info("approval requested", "channel", channel, "phase", req.Phase, "title", req.Title, "callback_id", req.CallbackID)
	return "log-" + strconv.FormatInt(time.Now().UnixNano(), 10), nil
}

// Message is one notification captured by a Recorder.
type Message struct {
	Channel  string
	Text     string
	Approval *ApprovalRequest
}

// Recorder keeps every notification in memory. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// SendMessage implements Notifier.
func (r *Recorder) SendMessage(_ context.Context, channel, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: channel, Text: text})
	return r.Err
}

// RequestApproval implements Notifier.
func (r *Recorder) RequestApproval(_ context.Context, channel string, req ApprovalRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: channel, Text: req.Title, Approval: &req})
	if r.Err != nil {
		return "", r.Err
	}
	return strconv.Itoa(len(r.messages)), nil
}

// Messages returns a copy of everything recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
