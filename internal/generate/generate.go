package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/specflow/internal/models"
)

// ErrDeclined is returned by a Generator that has nothing to offer for a
// request (backend not configured, prompt file missing). Callers fall back.
var ErrDeclined = errors.New("generator declined")

// Request describes the document to produce. Upstream is the previous
// stage's persisted text (empty for spec).
type Request struct {
	Stage    models.Stage
	Issue    models.Issue
	Upstream string
}

// Generator produces the markdown document for a stage.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Fallback tries primary and uses the deterministic template when it
// fails, declines, or returns nothing. It is the single place where
// template fallback happens.
type Fallback struct {
	primary  Generator
	template *Template
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFallback wraps primary. A nil primary always uses the template.
func NewFallback(primary Generator, timeout time.Duration, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary:  primary,
		template: NewTemplate(),
		timeout:  timeout,
		logger:   logger,
	}
}

// Name implements Generator.
func (f *Fallback) Name() string {
	if f.primary == nil {
		return f.template.Name()
	}
	return f.primary.Name() + "+" + f.template.Name()
}

// Generate implements Generator. It only fails if the template itself fails.
func (f *Fallback) Generate(ctx context.Context, req Request) (string, error) {
	if f.primary != nil {
		content, err := f.tryPrimary(ctx, req)
		switch {
		case err == nil && strings.TrimSpace(content) != "":
			return content, nil
		case errors.Is(err, ErrDeclined):
			f.logger.Debug("generator declined, using template", "generator", f.primary.Name(), "stage", req.Stage)
		case err != nil:
			f.logger.Warn("generator failed, using template", "generator", f.primary.Name(), "stage", req.Stage, "error", err)
		default:
			f.logger.Warn("generator returned empty document, using template", "generator", f.primary.Name(), "stage", req.Stage)
		}
	}
	return f.template.Generate(ctx, req)
}

func (f *Fallback) tryPrimary(ctx context.Context, req Request) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.primary.Generate(ctx, req)
}

// Backend names accepted by New.
const (
	BackendTemplate   = "template"
	BackendAnthropic  = "anthropic"
	BackendPromptFile = "promptfile"
)

// Config selects and configures the generation backend.
type Config struct {
	Backend    string
	PromptsDir string
	Timeout    time.Duration
}

// New builds the configured generator wrapped in a template Fallback.
// drafter and prompter may be nil when no LLM is configured; the
// corresponding backends then always decline.
func New(cfg Config, drafter Drafter, prompter Prompter, logger *slog.Logger) (*Fallback, error) {
	var primary Generator
	switch cfg.Backend {
	case "", BackendTemplate:
	case BackendAnthropic:
		primary = NewAnthropic(drafter)
	case BackendPromptFile:
		primary = NewPromptFile(cfg.PromptsDir, prompter)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Backend)
	}
	return NewFallback(primary, cfg.Timeout, logger), nil
}
