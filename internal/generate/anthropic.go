package generate

import (
	"context"

	"github.com/joescharf/specflow/internal/models"
)

// Drafter drafts a stage document with a language model.
type Drafter interface {
	DraftDocument(ctx context.Context, stage models.Stage, issue models.Issue, upstream string) (string, error)
}

// Anthropic generates documents through the Anthropic API.
type Anthropic struct {
	drafter Drafter
}

// NewAnthropic returns a generator backed by drafter (nil declines every request).
func NewAnthropic(drafter Drafter) *Anthropic {
	return &Anthropic{drafter: drafter}
}

// Name implements Generator.
func (a *Anthropic) Name() string { return BackendAnthropic }

// Generate implements Generator.
func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	if a.drafter == nil {
		return "", ErrDeclined
	}
	return a.drafter.DraftDocument(ctx, req.Stage, req.Issue, req.Upstream)
}
