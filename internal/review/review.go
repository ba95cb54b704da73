package review

import (
	"context"

	"github.com/joescharf/specflow/internal/models"
)

// Thresholds used by the workflow gate and by the LLM reviewer's rule fallback.
const (
	DefaultThreshold  = 0.75
	FallbackThreshold = 0.70
)

// Reviewer grades a document. reference is the upstream context
// (issue title for specs, spec text for plans, plan text for tasks).
// A Reviewer never fails: problems surface as a rejected result.
type Reviewer interface {
	Review(ctx context.Context, content string, docType models.DocumentType, reference string) *models.ReviewResult
}

// ReviewerFunc adapts a function to the Reviewer interface.
type ReviewerFunc func(ctx context.Context, content string, docType models.DocumentType, reference string) *models.ReviewResult

// Review calls f.
func (f ReviewerFunc) Review(ctx context.Context, content string, docType models.DocumentType, reference string) *models.ReviewResult {
	return f(ctx, content, docType, reference)
}
