package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/specflow/internal/llm"
	"github.com/joescharf/specflow/internal/models"
)

// Judge grades a document with a language model.
type Judge interface {
	ReviewDocument(ctx context.Context, content string, docType models.DocumentType, reference string) (*llm.DocumentReview, error)
}

// LLMReviewer reviews with a language model and falls back to the
// checklist Scorer (at FallbackThreshold) when the model call fails.
type LLMReviewer struct {
	judge     Judge
	threshold float64
	fallback  *Scorer
	logger    *slog.Logger
}

// NewLLMReviewer creates an LLM-backed reviewer.
func NewLLMReviewer(judge Judge, threshold float64, logger *slog.Logger) *LLMReviewer {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = FallbackThreshold
	}
	return &LLMReviewer{
		judge:     judge,
		threshold: threshold,
		fallback:  NewScorer(WithThreshold(FallbackThreshold)),
		logger:    logger,
	}
}

// Review implements Reviewer.
func (r *LLMReviewer) Review(ctx context.Context, content string, docType models.DocumentType, reference string) *models.ReviewResult {
	verdict, err := r.judge.ReviewDocument(ctx, content, docType, reference)
	if err != nil {
		r.logger.Warn("llm review failed, using checklist", "doc_type", docType, "error", err)
		return r.fallback.Evaluate(content, docType, reference)
	}
	return &models.ReviewResult{
		Approved: verdict.Score >= r.threshold,
		Score:    verdict.Score,
		Comments: formatVerdict(docType, verdict),
	}
}

func formatVerdict(docType models.DocumentType, v *llm.DocumentReview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s review (llm): score %.2f\n", titleCase(string(docType)), v.Score)
	if v.Summary != "" {
		b.WriteString(v.Summary)
		b.WriteString("\n")
	}
	writeList(&b, "Strengths", v.Strengths)
	writeList(&b, "Issues", v.Issues)
	writeList(&b, "Suggestions", v.Suggestions)
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}
