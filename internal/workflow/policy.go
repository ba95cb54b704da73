package workflow

import (
	"fmt"
	"slices"

	"github.com/joescharf/specflow/internal/models"
)

// AdvancePolicy decides whether a stage whose review passed moves on
// without a human. A failed review never advances.
type AdvancePolicy interface {
	ShouldAdvance(stage models.Stage, review *models.ReviewResult) bool
}

// AutoAdvance advances every approved stage except those listed in Hold.
type AutoAdvance struct {
	Hold []models.Stage
}

// ShouldAdvance implements AdvancePolicy.
func (p AutoAdvance) ShouldAdvance(stage models.Stage, review *models.ReviewResult) bool {
	if review == nil || !review.Approved {
		return false
	}
	return !slices.Contains(p.Hold, stage)
}

// ManualOnly holds every stage for a human decision.
type ManualOnly struct{}

// ShouldAdvance implements AdvancePolicy.
func (ManualOnly) ShouldAdvance(models.Stage, *models.ReviewResult) bool {
	return false
}

// NewPolicy builds the policy from config values.
func NewPolicy(autoAdvance bool, holdStages []string) (AdvancePolicy, error) {
	if !autoAdvance {
		return ManualOnly{}, nil
	}
	hold := make([]models.Stage, 0, len(holdStages))
	for _, name := range holdStages {
		st, err := models.ParseStage(name)
		if err != nil {
			return nil, fmt.Errorf("hold stage: %w", err)
		}
		hold = append(hold, st)
	}
	return AutoAdvance{Hold: hold}, nil
}
