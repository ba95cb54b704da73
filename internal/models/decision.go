package models

import "time"

// Decision is a human answer to an approval request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether d is a final decision.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalDecision records who answered an approval request and how.
type ApprovalDecision struct {
	CallbackID string    `json:"callback_id"`
	Decision   Decision  `json:"decision"`
	Actor      string    `json:"actor,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}
