package models

import (
	"strings"
	"time"
)

// DocumentType identifies which checklist a document is reviewed against.
type DocumentType string

const (
	DocumentSpec  DocumentType = "spec"
	DocumentPlan  DocumentType = "plan"
	DocumentTasks DocumentType = "tasks"
)

// ParseDocumentType accepts "spec", "plan" or "tasks" in any case.
func ParseDocumentType(v string) (DocumentType, bool) {
	switch d := DocumentType(strings.ToLower(strings.TrimSpace(v))); d {
	case DocumentSpec, DocumentPlan, DocumentTasks:
		return d, true
	}
	return "", false
}

// ReviewStatus is the display form of a review verdict.
type ReviewStatus string

const (
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// ReviewResult is the verdict of one document review. Score is in [0, 1].
type ReviewResult struct {
	Approved bool     `json:"approved"`
	Score    float64  `json:"score"`
	Comments string   `json:"comments"`
	Passed   []string `json:"passed,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// Status returns APPROVED or REJECTED.
func (r *ReviewResult) Status() ReviewStatus {
	if r != nil && r.Approved {
		return ReviewApproved
	}
	return ReviewRejected
}

// StageRun is an audit record of one stage evaluation.
type StageRun struct {
	ID           string    `json:"id"`
	IssueNumber  int       `json:"issue_number"`
	Stage        Stage     `json:"stage"`
	Approved     bool      `json:"approved"`
	Score        float64   `json:"score"`
	Comments     string    `json:"comments,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
