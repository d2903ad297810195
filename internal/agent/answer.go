package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/askmetrics/internal/executor"
	"github.com/kyleking/askmetrics/internal/query"
)

// Status tags the answer variant
type Status string

const (
	StatusAnswered Status = "answered"
	StatusClarify  Status = "clarify"
	StatusFailed   Status = "failed"
)

// Answer is the final payload of one ask invocation. The constructors
// below enforce which fields each status carries; build answers through
// them, not by struct literal.
type Answer struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Status   Status `json:"status"`
	Intent   string `json:"intent,omitempty"`

	// Answered
	SQL       string           `json:"sql,omitempty"`
	Summary   string           `json:"summary,omitempty"`
	Result    *executor.Result `json:"result,omitempty"`
	CSV       string           `json:"csv,omitempty"` // set for export answers
	Cached    bool             `json:"cached,omitempty"`
	Attempts  int              `json:"attempts,omitempty"`
	CreatedAt time.Time        `json:"created_at"`

	// Clarify
	Clarification string `json:"clarification,omitempty"`

	// Failed
	Violations []query.Violation `json:"violations,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Answered builds a successful answer carrying the generated SQL, its
// result, and a narration
func Answered(question, sql, summary string, result *executor.Result, attempts int) *Answer {
	return &Answer{
		ID:        uuid.NewString(),
		Question:  question,
		Status:    StatusAnswered,
		SQL:       sql,
		Summary:   summary,
		Result:    result,
		Attempts:  attempts,
		CreatedAt: time.Now().UTC(),
	}
}

// Clarification builds an answer that asks the user for more detail
// instead of guessing
func Clarification(question, message string) *Answer {
	return &Answer{
		ID:            uuid.NewString(),
		Question:      question,
		Status:        StatusClarify,
		Clarification: message,
		CreatedAt:     time.Now().UTC(),
	}
}

// Failure builds a failed answer carrying the violations that explain
// why no valid query was produced
func Failure(question, reason string, violations []query.Violation, attempts int) *Answer {
	return &Answer{
		ID:         uuid.NewString(),
		Question:   question,
		Status:     StatusFailed,
		Reason:     reason,
		Violations: violations,
		Attempts:   attempts,
		CreatedAt:  time.Now().UTC(),
	}
}
