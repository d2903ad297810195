package query

import (
	"context"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/llm"
)

// Outcome is the result of a repair loop run, the last candidate drafted
// together with its verdict and the rounds spent getting there
type Outcome struct {
	Candidate *Candidate `json:"candidate"`
	Verdict   Verdict    `json:"verdict"`
	Attempts  int        `json:"attempts"`
	Accepted  bool       `json:"accepted"`
}

// Loop drafts SQL candidates and validates them, feeding failures back
// to the model until a candidate passes or the attempt budget runs out
type Loop struct {
	generator   *Generator
	validator   *Validator
	maxAttempts int
}

// NewLoop creates a repair loop. The budget counts total generation
// rounds, so 3 means one draft plus at most two repairs.
func NewLoop(generator *Generator, validator *Validator, maxAttempts int) *Loop {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Loop{
		generator:   generator,
		validator:   validator,
		maxAttempts: maxAttempts,
	}
}

// Run executes the draft-validate-repair cycle. Every round appends the
// previous round's failure messages to the request so the model sees the
// full history of what was rejected and why. A write operation ends the
// loop immediately, no repair round gets a second shot at modifying data.
// Running out of budget returns the last outcome together with an
// errors.ErrTypeExhausted error.
func (l *Loop) Run(ctx context.Context, req llm.GenerateRequest) (*Outcome, error) {
	outcome := &Outcome{}
	failures := append([]string(nil), req.PriorFailures...)

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		roundReq := req
		roundReq.PriorFailures = failures

		candidate, err := l.generator.Draft(ctx, roundReq)
		if err != nil {
			return nil, err
		}
		candidate.Attempt = attempt

		outcome.Candidate = candidate
		outcome.Attempts = attempt
		outcome.Verdict = l.validator.Validate(candidate.SQL, req.Schema)

		if outcome.Verdict.Valid() {
			outcome.Accepted = true
			return outcome, nil
		}

		if outcome.Verdict.Fatal() {
			return outcome, nil
		}

		failures = append(failures, outcome.Verdict.FailureMessages()...)
	}

	// Exhaustion keeps the last outcome attached so the caller can explain
	// the rejection rather than show a generic error.
	return outcome, errors.Newf(errors.ErrTypeExhausted,
		"no valid query after %d attempts", l.maxAttempts)
}

// MaxAttempts reports the loop's generation budget
func (l *Loop) MaxAttempts() int {
	return l.maxAttempts
}
