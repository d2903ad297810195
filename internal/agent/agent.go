// Package agent composes the ask pipeline: intent routing, cache
// lookup, schema grounding, generation with bounded repair, execution,
// and narration of the result.
package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/askmetrics/internal/cache"
	apperrors "github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/executor"
	"github.com/kyleking/askmetrics/internal/format"
	"github.com/kyleking/askmetrics/internal/history"
	"github.com/kyleking/askmetrics/internal/intent"
	"github.com/kyleking/askmetrics/internal/llm"
	"github.com/kyleking/askmetrics/internal/logging"
	"github.com/kyleking/askmetrics/internal/metrics"
	"github.com/kyleking/askmetrics/internal/query"
	"github.com/kyleking/askmetrics/internal/schema"
)

const summaryRowLimit = 20

// Runner executes validated SQL. Satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, sql string) (*executor.Result, error)
}

// Request is one question from one requester
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	Scope     string `json:"scope,omitempty"` // tenant discriminator for cache keys
	Question  string `json:"question"`
}

// Config tunes agent behavior
type Config struct {
	ClarifyThreshold float64       // generation confidence below this asks for detail
	EnableSummary    bool          // narrate results through the model
	EnableHistory    bool          // feed recent session questions into prompts
	Scope            string        // default requester scope
	Dialect          string        // duckdb or postgres, for prompt grounding
	CacheTTL         time.Duration // answered results live this long
}

// Agent answers natural language questions over the metrics database
type Agent struct {
	catalog    *schema.Catalog
	answers    cache.Cache
	llmService llm.Service
	loop       *query.Loop
	runner     Runner
	classifier *intent.Classifier
	sessions   *history.Store
	formatter  *format.Formatter
	cfg        Config
}

// New wires an agent from its collaborators
func New(
	catalog *schema.Catalog,
	answers cache.Cache,
	llmService llm.Service,
	loop *query.Loop,
	runner Runner,
	classifier *intent.Classifier,
	sessions *history.Store,
	cfg Config,
) *Agent {
	return &Agent{
		catalog:    catalog,
		answers:    answers,
		llmService: llmService,
		loop:       loop,
		runner:     runner,
		classifier: classifier,
		sessions:   sessions,
		formatter:  format.NewFormatter(),
		cfg:        cfg,
	}
}

// Ask answers one question. The caller always receives a well-formed
// answer; only context cancellation surfaces as an error.
func (a *Agent) Ask(ctx context.Context, req Request) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Clarification(question, "Ask me a question about your app metrics, for example: how many installs did we get last week?"), nil
	}

	logger := logging.WithFields(map[string]interface{}{
		"session": req.SessionID,
		"scope":   a.scope(req),
	})

	start := time.Now()

	classification := a.classifier.Classify(ctx, question)
	metrics.ObserveStage("classify", time.Since(start))
	logger.Debugf("classified %q as %s (%.2f)", question, classification.Intent, classification.Confidence)

	var answer *Answer

	switch classification.Intent {
	case intent.IntentGreeting:
		answer = a.greet(question)
	case intent.IntentShowSQL:
		answer = a.showSQL(req, question)
	case intent.IntentExportCSV:
		answer = a.exportCSV(req, question)
	default:
		var err error

		answer, err = a.answerQuestion(ctx, req, question)
		if err != nil {
			return nil, err
		}
	}

	answer.Intent = string(classification.Intent)
	metrics.RecordAsk(string(answer.Status), answer.Intent)

	return answer, nil
}

// answerQuestion runs the full pipeline for an analytics question
func (a *Agent) answerQuestion(ctx context.Context, req Request, question string) (*Answer, error) {
	logger := logging.WithField("question", question)

	stageStart := time.Now()

	snap, err := a.catalog.Snapshot(ctx)

	metrics.ObserveStage("schema", time.Since(stageStart))

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.ErrorWithErr("schema snapshot unavailable", err)

		return Failure(question, "the database schema could not be loaded", nil, 0), nil
	}

	key := cache.Key{Question: question, SchemaVersion: snap.Version, Scope: a.scope(req)}

	if cached := a.lookupCache(ctx, key); cached != nil {
		a.remember(req, question, cached)
		return cached, nil
	}

	genReq := llm.GenerateRequest{
		Question: question,
		Schema:   snap,
		Dialect:  a.cfg.Dialect,
	}
	if a.cfg.EnableHistory && a.sessions != nil {
		genReq.History = a.sessions.Questions(req.SessionID)
	}

	stageStart = time.Now()

	outcome, err := a.loop.Run(ctx, genReq)

	metrics.ObserveStage("generate", time.Since(stageStart))

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Exhaustion carries the final outcome, anything else means the
		// generation capability itself is down.
		if apperrors.IsType(err, apperrors.ErrTypeExhausted) {
			metrics.ObserveRepairAttempts(outcome.Attempts)
			return a.rejectionAnswer(question, outcome), nil
		}

		logger.ErrorWithErr("query generation failed", err)

		return Failure(question, "the query generation service is unavailable", nil, 0), nil
	}

	metrics.ObserveRepairAttempts(outcome.Attempts)

	if !outcome.Accepted {
		return a.rejectionAnswer(question, outcome), nil
	}

	if a.cfg.ClarifyThreshold > 0 &&
		outcome.Candidate.Confidence > 0 &&
		outcome.Candidate.Confidence < a.cfg.ClarifyThreshold {
		logger.Infof("low generation confidence %.2f, asking for detail", outcome.Candidate.Confidence)

		return Clarification(question,
			"I'm not confident I understood that. Could you name the metric, the apps, and the time range you care about?"), nil
	}

	result, answerOrErr := a.executeWithRepair(ctx, question, genReq, outcome)
	if result == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return answerOrErr, nil
	}

	summary := a.summarize(ctx, question, outcome.Candidate, result)

	answer := Answered(question, outcome.Candidate.SQL, summary, result, outcome.Attempts)

	a.remember(req, question, answer)
	a.storeCache(ctx, key, answer)

	return answer, nil
}

// executeWithRepair runs the candidate and, on a non-transient database
// error, re-enters the repair loop once with the execution error as a
// synthetic violation. The second candidate gets one execution attempt.
func (a *Agent) executeWithRepair(
	ctx context.Context,
	question string,
	genReq llm.GenerateRequest,
	outcome *query.Outcome,
) (*executor.Result, *Answer) {
	stageStart := time.Now()

	result, err := a.runner.Execute(ctx, outcome.Candidate.SQL)

	metrics.ObserveStage("execute", time.Since(stageStart))

	if err == nil {
		a.recordExecution(result)
		return result, nil
	}

	metrics.RecordExecution("error", 0)

	if ctx.Err() != nil {
		return nil, nil
	}

	// The validator passed this SQL, so the database rejecting it tends
	// to mean schema drift or a dialect quirk. Hand the database's own
	// words back to the model for one more round.
	verdict := query.ValidateExecution(err)
	logging.Warnf("execution failed, re-entering repair: %v", err)

	retryReq := genReq
	retryReq.PriorFailures = append(append([]string(nil), genReq.PriorFailures...),
		verdict.FailureMessages()...)

	retryOutcome, retryErr := a.loop.Run(ctx, retryReq)
	if retryErr != nil || !retryOutcome.Accepted {
		return nil, Failure(question, "the generated query could not be executed",
			verdict.Violations, outcome.Attempts)
	}

	outcome.Candidate = retryOutcome.Candidate
	outcome.Attempts += retryOutcome.Attempts

	result, err = a.runner.Execute(ctx, retryOutcome.Candidate.SQL)
	if err != nil {
		metrics.RecordExecution("error", 0)

		if ctx.Err() != nil {
			return nil, nil
		}

		return nil, Failure(question, "the repaired query failed to execute as well",
			query.ValidateExecution(err).Violations, outcome.Attempts)
	}

	a.recordExecution(result)

	return result, nil
}

// rejectionAnswer phrases a repair loop rejection. A write operation is
// a refusal; anything else explains the final verdict.
func (a *Agent) rejectionAnswer(question string, outcome *query.Outcome) *Answer {
	if outcome.Verdict.Fatal() {
		return Failure(question,
			"that would modify data, and I only run read-only queries",
			outcome.Verdict.Violations, outcome.Attempts)
	}

	return Failure(question,
		fmt.Sprintf("no valid query after %d attempts", outcome.Attempts),
		outcome.Verdict.Violations, outcome.Attempts)
}

// summarize narrates the result. Model failures degrade to a
// deterministic sentence rather than failing an otherwise good answer.
func (a *Agent) summarize(ctx context.Context, question string, candidate *query.Candidate, result *executor.Result) string {
	if !a.cfg.EnableSummary {
		return basicSummary(result)
	}

	preview := result.Rows
	if len(preview) > summaryRowLimit {
		preview = preview[:summaryRowLimit]
	}

	stageStart := time.Now()

	response, err := a.llmService.SummarizeResult(ctx, llm.SummarizeRequest{
		Question:  question,
		SQL:       candidate.SQL,
		Columns:   result.Columns,
		Rows:      preview,
		RowCount:  result.RowCount,
		Truncated: result.Truncated,
	})

	metrics.ObserveStage("summarize", time.Since(stageStart))

	if err != nil || response.Answer == "" {
		logging.Debugf("summary generation failed, using basic summary: %v", err)
		return basicSummary(result)
	}

	return response.Answer
}

// greet answers small talk without touching the pipeline
func (a *Agent) greet(question string) *Answer {
	answer := Answered(question, "", "", nil, 0)
	answer.Summary = "Hello! Ask me about your app metrics, for example: " +
		"\"how many installs did we get last week?\" or \"revenue by country in July\"."

	return answer
}

// showSQL serves the SQL behind the session's last answer
func (a *Agent) showSQL(req Request, question string) *Answer {
	if a.sessions != nil {
		if sql, ok := a.sessions.LastSQL(req.SessionID); ok {
			answer := Answered(question, sql, "Here is the SQL behind the last answer.", nil, 0)
			return answer
		}
	}

	return Clarification(question, "I haven't answered a question in this session yet, so there is no SQL to show.")
}

// exportCSV renders the session's last result as CSV
func (a *Agent) exportCSV(req Request, question string) *Answer {
	if a.sessions != nil {
		if result, ok := a.sessions.LastResult(req.SessionID); ok {
			csvText, err := a.formatter.FormatCSV(result)
			if err != nil {
				return Failure(question, "the last result could not be rendered as CSV", nil, 0)
			}

			answer := Answered(question, "", fmt.Sprintf("CSV export of the last result (%d rows).", result.RowCount), nil, 0)
			answer.CSV = csvText

			return answer
		}
	}

	return Clarification(question, "There is no result in this session to export yet. Ask a question first.")
}

// lookupCache returns a previously answered question, nil on miss
func (a *Agent) lookupCache(ctx context.Context, key cache.Key) *Answer {
	if a.answers == nil {
		return nil
	}

	data, err := a.answers.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, cache.ErrMiss) {
			metrics.RecordCacheEvent("miss")
		} else {
			metrics.RecordCacheEvent("error")
			logging.Warnf("answer cache lookup failed: %v", err)
		}

		return nil
	}

	var answer Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		metrics.RecordCacheEvent("error")
		logging.Warnf("discarding undecodable cache entry %s: %v", key.Fingerprint(), err)

		return nil
	}

	metrics.RecordCacheEvent("hit")

	answer.Cached = true

	return &answer
}

// storeCache persists an answered result. Cancelled requests write
// nothing; failures only log, caching is an optimization.
func (a *Agent) storeCache(ctx context.Context, key cache.Key, answer *Answer) {
	if a.answers == nil || answer.Status != StatusAnswered || ctx.Err() != nil {
		return
	}

	data, err := json.Marshal(answer)
	if err != nil {
		logging.Warnf("failed to encode answer for caching: %v", err)
		return
	}

	if err := a.answers.Set(ctx, key, data, a.cfg.CacheTTL); err != nil {
		metrics.RecordCacheEvent("error")
		logging.Warnf("failed to cache answer: %v", err)

		return
	}

	metrics.RecordCacheEvent("store")
}

// remember appends an answered exchange to the session history
func (a *Agent) remember(req Request, question string, answer *Answer) {
	if a.sessions == nil || req.SessionID == "" || answer.Status != StatusAnswered {
		return
	}

	a.sessions.Append(req.SessionID, history.Exchange{
		Question: question,
		SQL:      answer.SQL,
		Summary:  answer.Summary,
		Result:   answer.Result,
	})
}

func (a *Agent) recordExecution(result *executor.Result) {
	outcome := "ok"
	if result.Truncated {
		outcome = "truncated"
	}

	metrics.RecordExecution(outcome, result.RowCount)
}

func (a *Agent) scope(req Request) string {
	if req.Scope != "" {
		return req.Scope
	}

	if a.cfg.Scope != "" {
		return a.cfg.Scope
	}

	return "default"
}

// basicSummary is the deterministic narration used when the model is
// unavailable or summaries are disabled
func basicSummary(result *executor.Result) string {
	switch {
	case result.RowCount == 0:
		return "The query returned no rows."
	case result.RowCount == 1 && len(result.Columns) == 1:
		return fmt.Sprintf("%s: %s", result.Columns[0], format.FormatCell(result.Rows[0][0]))
	case result.Truncated:
		return fmt.Sprintf("The query returned more rows than the cap; showing the first %d.", result.RowCount)
	default:
		return fmt.Sprintf("The query returned %d rows.", result.RowCount)
	}
}

// SweepSessions drops idle session histories. Intended to be called
// periodically by the serving layer.
func (a *Agent) SweepSessions() int {
	if a.sessions == nil {
		return 0
	}

	return a.sessions.Sweep()
}
