// Package intent routes questions before the SQL pipeline runs. Small
// talk, "show me the SQL", and export requests are answered from session
// state; only real analytics questions pay for generation and execution.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/kyleking/askmetrics/internal/llm"
	"github.com/kyleking/askmetrics/internal/logging"
)

// Intent names a question category
type Intent string

const (
	IntentGreeting  Intent = "greeting"
	IntentShowSQL   Intent = "show_sql"
	IntentExportCSV Intent = "export_csv"
	IntentSQLQuery  Intent = "sql_query"
	IntentUnknown   Intent = "unknown"
)

// Classification is the outcome of classifying one question
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Pattern    string  `json:"pattern,omitempty"` // regex that matched, empty for fallbacks
}

// patternRule pairs an intent with the regex that recognizes it.
// Rules are evaluated in order and the best-scoring match wins.
type patternRule struct {
	intent  Intent
	pattern *regexp.Regexp
}

var rules = []patternRule{
	{IntentGreeting, regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|thanks|thank you|good (morning|afternoon|evening))\b[\s!.,]*$`)},
	{IntentShowSQL, regexp.MustCompile(`(?i)\b(show|display|see|view)\b.*\b(sql|query)\b|\bwhat (sql|query)\b`)},
	{IntentExportCSV, regexp.MustCompile(`(?i)\b(export|download)\b|\b(as|to|in) csv\b`)},
	{IntentSQLQuery, regexp.MustCompile(`(?i)\b(how many|how much|count|total|sum|average|top|trend|compare|revenue|installs?|spend|cost|roas|profit|per (day|week|month|country|platform|app))\b`)},
}

const defaultThreshold = 0.5

// Classifier is a regex-first intent classifier with an optional
// model-backed second opinion for low-confidence matches.
type Classifier struct {
	threshold float64
	llm       llm.Service // nil disables the semantic fallback
}

// NewClassifier creates a classifier. A non-positive threshold falls
// back to the default; service may be nil.
func NewClassifier(threshold float64, service llm.Service) *Classifier {
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	return &Classifier{threshold: threshold, llm: service}
}

// Classify categorizes the question. Regex rules run first; when none
// scores above the threshold and a model is wired in, its classification
// is used instead. The default for an unrecognized question is a SQL
// query, guessing at the pipeline beats refusing to try.
func (c *Classifier) Classify(ctx context.Context, question string) Classification {
	best := c.classifyByRules(question)

	if best.Confidence >= c.threshold || c.llm == nil {
		return best
	}

	response, err := c.llm.ClassifyIntent(ctx, question)
	if err != nil {
		logging.Debugf("semantic intent classification failed: %v", err)
		return best
	}

	if response.Confidence > best.Confidence {
		return Classification{
			Intent:     normalizeIntent(response.Intent),
			Confidence: response.Confidence,
		}
	}

	return best
}

// classifyByRules runs every rule and keeps the best score. Confidence
// scales with how much of the question the match covers, an exact match
// scores near-certain.
func (c *Classifier) classifyByRules(question string) Classification {
	text := strings.ToLower(strings.TrimSpace(question))
	if text == "" {
		return Classification{Intent: IntentUnknown, Confidence: 0}
	}

	best := Classification{Intent: IntentSQLQuery, Confidence: 0.1}

	for _, rule := range rules {
		match := rule.pattern.FindString(text)
		if match == "" {
			continue
		}

		confidence := min(0.9, float64(len(match))/float64(len(text))*1.2)
		if strings.TrimSpace(match) == text {
			confidence = 0.95
		}

		if confidence > best.Confidence {
			best = Classification{
				Intent:     rule.intent,
				Confidence: confidence,
				Pattern:    rule.pattern.String(),
			}
		}
	}

	return best
}

// normalizeIntent maps a model-reported intent string onto the known set
func normalizeIntent(name string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(name))) {
	case IntentGreeting:
		return IntentGreeting
	case IntentShowSQL:
		return IntentShowSQL
	case IntentExportCSV:
		return IntentExportCSV
	case IntentSQLQuery:
		return IntentSQLQuery
	default:
		return IntentSQLQuery
	}
}
