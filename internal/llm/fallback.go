package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// FallbackService provides basic functionality when LLM services are unavailable
type FallbackService struct{}

// NewFallbackService creates a new fallback service
func NewFallbackService() *FallbackService {
	return &FallbackService{}
}

// Configure is a no-op for the fallback service
func (f *FallbackService) Configure(config Config) error {
	return nil
}

// GenerateSQL provides basic question parsing without LLM
func (f *FallbackService) GenerateSQL(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	sql, explanation := f.parseBasicQuestion(req.Question, req.Dialect)

	response := &GenerateResponse{
		SQL:         sql,
		Explanation: explanation,
		Confidence:  0.4, // Low confidence for rule-based generation
		Reasoning:   "Generated using rule-based fallback parser",
	}

	return response, nil
}

// SummarizeResult provides a basic result narration without LLM
func (f *FallbackService) SummarizeResult(ctx context.Context, req SummarizeRequest) (*SummaryResponse, error) {
	response := &SummaryResponse{
		Answer:     f.buildBasicSummary(req),
		Confidence: 0.3, // Low confidence for rule-based summaries
	}

	return response, nil
}

// ClassifyIntent provides basic intent classification without LLM
func (f *FallbackService) ClassifyIntent(ctx context.Context, question string) (*IntentResponse, error) {
	q := strings.ToLower(strings.TrimSpace(question))

	greetings := []string{"hello", "hi", "hey", "thanks", "thank you", "good morning", "good afternoon"}
	for _, g := range greetings {
		if q == g || strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+",") || strings.HasPrefix(q, g+"!") {
			return &IntentResponse{Intent: "greeting", Confidence: 0.9}, nil
		}
	}

	if strings.Contains(q, "show sql") || strings.Contains(q, "show the sql") ||
		strings.Contains(q, "show the query") || strings.Contains(q, "what sql") {
		return &IntentResponse{Intent: "show_sql", Confidence: 0.8}, nil
	}

	if strings.Contains(q, "export") || strings.Contains(q, "csv") || strings.Contains(q, "download") {
		return &IntentResponse{Intent: "export_csv", Confidence: 0.8}, nil
	}

	metricWords := []string{"revenue", "install", "spend", "cost", "roas", "metric", "country", "platform", "ios", "android", "app"}
	for _, w := range metricWords {
		if strings.Contains(q, w) {
			return &IntentResponse{Intent: "sql_query", Confidence: 0.6}, nil
		}
	}

	if strings.HasSuffix(q, "?") || strings.HasPrefix(q, "how ") || strings.HasPrefix(q, "what ") ||
		strings.HasPrefix(q, "which ") || strings.HasPrefix(q, "show ") {
		return &IntentResponse{Intent: "sql_query", Confidence: 0.5}, nil
	}

	return &IntentResponse{Intent: "unknown", Confidence: 0.4}, nil
}

// parseBasicQuestion maps common metric questions to canned SQL
func (f *FallbackService) parseBasicQuestion(question, dialect string) (string, string) {
	q := strings.ToLower(question)

	where := f.timeFilter(q, dialect)
	if p := f.platformFilter(q); p != "" {
		if where != "" {
			where += " AND " + p
		} else {
			where = p
		}
	}
	if where != "" {
		where = " WHERE " + where
	}

	group, groupLabel := f.grouping(q)

	// Check for specific metrics first (more specific than generic list/show)
	if strings.Contains(q, "roas") || strings.Contains(q, "return on ad spend") {
		if group != "" {
			return fmt.Sprintf("SELECT %s, SUM(in_app_revenue + ads_revenue) / NULLIF(SUM(ua_cost), 0) AS roas FROM app_metrics%s GROUP BY %s ORDER BY roas DESC", group, where, group),
				"Computes revenue over UA cost" + groupLabel
		}
		return fmt.Sprintf("SELECT SUM(in_app_revenue + ads_revenue) / NULLIF(SUM(ua_cost), 0) AS roas FROM app_metrics%s", where),
			"Computes revenue over UA cost"
	}

	if strings.Contains(q, "profit") || strings.Contains(q, "margin") {
		if group != "" {
			return fmt.Sprintf("SELECT %s, SUM(in_app_revenue + ads_revenue - ua_cost) AS profit FROM app_metrics%s GROUP BY %s ORDER BY profit DESC", group, where, group),
				"Computes revenue minus UA cost" + groupLabel
		}
		return fmt.Sprintf("SELECT SUM(in_app_revenue + ads_revenue - ua_cost) AS profit FROM app_metrics%s", where),
			"Computes revenue minus UA cost"
	}

	if strings.Contains(q, "revenue") || strings.Contains(q, "earn") || strings.Contains(q, "income") {
		if group != "" {
			return fmt.Sprintf("SELECT %s, SUM(in_app_revenue + ads_revenue) AS total_revenue FROM app_metrics%s GROUP BY %s ORDER BY total_revenue DESC", group, where, group),
				"Sums in-app and ads revenue" + groupLabel
		}
		return fmt.Sprintf("SELECT SUM(in_app_revenue + ads_revenue) AS total_revenue FROM app_metrics%s", where),
			"Sums in-app and ads revenue"
	}

	if strings.Contains(q, "install") || strings.Contains(q, "download") {
		if group != "" {
			return fmt.Sprintf("SELECT %s, SUM(installs) AS total_installs FROM app_metrics%s GROUP BY %s ORDER BY total_installs DESC", group, where, group),
				"Sums installs" + groupLabel
		}
		return fmt.Sprintf("SELECT SUM(installs) AS total_installs FROM app_metrics%s", where),
			"Sums installs"
	}

	if strings.Contains(q, "spend") || strings.Contains(q, "cost") || strings.Contains(q, "acquisition") {
		if group != "" {
			return fmt.Sprintf("SELECT %s, SUM(ua_cost) AS total_spend FROM app_metrics%s GROUP BY %s ORDER BY total_spend DESC", group, where, group),
				"Sums user acquisition cost" + groupLabel
		}
		return fmt.Sprintf("SELECT SUM(ua_cost) AS total_spend FROM app_metrics%s", where),
			"Sums user acquisition cost"
	}

	// Default to a bounded listing of recent rows
	return fmt.Sprintf("SELECT date, app_name, platform, country, installs, in_app_revenue, ads_revenue, ua_cost FROM app_metrics%s ORDER BY date DESC LIMIT 20", where),
		"Shows recent metric rows"
}

// timeFilter maps time phrases to a date predicate
func (f *FallbackService) timeFilter(q, dialect string) string {
	switch {
	case strings.Contains(q, "today"):
		return "date = CURRENT_DATE"
	case strings.Contains(q, "yesterday"):
		return fmt.Sprintf("date = CURRENT_DATE - %s", sqlInterval(dialect, 1))
	case strings.Contains(q, "last week") || strings.Contains(q, "past week") || strings.Contains(q, "last 7 days"):
		return fmt.Sprintf("date >= CURRENT_DATE - %s", sqlInterval(dialect, 7))
	case strings.Contains(q, "last month") || strings.Contains(q, "past month") || strings.Contains(q, "last 30 days"):
		return fmt.Sprintf("date >= CURRENT_DATE - %s", sqlInterval(dialect, 30))
	}

	return ""
}

// platformFilter maps platform mentions to a platform predicate
func (f *FallbackService) platformFilter(q string) string {
	switch {
	case strings.Contains(q, "ios") || strings.Contains(q, "iphone") || strings.Contains(q, "apple"):
		return "platform = 'iOS'"
	case strings.Contains(q, "android") || strings.Contains(q, "google play"):
		return "platform = 'Android'"
	}

	return ""
}

// grouping maps "by X" phrases to a GROUP BY column
func (f *FallbackService) grouping(q string) (string, string) {
	switch {
	case strings.Contains(q, "by country") || strings.Contains(q, "per country") || strings.Contains(q, "each country"):
		return "country", " by country"
	case strings.Contains(q, "by platform") || strings.Contains(q, "per platform") || strings.Contains(q, "each platform"):
		return "platform", " by platform"
	case strings.Contains(q, "by app") || strings.Contains(q, "per app") || strings.Contains(q, "each app"):
		return "app_name", " by app"
	case strings.Contains(q, "by day") || strings.Contains(q, "per day") || strings.Contains(q, "daily"):
		return "date", " by day"
	}

	return "", ""
}

// buildBasicSummary narrates a result set without LLM help
func (f *FallbackService) buildBasicSummary(req SummarizeRequest) string {
	if req.RowCount == 0 || len(req.Rows) == 0 {
		return "No matching data was found for this question."
	}

	if req.RowCount == 1 && len(req.Rows[0]) == 1 {
		label := "value"
		if len(req.Columns) == 1 {
			label = req.Columns[0]
		}
		return fmt.Sprintf("The query returned %s = %s.", label, formatValue(req.Rows[0][0]))
	}

	answer := fmt.Sprintf("The query returned %d rows.", req.RowCount)
	if req.Truncated {
		answer += " The result was truncated, more rows exist."
	}

	return answer
}

// formatValue renders a cell value, keeping two decimals for floats
func formatValue(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', 2, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', 2, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// sqlInterval renders a days-ago interval in the given SQL dialect
func sqlInterval(dialect string, days int) string {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return fmt.Sprintf("INTERVAL '%d days'", days)
	default:
		return fmt.Sprintf("INTERVAL %d DAY", days)
	}
}
