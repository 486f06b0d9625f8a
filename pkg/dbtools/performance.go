package dbtools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FreePeak/database-mcp-server/pkg/logger"
)

// QueryMetrics stores performance metrics for a database query
type QueryMetrics struct {
	Query         string        // SQL query text
	Count         int           // Number of times the query was executed
	Errors        int           // Executions that returned an error
	TotalDuration time.Duration // Total execution time
	MinDuration   time.Duration // Minimum execution time
	MaxDuration   time.Duration // Maximum execution time
	AvgDuration   time.Duration // Average execution time
	LastExecuted  time.Time     // When the query was last executed
}

// PerformanceAnalyzer tracks and analyzes database query performance
type PerformanceAnalyzer struct {
	metrics       map[string]*QueryMetrics // Map of query metrics keyed by normalized query string
	slowThreshold time.Duration            // Threshold for identifying slow queries (default: 500ms)
	mutex         sync.RWMutex             // Mutex for thread-safe access to metrics
	enabled       bool                     // Whether performance analysis is enabled
}

// NewPerformanceAnalyzer creates a new performance analyzer with default settings
func NewPerformanceAnalyzer() *PerformanceAnalyzer {
	return &PerformanceAnalyzer{
		metrics:       make(map[string]*QueryMetrics),
		slowThreshold: 500 * time.Millisecond,
		enabled:       true,
	}
}

// TrackQuery wraps a database query execution to track its performance
func (pa *PerformanceAnalyzer) TrackQuery(ctx context.Context, query string, params []interface{}, fn func() (interface{}, error)) (interface{}, error) {
	pa.mutex.RLock()
	enabled, threshold := pa.enabled, pa.slowThreshold
	pa.mutex.RUnlock()

	if !enabled {
		return fn()
	}

	startTime := time.Now()
	result, err := fn()
	duration := time.Since(startTime)

	// Log slow queries immediately
	if duration >= threshold {
		logger.Warn("Slow query detected (%.2fms): %s [params: %s]",
			float64(duration.Microseconds())/1000, query, formatParams(params))
	}

	pa.updateMetrics(query, duration, err)

	return result, err
}

// updateMetrics updates the performance metrics for a query
func (pa *PerformanceAnalyzer) updateMetrics(query string, duration time.Duration, execErr error) {
	// Normalize the query by removing specific parameter values
	normalizedQuery := normalizeQuery(query)

	pa.mutex.Lock()
	defer pa.mutex.Unlock()

	metrics, ok := pa.metrics[normalizedQuery]
	if !ok {
		metrics = &QueryMetrics{
			Query:       query,
			MinDuration: duration,
			MaxDuration: duration,
		}
		pa.metrics[normalizedQuery] = metrics
	}

	metrics.Count++
	if execErr != nil {
		metrics.Errors++
	}
	metrics.TotalDuration += duration
	metrics.AvgDuration = metrics.TotalDuration / time.Duration(metrics.Count)
	metrics.LastExecuted = time.Now()

	if duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}
}

// GetSlowQueries returns the list of slow queries that exceed the threshold
func (pa *PerformanceAnalyzer) GetSlowQueries() []QueryMetrics {
	pa.mutex.RLock()
	defer pa.mutex.RUnlock()

	var slowQueries []QueryMetrics
	for _, metrics := range pa.metrics {
		if metrics.AvgDuration >= pa.slowThreshold {
			slowQueries = append(slowQueries, *metrics)
		}
	}

	sortBySlowest(slowQueries)
	return slowQueries
}

// GetAllMetrics returns all collected query metrics sorted by average duration
func (pa *PerformanceAnalyzer) GetAllMetrics() []QueryMetrics {
	pa.mutex.RLock()
	defer pa.mutex.RUnlock()

	metrics := make([]QueryMetrics, 0, len(pa.metrics))
	for _, m := range pa.metrics {
		metrics = append(metrics, *m)
	}

	sortBySlowest(metrics)
	return metrics
}

func sortBySlowest(metrics []QueryMetrics) {
	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].AvgDuration == metrics[j].AvgDuration {
			return metrics[i].Query < metrics[j].Query
		}
		return metrics[i].AvgDuration > metrics[j].AvgDuration
	})
}

// SlowThreshold returns the current slow query threshold
func (pa *PerformanceAnalyzer) SlowThreshold() time.Duration {
	pa.mutex.RLock()
	defer pa.mutex.RUnlock()
	return pa.slowThreshold
}

// SetSlowThreshold sets the threshold for identifying slow queries
func (pa *PerformanceAnalyzer) SetSlowThreshold(threshold time.Duration) {
	pa.mutex.Lock()
	defer pa.mutex.Unlock()
	pa.slowThreshold = threshold
}

// Enable enables performance analysis
func (pa *PerformanceAnalyzer) Enable() {
	pa.mutex.Lock()
	defer pa.mutex.Unlock()
	pa.enabled = true
}

// Disable disables performance analysis
func (pa *PerformanceAnalyzer) Disable() {
	pa.mutex.Lock()
	defer pa.mutex.Unlock()
	pa.enabled = false
}

// Reset clears all collected metrics
func (pa *PerformanceAnalyzer) Reset() {
	pa.mutex.Lock()
	defer pa.mutex.Unlock()
	pa.metrics = make(map[string]*QueryMetrics)
}

var (
	singleQuoted = regexp.MustCompile(`'[^']*'`)
	doubleQuoted = regexp.MustCompile(`"[^"]*"`)
	numbers      = regexp.MustCompile(`\b\d+\b`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// normalizeQuery removes specific parameter values from a query for grouping similar queries
func normalizeQuery(query string) string {
	normalized := singleQuoted.ReplaceAllString(query, "'?'")
	normalized = doubleQuoted.ReplaceAllString(normalized, "\"?\"")
	normalized = numbers.ReplaceAllString(normalized, "?")
	normalized = whitespace.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// formatParams formats query parameters for logging
func formatParams(params []interface{}) string {
	if len(params) == 0 {
		return "none"
	}

	parts := make([]string, len(params))
	for i, param := range params {
		parts[i] = fmt.Sprintf("%v", param)
	}

	return strings.Join(parts, ", ")
}

// AnalyzeQuery provides optimization suggestions for a given query
func AnalyzeQuery(query string) []string {
	suggestions := []string{}
	upper := strings.ToUpper(query)

	if strings.Contains(upper, "SELECT *") {
		suggestions = append(suggestions, "Avoid using SELECT * - specify only the columns you need")
	}

	// Missing WHERE clause in non-aggregate queries
	if strings.Contains(upper, "SELECT") &&
		!strings.Contains(upper, "WHERE") &&
		!strings.Contains(upper, "GROUP BY") {
		suggestions = append(suggestions, "Consider adding a WHERE clause to limit the result set")
	}

	if strings.Contains(upper, "JOIN") &&
		!strings.Contains(upper, " ON ") &&
		!strings.Contains(upper, "USING") {
		suggestions = append(suggestions, "Ensure all JOINs have proper conditions")
	}

	if strings.Contains(upper, "ORDER BY") {
		suggestions = append(suggestions, "Verify that ORDER BY columns are properly indexed")
	}

	if strings.Contains(upper, "IN (SELECT") {
		suggestions = append(suggestions, "Consider replacing subqueries with JOINs where possible")
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions,
			"Consider adding appropriate indexes for frequently queried columns",
			"Review query execution plan with EXPLAIN to identify bottlenecks")
	}

	return suggestions
}

// Global instance of the performance analyzer
var (
	performanceAnalyzer     *PerformanceAnalyzer
	performanceAnalyzerOnce sync.Once
)

// GetPerformanceAnalyzer returns the global performance analyzer instance
func GetPerformanceAnalyzer() *PerformanceAnalyzer {
	performanceAnalyzerOnce.Do(func() {
		performanceAnalyzer = NewPerformanceAnalyzer()
	})
	return performanceAnalyzer
}

// MetricsPayload renders metrics for tool output
func MetricsPayload(metrics []QueryMetrics, threshold time.Duration) []map[string]interface{} {
	out := make([]map[string]interface{}, len(metrics))

	for i, m := range metrics {
		entry := map[string]interface{}{
			"query":          m.Query,
			"count":          m.Count,
			"errors":         m.Errors,
			"avg_duration":   formatMillis(m.AvgDuration),
			"min_duration":   formatMillis(m.MinDuration),
			"max_duration":   formatMillis(m.MaxDuration),
			"total_duration": formatMillis(m.TotalDuration),
			"last_executed":  m.LastExecuted.Format(time.RFC3339),
		}
		if m.AvgDuration >= threshold {
			entry["suggestions"] = AnalyzeQuery(m.Query)
		}
		out[i] = entry
	}

	return out
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
}
