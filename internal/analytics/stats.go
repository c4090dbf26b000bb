package analytics

import (
	"time"

	"github.com/civicpulse/backend/internal/models"
)

const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// IssueStats summarizes a tenant's issues over a trailing window, with a
// trend label comparing the window against the immediately preceding one.
type IssueStats struct {
	TotalIssues    int            `json:"total_issues"`
	OpenIssues     int            `json:"open_issues"`
	ResolvedIssues int            `json:"resolved_issues"`
	ByCategory     map[string]int `json:"by_category"`
	BySeverity     map[string]int `json:"by_severity"`
	Trend          string         `json:"trend"`
	WindowDays     int            `json:"window_days"`
}

// ComputeIssueStats expects issues covering at least the two most recent
// windows (created_at >= now − 2·days); older entries are ignored.
func ComputeIssueStats(issues []models.Issue, now time.Time, days int) IssueStats {
	if days <= 0 {
		days = 30
	}
	windowStart := now.AddDate(0, 0, -days)
	prevStart := now.AddDate(0, 0, -2*days)

	stats := IssueStats{
		ByCategory: map[string]int{},
		BySeverity: map[string]int{},
		WindowDays: days,
	}

	previous := 0
	for _, issue := range issues {
		if issue.CreatedAt.After(now) || issue.CreatedAt.Before(prevStart) {
			continue
		}
		if issue.CreatedAt.Before(windowStart) {
			previous++
			continue
		}
		stats.TotalIssues++
		if issue.IsOpen() {
			stats.OpenIssues++
		} else {
			stats.ResolvedIssues++
		}
		stats.ByCategory[issue.Category]++
		stats.BySeverity[issue.Severity]++
	}

	stats.Trend = ComputeTrend(stats.TotalIssues, previous)
	return stats
}

// ComputeTrend labels the direction of change with a 10% dead band so small
// fluctuations read as stable.
func ComputeTrend(current, previous int) string {
	c, p := float64(current), float64(previous)
	switch {
	case c > p*1.1:
		return TrendIncreasing
	case c < p*0.9:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
