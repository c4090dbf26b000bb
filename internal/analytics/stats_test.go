package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/civicpulse/backend/internal/models"
)

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		previous int
		want     string
	}{
		{"growth beyond band", 120, 100, TrendIncreasing},
		{"drop beyond band", 85, 100, TrendDecreasing},
		{"flat", 100, 100, TrendStable},
		{"within upper band", 109, 100, TrendStable},
		{"within lower band", 91, 100, TrendStable},
		{"both zero", 0, 0, TrendStable},
		{"from zero", 5, 0, TrendIncreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeTrend(tt.current, tt.previous))
		})
	}
}

func TestComputeIssueStats(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mk := func(daysAgo int, category, severity, status string) models.Issue {
		return models.Issue{
			Category: category, Severity: severity, Status: status,
			CreatedAt: now.AddDate(0, 0, -daysAgo),
		}
	}
	issues := []models.Issue{
		mk(1, "infrastructure", "high", models.IssueStatusOpen),
		mk(5, "infrastructure", "low", models.IssueStatusResolved),
		mk(10, "sanitation", "medium", models.IssueStatusOpen),
		// previous window
		mk(40, "noise", "low", models.IssueStatusResolved),
		// outside both windows, ignored
		mk(70, "safety", "critical", models.IssueStatusOpen),
	}

	stats := ComputeIssueStats(issues, now, 30)

	assert.Equal(t, 3, stats.TotalIssues)
	assert.Equal(t, 2, stats.OpenIssues)
	assert.Equal(t, 1, stats.ResolvedIssues)
	assert.Equal(t, 2, stats.ByCategory["infrastructure"])
	assert.Equal(t, 1, stats.BySeverity["medium"])
	assert.Equal(t, TrendIncreasing, stats.Trend)
	assert.Equal(t, 30, stats.WindowDays)
}
