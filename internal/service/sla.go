package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicpulse/backend/internal/models"
)

// SLAPolicy derives resolution deadlines. Defaults: 24h for critical
// severity, 72h otherwise; per-category/severity overrides win over both.
type SLAPolicy struct {
	Critical  time.Duration
	Default   time.Duration
	Overrides map[string]time.Duration
}

func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{Critical: 24 * time.Hour, Default: 72 * time.Hour}
}

// OverrideKey builds the lookup key for a per-category/severity threshold.
func OverrideKey(category, severity string) string {
	return strings.ToLower(category) + "/" + strings.ToLower(severity)
}

func (p SLAPolicy) Threshold(category, severity string) time.Duration {
	if d, ok := p.Overrides[OverrideKey(category, severity)]; ok {
		return d
	}
	if severity == "critical" {
		if p.Critical > 0 {
			return p.Critical
		}
		return 24 * time.Hour
	}
	if p.Default > 0 {
		return p.Default
	}
	return 72 * time.Hour
}

// SLASummary reports one batch SLA pass.
type SLASummary struct {
	Computed  int   `json:"computed"`
	Met       int   `json:"met"`
	Missed    int   `json:"missed"`
	Errors    int   `json:"errors"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// SLATracker computes compliance metrics for resolved issues. Computation
// is pure given the issue; the batch entry point exists for the scheduling
// collaborator.
type SLATracker struct {
	Store  SLAStore
	Policy SLAPolicy
	Logger zerolog.Logger
	Now    func() time.Time
}

func NewSLATracker(store SLAStore, policy SLAPolicy, logger zerolog.Logger) *SLATracker {
	return &SLATracker{Store: store, Policy: policy, Logger: logger, Now: time.Now}
}

// Compute derives the metric for a resolved issue. resolution_time_hours is
// fractional; met_sla compares it against the policy threshold.
func (t *SLATracker) Compute(issue models.Issue) (models.SLAMetric, error) {
	if issue.Status != models.IssueStatusResolved || issue.ResolvedAt == nil {
		return models.SLAMetric{}, fmt.Errorf("issue %d is not resolved", issue.ID)
	}
	hours := issue.ResolvedAt.Sub(issue.CreatedAt).Hours()
	if hours < 0 {
		return models.SLAMetric{}, fmt.Errorf("issue %d resolved before creation", issue.ID)
	}
	threshold := t.Policy.Threshold(issue.Category, issue.Severity)
	return models.SLAMetric{
		IssueID:             issue.ID,
		ResolutionTimeHours: hours,
		MetSLA:              hours <= threshold.Hours(),
		CalculatedAt:        t.now().UTC(),
	}, nil
}

// ComputeAndStore is the event-driven path, invoked when an issue resolves.
// Upsert semantics keep one metric per issue even on recomputation.
func (t *SLATracker) ComputeAndStore(ctx context.Context, issueID int64) (models.SLAMetric, error) {
	issue, err := t.Store.GetIssue(ctx, issueID)
	if err != nil {
		return models.SLAMetric{}, err
	}
	metric, err := t.Compute(issue)
	if err != nil {
		return models.SLAMetric{}, err
	}
	if err := t.Store.UpsertSLAMetric(ctx, metric); err != nil {
		return models.SLAMetric{}, err
	}
	return metric, nil
}

// Run sweeps resolved issues that have no metric yet (or were re-resolved
// after their metric was computed). Synchronous; the scheduler collaborator
// owns timing.
func (t *SLATracker) Run(ctx context.Context, limit int) (SLASummary, error) {
	start := t.now()

	issues, err := t.Store.ListResolvedIssuesNeedingSLA(ctx, limit)
	if err != nil {
		return SLASummary{}, err
	}

	var summary SLASummary
	for _, issue := range issues {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		metric, err := t.Compute(issue)
		if err != nil {
			summary.Errors++
			t.Logger.Warn().Err(err).Int64("issue_id", issue.ID).Msg("sla: compute failed")
			continue
		}
		if err := t.Store.UpsertSLAMetric(ctx, metric); err != nil {
			summary.Errors++
			t.Logger.Error().Err(err).Int64("issue_id", issue.ID).Msg("sla: upsert failed")
			continue
		}
		summary.Computed++
		if metric.MetSLA {
			summary.Met++
		} else {
			summary.Missed++
		}
	}

	summary.ElapsedMS = time.Since(start).Milliseconds()
	t.Logger.Info().
		Int("computed", summary.Computed).
		Int("met", summary.Met).
		Int("missed", summary.Missed).
		Int("errors", summary.Errors).
		Msg("sla: pass complete")
	return summary, nil
}

func (t *SLATracker) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}
