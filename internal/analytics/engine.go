package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicpulse/backend/internal/models"
)

// Store is the persistence slice the engine reads and the score series it
// appends to. *db.Store satisfies it.
type Store interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	ListAreasByTenant(ctx context.Context, tenantID int64) ([]models.Area, error)
	ListIssuesByTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]models.Issue, error)
	ListSLAMetricsForTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]models.SLAMetric, error)
	ListSLAMetricsForAreaSince(ctx context.Context, areaID int64, since time.Time) ([]models.SLAMetric, error)
	InsertScoreEntry(ctx context.Context, e models.ScoreEntry) (models.ScoreEntry, error)
	LatestTenantScores(ctx context.Context, metricType string) ([]models.ScoreEntry, error)
	LatestAreaScores(ctx context.Context, tenantID int64, metricType string) ([]models.ScoreEntry, error)
}

// Engine exposes the read-mostly aggregation surface: stats, time series,
// score computation, and rankings. All entry points are synchronous; the
// scheduling collaborator owns timing.
type Engine struct {
	Store  Store
	Logger zerolog.Logger
	Now    func() time.Time
}

func NewEngine(store Store, logger zerolog.Logger) *Engine {
	return &Engine{Store: store, Logger: logger, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now().UTC()
}

// TenantStats computes issue statistics for a trailing window of days.
func (e *Engine) TenantStats(ctx context.Context, tenantID int64, days int) (IssueStats, error) {
	if days <= 0 {
		days = 30
	}
	now := e.now()
	issues, err := e.Store.ListIssuesByTenantSince(ctx, tenantID, now.AddDate(0, 0, -2*days))
	if err != nil {
		return IssueStats{}, err
	}
	return ComputeIssueStats(issues, now, days), nil
}

// TimeSeriesResult carries the gap-free buckets plus a smoothed view of
// the same values.
type TimeSeriesResult struct {
	Interval Interval  `json:"interval"`
	Buckets  []Bucket  `json:"buckets"`
	Smoothed []float64 `json:"smoothed"`
}

// TenantIssueSeries buckets issue creations for a tenant over a trailing
// window and smooths them with a trailing moving average.
func (e *Engine) TenantIssueSeries(ctx context.Context, tenantID int64, interval Interval, days, smoothingWindow int) (TimeSeriesResult, error) {
	if days <= 0 {
		days = 30
	}
	if smoothingWindow <= 0 {
		smoothingWindow = 7
	}
	now := e.now()
	from := now.AddDate(0, 0, -days)

	issues, err := e.Store.ListIssuesByTenantSince(ctx, tenantID, from)
	if err != nil {
		return TimeSeriesResult{}, err
	}
	points := make([]TimePoint, 0, len(issues))
	for _, issue := range issues {
		points = append(points, TimePoint{Timestamp: issue.CreatedAt, Value: 1})
	}

	buckets, err := BuildTimeSeries(points, interval, AggCount, from, now)
	if err != nil {
		return TimeSeriesResult{}, err
	}
	values := make([]float64, len(buckets))
	for i, b := range buckets {
		values[i] = b.Value
	}
	return TimeSeriesResult{
		Interval: interval,
		Buckets:  buckets,
		Smoothed: SmoothTrend(values, smoothingWindow),
	}, nil
}

// ScoreRunSummary reports one score-computation batch.
type ScoreRunSummary struct {
	TenantScores int   `json:"tenant_scores"`
	AreaScores   int   `json:"area_scores"`
	Skipped      int   `json:"skipped"`
	ElapsedMS    int64 `json:"elapsed_ms"`
}

// ComputeScores appends a fresh score entry per tenant (and per area with
// data) from SLA metrics in the trailing window. Entries are append-only;
// each run produces new rows rather than updating old ones.
func (e *Engine) ComputeScores(ctx context.Context, windowDays int) (ScoreRunSummary, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	now := e.now()
	since := now.AddDate(0, 0, -windowDays)
	start := time.Now()

	tenants, err := e.Store.ListTenants(ctx)
	if err != nil {
		return ScoreRunSummary{}, err
	}

	var summary ScoreRunSummary
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		metrics, err := e.Store.ListSLAMetricsForTenantSince(ctx, tenant.ID, since)
		if err != nil {
			return summary, err
		}
		if len(metrics) == 0 {
			summary.Skipped++
			continue
		}
		score := scoreFromMetrics(metrics)
		if _, err := e.Store.InsertScoreEntry(ctx, models.ScoreEntry{
			TenantID:     tenant.ID,
			Score:        score,
			MetricType:   MetricOverall,
			CalculatedAt: now,
		}); err != nil {
			return summary, err
		}
		summary.TenantScores++

		areas, err := e.Store.ListAreasByTenant(ctx, tenant.ID)
		if err != nil {
			return summary, err
		}
		for _, area := range areas {
			areaMetrics, err := e.Store.ListSLAMetricsForAreaSince(ctx, area.ID, since)
			if err != nil {
				return summary, err
			}
			if len(areaMetrics) == 0 {
				continue
			}
			areaID := area.ID
			if _, err := e.Store.InsertScoreEntry(ctx, models.ScoreEntry{
				TenantID:     tenant.ID,
				AreaID:       &areaID,
				Score:        scoreFromMetrics(areaMetrics),
				MetricType:   MetricOverall,
				CalculatedAt: now,
			}); err != nil {
				return summary, err
			}
			summary.AreaScores++
		}
	}

	summary.ElapsedMS = time.Since(start).Milliseconds()
	e.Logger.Info().
		Int("tenant_scores", summary.TenantScores).
		Int("area_scores", summary.AreaScores).
		Int("skipped", summary.Skipped).
		Msg("analytics: score computation complete")
	return summary, nil
}

func scoreFromMetrics(metrics []models.SLAMetric) float64 {
	met := 0
	totalHours := 0.0
	for _, m := range metrics {
		if m.MetSLA {
			met++
		}
		totalHours += m.ResolutionTimeHours
	}
	n := float64(len(metrics))
	return PerformanceScore(float64(met)/n, totalHours/n)
}

// TenantLeaderboard ranks tenants by their latest overall score.
func (e *Engine) TenantLeaderboard(ctx context.Context) ([]RankedEntry, error) {
	entries, err := e.Store.LatestTenantScores(ctx, MetricOverall)
	if err != nil {
		return nil, err
	}
	tenants, err := e.Store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(tenants))
	for _, t := range tenants {
		names[t.ID] = t.DisplayName()
	}
	return RankScores(entries, func(s models.ScoreEntry) int64 { return s.TenantID }, names), nil
}

// AreaLeaderboard ranks a tenant's areas by their latest overall score.
func (e *Engine) AreaLeaderboard(ctx context.Context, tenantID int64) ([]RankedEntry, error) {
	entries, err := e.Store.LatestAreaScores(ctx, tenantID, MetricOverall)
	if err != nil {
		return nil, err
	}
	areas, err := e.Store.ListAreasByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(areas))
	for _, a := range areas {
		names[a.ID] = a.Name
	}
	return RankScores(entries, func(s models.ScoreEntry) int64 {
		if s.AreaID == nil {
			return 0
		}
		return *s.AreaID
	}, names), nil
}
