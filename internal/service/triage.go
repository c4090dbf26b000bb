package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/civicpulse/backend/internal/errs"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/internal/utils"
)

// TriageResult is what the ingestion boundary returns to the caller.
type TriageResult struct {
	ReportID   int64   `json:"report_id"`
	IssueID    int64   `json:"issue_id"`
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// SweepSummary reports the outcome of one batch pass over unprocessed
// reports.
type SweepSummary struct {
	Reports   int           `json:"reports"`
	Matched   int           `json:"matched"`
	Created   int           `json:"created"`
	Errors    int           `json:"errors"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Elapsed   time.Duration `json:"-"`
}

// Pipeline is the single entry point for report intake:
// normalize -> classify -> match-or-create -> link.
type Pipeline struct {
	Store      TriageStore
	Classifier *Classifier
	Matcher    *Matcher

	// Geocoder and AreaRadiusKm drive optional nearest-area inference when
	// the classifier suggests no area.
	Geocoder     Geocoder
	AreaRadiusKm float64

	Workers int
	Logger  zerolog.Logger
	Now     func() time.Time

	creation *keyedMutex
	initOnce sync.Once
}

func NewPipeline(store TriageStore, classifier *Classifier, matcher *Matcher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Store:      store,
		Classifier: classifier,
		Matcher:    matcher,
		Workers:    8,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (p *Pipeline) init() {
	p.initOnce.Do(func() {
		if p.creation == nil {
			p.creation = newKeyedMutex()
		}
		if p.Now == nil {
			p.Now = time.Now
		}
	})
}

// ProcessReport runs the triage pipeline for one report. Re-processing an
// already-processed report is a no-op returning the existing linkage.
func (p *Pipeline) ProcessReport(ctx context.Context, reportID int64) (TriageResult, error) {
	p.init()

	report, err := p.Store.GetReport(ctx, reportID)
	if err != nil {
		return TriageResult{}, err
	}
	if report.Processed {
		result := TriageResult{ReportID: report.ID, Reasoning: "already processed"}
		if report.IssueID != nil {
			result.IssueID = *report.IssueID
			result.Matched = true
		}
		return result, nil
	}

	description := utils.NormalizeText(report.Description)
	location := utils.NormalizeLocation(report.Location)

	cls, err := p.Classifier.Classify(ctx, report.Description, report.Location)
	if err != nil {
		return TriageResult{}, err
	}

	p.Logger.Debug().
		Int64("report_id", report.ID).
		Str("category", cls.Category).
		Str("severity", cls.Severity).
		Strs("keywords", utils.ExtractKeywords(report.Description, 10)).
		Msg("triage: classified")

	// The match-or-create decision is serialized per (tenant, category) so
	// two concurrent reports of the same new incident cannot both create an
	// issue. Unrelated tenants and categories stay parallel.
	unlock := p.creation.Lock(creationKey(report.TenantID, cls.Category))
	defer unlock()

	result, err := p.matchOrCreate(ctx, report, cls, description, location, true)
	if err != nil {
		return TriageResult{}, err
	}

	if err := p.Store.LinkReport(ctx, report.ID, result.IssueID); err != nil {
		return TriageResult{}, err
	}
	result.ReportID = report.ID
	return result, nil
}

func (p *Pipeline) matchOrCreate(ctx context.Context, report models.Report, cls models.Classification, description, location string, allowRetry bool) (TriageResult, error) {
	candidates, err := p.fetchCandidates(ctx, report.TenantID, cls.Category)
	if err != nil {
		return TriageResult{}, err
	}

	match, err := p.Matcher.Match(ctx, description, candidates)
	if err != nil {
		return TriageResult{}, err
	}
	if match.Match {
		// The existing issue keeps its classification; a later report
		// never overwrites category or severity.
		return TriageResult{IssueID: match.IssueID, Matched: true, Confidence: match.Confidence, Reasoning: match.Reasoning}, nil
	}

	areaID := p.resolveArea(ctx, report.TenantID, cls, location)
	issue, err := p.Store.CreateIssue(ctx, models.NewIssue(report.TenantID, areaID, cls.Category, cls.Severity, p.Now().UTC()))
	if err != nil {
		if errors.Is(err, errs.ErrConflict) && allowRetry {
			// Lost a creation race (another instance); re-query and
			// re-match once before surfacing the conflict.
			p.Logger.Warn().Int64("report_id", report.ID).Msg("triage: issue creation conflict, re-matching")
			return p.matchOrCreate(ctx, report, cls, description, location, false)
		}
		return TriageResult{}, err
	}
	return TriageResult{IssueID: issue.ID, Matched: false, Confidence: match.Confidence, Reasoning: match.Reasoning}, nil
}

// fetchCandidates loads the most recent open issues for the tenant,
// narrowed by the classified category, each described by its earliest
// linked report.
func (p *Pipeline) fetchCandidates(ctx context.Context, tenantID int64, category string) ([]models.Candidate, error) {
	return p.Store.ListOpenIssueCandidates(ctx, tenantID, category, p.Matcher.MaxCandidates)
}

// resolveArea attaches an area to a new issue: by the classifier's
// suggestion first, then by geocoding the report location and picking the
// nearest area with known coordinates. Failures here only cost the area
// reference, never the issue.
func (p *Pipeline) resolveArea(ctx context.Context, tenantID int64, cls models.Classification, location string) *int64 {
	if cls.SuggestedArea != "" {
		area, err := p.Store.FindAreaByName(ctx, tenantID, cls.SuggestedArea)
		if err == nil {
			return &area.ID
		}
		if !errors.Is(err, errs.ErrNotFound) {
			p.Logger.Warn().Err(err).Msg("triage: area lookup failed")
		}
	}

	if p.Geocoder == nil || location == "" {
		return nil
	}
	lat, lon, _, _, err := p.Geocoder.Geocode(ctx, location)
	if err != nil {
		p.Logger.Warn().Err(err).Str("location", location).Msg("triage: geocode failed")
		return nil
	}
	areas, err := p.Store.ListAreasByTenant(ctx, tenantID)
	if err != nil {
		p.Logger.Warn().Err(err).Msg("triage: area listing failed")
		return nil
	}

	radius := p.AreaRadiusKm
	if radius <= 0 {
		radius = 5.0
	}
	var nearest *models.Area
	nearestDist := 0.0
	for idx := range areas {
		a := areas[idx]
		if a.Lat == nil || a.Lon == nil {
			continue
		}
		d := utils.HaversineKm(lat, lon, *a.Lat, *a.Lon)
		if d <= radius && (nearest == nil || d < nearestDist) {
			nearest = &areas[idx]
			nearestDist = d
		}
	}
	if nearest == nil {
		return nil
	}
	return &nearest.ID
}

// Sweep processes all unprocessed reports on a bounded worker pool. It is a
// synchronous batch entry point; scheduling belongs to the caller.
func (p *Pipeline) Sweep(ctx context.Context, limit int) (SweepSummary, error) {
	p.init()
	start := p.Now()

	reports, err := p.Store.ListUnprocessedReports(ctx, limit)
	if err != nil {
		return SweepSummary{}, err
	}

	workers := p.Workers
	if workers <= 0 {
		workers = 8
	}

	var mu sync.Mutex
	summary := SweepSummary{Reports: len(reports)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, r := range reports {
		report := r
		g.Go(func() error {
			result, err := p.ProcessReport(gctx, report.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One bad report must not sink the sweep; count and move on
				// unless the whole run is being cancelled.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				summary.Errors++
				p.Logger.Error().Err(err).Int64("report_id", report.ID).Msg("triage: sweep item failed")
				return nil
			}
			if result.Matched {
				summary.Matched++
			} else {
				summary.Created++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	summary.Elapsed = time.Since(start)
	summary.ElapsedMS = summary.Elapsed.Milliseconds()
	p.Logger.Info().
		Int("reports", summary.Reports).
		Int("matched", summary.Matched).
		Int("created", summary.Created).
		Int("errors", summary.Errors).
		Int64("elapsed_ms", summary.ElapsedMS).
		Msg("triage: sweep complete")
	return summary, nil
}

func creationKey(tenantID int64, category string) string {
	return fmt.Sprintf("%d:%s", tenantID, category)
}
