package service

import (
	"context"

	"github.com/civicpulse/backend/internal/models"
)

// TriageStore is the slice of the persistence collaborator the pipeline
// needs. *db.Store satisfies it; tests substitute in-memory fakes.
type TriageStore interface {
	GetReport(ctx context.Context, id int64) (models.Report, error)
	ListOpenIssueCandidates(ctx context.Context, tenantID int64, category string, limit int) ([]models.Candidate, error)
	CreateIssue(ctx context.Context, issue models.Issue) (models.Issue, error)
	LinkReport(ctx context.Context, reportID, issueID int64) error
	ListUnprocessedReports(ctx context.Context, limit int) ([]models.Report, error)
	FindAreaByName(ctx context.Context, tenantID int64, name string) (models.Area, error)
	ListAreasByTenant(ctx context.Context, tenantID int64) ([]models.Area, error)
}

// SLAStore is the persistence slice the SLA tracker needs.
type SLAStore interface {
	GetIssue(ctx context.Context, id int64) (models.Issue, error)
	ListResolvedIssuesNeedingSLA(ctx context.Context, limit int) ([]models.Issue, error)
	UpsertSLAMetric(ctx context.Context, m models.SLAMetric) error
}

// Geocoder resolves a free-text location to coordinates. Optional for the
// pipeline; a nil geocoder disables area inference by proximity.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat float64, lon float64, displayName string, confidence float64, err error)
}
