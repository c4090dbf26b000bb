package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	IssueStatusOpen     = "open"
	IssueStatusResolved = "resolved"
)

// Categories and severities form closed enumerations; classifier output
// outside these sets is rejected during validation.
var (
	Categories = []string{"infrastructure", "sanitation", "safety", "noise", "maintenance", "other"}
	Severities = []string{"low", "medium", "high", "critical"}
)

func ValidCategory(v string) bool { return contains(Categories, v) }
func ValidSeverity(v string) bool { return contains(Severities, v) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Tenant) DisplayName() string {
	if t.Type == "" {
		return t.Name
	}
	return fmt.Sprintf("%s (%s)", t.Name, capitalize(t.Type))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type Area struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Name      string    `json:"name"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Issue struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	AreaID     *int64     `json:"area_id,omitempty"`
	Category   string     `json:"category"`
	Severity   string     `json:"severity"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewIssue builds an open issue. Timestamps are explicit; "now" is the
// caller's decision, not the entity's.
func NewIssue(tenantID int64, areaID *int64, category, severity string, createdAt time.Time) Issue {
	return Issue{
		TenantID:  tenantID,
		AreaID:    areaID,
		Category:  category,
		Severity:  severity,
		Status:    IssueStatusOpen,
		CreatedAt: createdAt,
	}
}

func (i Issue) IsOpen() bool { return i.Status == IssueStatusOpen }

type Report struct {
	ID          int64     `json:"id"`
	IssueID     *int64    `json:"issue_id,omitempty"`
	TenantID    int64     `json:"tenant_id"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Processed   bool      `json:"processed"`
}

func NewReport(tenantID int64, description, location string, submittedAt time.Time) Report {
	return Report{
		TenantID:    tenantID,
		Description: description,
		Location:    location,
		SubmittedAt: submittedAt,
	}
}

type SLAMetric struct {
	ID                  int64     `json:"id"`
	IssueID             int64     `json:"issue_id"`
	ResolutionTimeHours float64   `json:"resolution_time_hours"`
	MetSLA              bool      `json:"met_sla"`
	CalculatedAt        time.Time `json:"calculated_at"`
}

type ScoreEntry struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id"`
	AreaID       *int64    `json:"area_id,omitempty"`
	Score        float64   `json:"score"`
	MetricType   string    `json:"metric_type"`
	CalculatedAt time.Time `json:"calculated_at"`
}

func (s ScoreEntry) LetterGrade() string {
	switch {
	case s.Score >= 90:
		return "A"
	case s.Score >= 80:
		return "B"
	case s.Score >= 70:
		return "C"
	case s.Score >= 60:
		return "D"
	default:
		return "F"
	}
}

// Classification is the validated output of the classifier. SuggestedArea is
// a free-text hint, empty when the model could not infer one.
type Classification struct {
	Category      string `json:"category"`
	Severity      string `json:"severity"`
	Summary       string `json:"summary"`
	SuggestedArea string `json:"suggested_area,omitempty"`
}

// MatchResult is the validated output of the similarity matcher. IssueID is
// meaningful only when Match is true.
type MatchResult struct {
	Match      bool    `json:"match"`
	IssueID    int64   `json:"issue_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Candidate is one open issue offered to the matcher. Callers order
// candidates before truncation; the matcher only enforces the cap.
type Candidate struct {
	IssueID     int64
	Description string
}
