package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicpulse/backend/internal/errs"
	"github.com/civicpulse/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Advisory locks guard scheduled jobs against overlapping runs across
// instances. Best effort: a held lock means "skip this trigger".
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok)
	return ok, err
}

func (s *Store) AdvisoryUnlock(ctx context.Context, key int64) error {
	_, err := s.Pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
	return err
}

// --- tenants ---

func (s *Store) CreateTenant(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO tenants (name, type, created_at) VALUES ($1, $2, $3) RETURNING id
	`, t.Name, t.Type, t.CreatedAt).Scan(&t.ID)
	return t, err
}

func (s *Store) GetTenant(ctx context.Context, id int64) (models.Tenant, error) {
	var t models.Tenant
	err := s.Pool.QueryRow(ctx, `SELECT id, name, type, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Type, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, errs.NotFound("tenant", id)
	}
	return t, err
}

func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, type, created_at FROM tenants ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- areas ---

func (s *Store) CreateArea(ctx context.Context, a models.Area) (models.Area, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO areas (tenant_id, name, lat, lon, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, a.TenantID, a.Name, a.Lat, a.Lon, a.CreatedAt).Scan(&a.ID)
	return a, err
}

func (s *Store) GetArea(ctx context.Context, id int64) (models.Area, error) {
	var a models.Area
	err := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, lat, lon, created_at FROM areas WHERE id = $1
	`, id).Scan(&a.ID, &a.TenantID, &a.Name, &a.Lat, &a.Lon, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Area{}, errs.NotFound("area", id)
	}
	return a, err
}

func (s *Store) ListAreasByTenant(ctx context.Context, tenantID int64) ([]models.Area, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, tenant_id, name, lat, lon, created_at FROM areas WHERE tenant_id = $1 ORDER BY id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Area
	for rows.Next() {
		var a models.Area
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Lat, &a.Lon, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) FindAreaByName(ctx context.Context, tenantID int64, name string) (models.Area, error) {
	var a models.Area
	err := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, lat, lon, created_at FROM areas
		WHERE tenant_id = $1 AND lower(name) = lower($2)
	`, tenantID, strings.TrimSpace(name)).Scan(&a.ID, &a.TenantID, &a.Name, &a.Lat, &a.Lon, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Area{}, errs.ErrNotFound
	}
	return a, err
}

func (s *Store) UpdateAreaCoords(ctx context.Context, areaID int64, lat, lon float64) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE areas SET lat = $1, lon = $2 WHERE id = $3`, lat, lon, areaID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("area", areaID)
	}
	return nil
}

// --- issues ---

const issueColumns = `id, tenant_id, area_id, category, severity, status, created_at, resolved_at`

func scanIssue(row pgx.Row) (models.Issue, error) {
	var i models.Issue
	err := row.Scan(&i.ID, &i.TenantID, &i.AreaID, &i.Category, &i.Severity, &i.Status, &i.CreatedAt, &i.ResolvedAt)
	return i, err
}

// CreateIssue inserts a new open issue. A unique-violation from the
// persistence layer is reported as errs.ErrConflict so the pipeline can
// re-run the match step instead of duplicating the issue.
func (s *Store) CreateIssue(ctx context.Context, i models.Issue) (models.Issue, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO issues (tenant_id, area_id, category, severity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
	`, i.TenantID, i.AreaID, i.Category, i.Severity, i.Status, i.CreatedAt).Scan(&i.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Issue{}, fmt.Errorf("create issue: %w", errs.ErrConflict)
		}
		return models.Issue{}, err
	}
	return i, nil
}

func (s *Store) GetIssue(ctx context.Context, id int64) (models.Issue, error) {
	i, err := scanIssue(s.Pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Issue{}, errs.NotFound("issue", id)
	}
	return i, err
}

// ListOpenIssues returns the most recent open issues for a tenant,
// optionally narrowed by category. This is the candidate-set query for the
// matcher, so ordering is part of the contract.
func (s *Store) ListOpenIssues(ctx context.Context, tenantID int64, category string, limit int) ([]models.Issue, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE tenant_id = $1 AND status = 'open'`
	args := []any{tenantID}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return s.queryIssues(ctx, query, args...)
}

// ListOpenIssueCandidates returns the most recent open issues for the
// tenant (optionally narrowed by category), each described by its earliest
// linked report. This is the matcher's candidate set, so both the ordering
// and the description source are part of the contract.
func (s *Store) ListOpenIssueCandidates(ctx context.Context, tenantID int64, category string, limit int) ([]models.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT i.id,
			COALESCE((
				SELECT r.description FROM reports r
				WHERE r.issue_id = i.id
				ORDER BY r.submitted_at ASC, r.id ASC
				LIMIT 1
			), i.category)
		FROM issues i
		WHERE i.tenant_id = $1 AND i.status = 'open'`
	args := []any{tenantID}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND i.category = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY i.created_at DESC, i.id DESC LIMIT $%d", len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.IssueID, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListIssues(ctx context.Context, tenantID int64, status string, limit, offset int) ([]models.Issue, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	return s.queryIssues(ctx, query, args...)
}

func (s *Store) ListIssuesByTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]models.Issue, error) {
	return s.queryIssues(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY created_at ASC, id ASC
	`, tenantID, since)
}

func (s *Store) queryIssues(ctx context.Context, query string, args ...any) ([]models.Issue, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// ResolveIssue marks an open issue resolved. Resolving an already-resolved
// issue is a no-op that returns the stored state.
func (s *Store) ResolveIssue(ctx context.Context, id int64, resolvedAt time.Time) (models.Issue, error) {
	i, err := scanIssue(s.Pool.QueryRow(ctx, `
		UPDATE issues SET status = 'resolved', resolved_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING `+issueColumns, id, resolvedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetIssue(ctx, id)
	}
	return i, err
}

// --- reports ---

const reportColumns = `id, issue_id, tenant_id, description, location, submitted_at, processed`

func scanReport(row pgx.Row) (models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.IssueID, &r.TenantID, &r.Description, &r.Location, &r.SubmittedAt, &r.Processed)
	return r, err
}

func (s *Store) CreateReport(ctx context.Context, r models.Report) (models.Report, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO reports (tenant_id, description, location, submitted_at, processed)
		VALUES ($1, $2, $3, $4, false) RETURNING id
	`, r.TenantID, r.Description, r.Location, r.SubmittedAt).Scan(&r.ID)
	return r, err
}

func (s *Store) GetReport(ctx context.Context, id int64) (models.Report, error) {
	r, err := scanReport(s.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Report{}, errs.NotFound("report", id)
	}
	return r, err
}

func (s *Store) ListReports(ctx context.Context, tenantID int64, limit, offset int) ([]models.Report, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+reportColumns+` FROM reports WHERE tenant_id = $1
		ORDER BY submitted_at DESC, id DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListUnprocessedReports(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+reportColumns+` FROM reports WHERE processed = false
		ORDER BY submitted_at ASC, id ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LinkReport sets the issue reference and flips the processed flag in one
// statement. Linking an already-processed report changes nothing.
func (s *Store) LinkReport(ctx context.Context, reportID, issueID int64) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE reports SET issue_id = $2, processed = true
		WHERE id = $1 AND processed = false
	`, reportID, issueID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either unknown id or already processed; let the caller decide.
		_, err := s.GetReport(ctx, reportID)
		return err
	}
	return nil
}

// --- sla metrics ---

// UpsertSLAMetric keeps a 1:1 issue-to-metric relationship: recomputation
// overwrites the prior row for the issue instead of appending.
func (s *Store) UpsertSLAMetric(ctx context.Context, m models.SLAMetric) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sla_metrics (issue_id, resolution_time_hours, met_sla, calculated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (issue_id) DO UPDATE SET
			resolution_time_hours = EXCLUDED.resolution_time_hours,
			met_sla = EXCLUDED.met_sla,
			calculated_at = EXCLUDED.calculated_at
	`, m.IssueID, m.ResolutionTimeHours, m.MetSLA, m.CalculatedAt)
	return err
}

// ListResolvedIssuesNeedingSLA returns resolved issues with no metric yet,
// or whose metric predates a later re-resolution.
func (s *Store) ListResolvedIssuesNeedingSLA(ctx context.Context, limit int) ([]models.Issue, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.queryIssues(ctx, `
		SELECT i.id, i.tenant_id, i.area_id, i.category, i.severity, i.status, i.created_at, i.resolved_at
		FROM issues i
		LEFT JOIN sla_metrics m ON m.issue_id = i.id
		WHERE i.status = 'resolved'
		  AND (m.issue_id IS NULL OR m.calculated_at < i.resolved_at)
		ORDER BY i.resolved_at ASC
		LIMIT $1
	`, limit)
}

func (s *Store) ListSLAMetricsForTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]models.SLAMetric, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT m.id, m.issue_id, m.resolution_time_hours, m.met_sla, m.calculated_at
		FROM sla_metrics m
		JOIN issues i ON i.id = m.issue_id
		WHERE i.tenant_id = $1 AND m.calculated_at >= $2
		ORDER BY m.calculated_at ASC
	`, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SLAMetric
	for rows.Next() {
		var m models.SLAMetric
		if err := rows.Scan(&m.ID, &m.IssueID, &m.ResolutionTimeHours, &m.MetSLA, &m.CalculatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListSLAMetricsForAreaSince(ctx context.Context, areaID int64, since time.Time) ([]models.SLAMetric, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT m.id, m.issue_id, m.resolution_time_hours, m.met_sla, m.calculated_at
		FROM sla_metrics m
		JOIN issues i ON i.id = m.issue_id
		WHERE i.area_id = $1 AND m.calculated_at >= $2
		ORDER BY m.calculated_at ASC
	`, areaID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SLAMetric
	for rows.Next() {
		var m models.SLAMetric
		if err := rows.Scan(&m.ID, &m.IssueID, &m.ResolutionTimeHours, &m.MetSLA, &m.CalculatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- score entries ---

func (s *Store) InsertScoreEntry(ctx context.Context, e models.ScoreEntry) (models.ScoreEntry, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO performance_scores (tenant_id, area_id, score, metric_type, calculated_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, e.TenantID, e.AreaID, e.Score, e.MetricType, e.CalculatedAt).Scan(&e.ID)
	return e, err
}

// LatestTenantScores returns the newest tenant-level entry per tenant for a
// metric type.
func (s *Store) LatestTenantScores(ctx context.Context, metricType string) ([]models.ScoreEntry, error) {
	return s.queryScores(ctx, `
		SELECT DISTINCT ON (tenant_id) id, tenant_id, area_id, score, metric_type, calculated_at
		FROM performance_scores
		WHERE area_id IS NULL AND metric_type = $1
		ORDER BY tenant_id, calculated_at DESC
	`, metricType)
}

func (s *Store) LatestAreaScores(ctx context.Context, tenantID int64, metricType string) ([]models.ScoreEntry, error) {
	return s.queryScores(ctx, `
		SELECT DISTINCT ON (area_id) id, tenant_id, area_id, score, metric_type, calculated_at
		FROM performance_scores
		WHERE tenant_id = $1 AND area_id IS NOT NULL AND metric_type = $2
		ORDER BY area_id, calculated_at DESC
	`, tenantID, metricType)
}

func (s *Store) ListScoreEntries(ctx context.Context, tenantID int64, metricType string, since time.Time) ([]models.ScoreEntry, error) {
	return s.queryScores(ctx, `
		SELECT id, tenant_id, area_id, score, metric_type, calculated_at
		FROM performance_scores
		WHERE tenant_id = $1 AND metric_type = $2 AND calculated_at >= $3
		ORDER BY calculated_at ASC
	`, tenantID, metricType, since)
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]models.ScoreEntry, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoreEntry
	for rows.Next() {
		var e models.ScoreEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AreaID, &e.Score, &e.MetricType, &e.CalculatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
