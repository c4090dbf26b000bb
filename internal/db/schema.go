package db

import "context"

// EnsureSchema creates the tables and indexes if they do not exist yet.
// Statements are idempotent so startup can run this unconditionally.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS areas (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL REFERENCES tenants(id),
			name TEXT NOT NULL,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL REFERENCES tenants(id),
			area_id BIGINT REFERENCES areas(id),
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id BIGSERIAL PRIMARY KEY,
			issue_id BIGINT REFERENCES issues(id),
			tenant_id BIGINT NOT NULL REFERENCES tenants(id),
			description TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			submitted_at TIMESTAMPTZ NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS sla_metrics (
			id BIGSERIAL PRIMARY KEY,
			issue_id BIGINT NOT NULL UNIQUE REFERENCES issues(id),
			resolution_time_hours DOUBLE PRECISION NOT NULL,
			met_sla BOOLEAN NOT NULL,
			calculated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS performance_scores (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL REFERENCES tenants(id),
			area_id BIGINT REFERENCES areas(id),
			score DOUBLE PRECISION NOT NULL,
			metric_type TEXT NOT NULL,
			calculated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_tenant_status ON issues (tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_tenant_created ON issues (tenant_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_processed ON reports (processed) WHERE processed = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_reports_issue ON reports (issue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_tenant_metric ON performance_scores (tenant_id, metric_type, calculated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
