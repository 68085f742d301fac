package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsInsufficientPrivilege lets callers keep going when the role may not run
// DDL; the schema is then assumed to be managed elsewhere.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scan_jobs (
  id UUID PRIMARY KEY,
  status TEXT NOT NULL CHECK (status IN ('queued','running','done','failed')),
  bucket TEXT NOT NULL,
  object_key TEXT NOT NULL,
  enrich BOOLEAN NOT NULL DEFAULT FALSE,
  org_id UUID,
  scan_status TEXT,
  worker_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ,
  progress_pct INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
  progress_msg TEXT,
  report_bucket TEXT,
  report_key TEXT,
  report_json_key TEXT,
  error_kind TEXT,
  error_msg TEXT,
  summary_json JSONB
);

ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS enrich BOOLEAN NOT NULL DEFAULT FALSE;
ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS report_json_key TEXT;
ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS error_kind TEXT;

CREATE INDEX IF NOT EXISTS idx_scan_jobs_status_created ON scan_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS scan_events (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES scan_jobs(id) ON DELETE CASCADE,
  ts TIMESTAMPTZ NOT NULL DEFAULT now(),
  stage TEXT NOT NULL,
  detail TEXT NOT NULL,
  pct SMALLINT
);

CREATE INDEX IF NOT EXISTS idx_scan_events_job_ts ON scan_events (job_id, ts);

CREATE OR REPLACE FUNCTION notify_job_event() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('job_events', NEW.id::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'scan_jobs_notify') THEN
    CREATE TRIGGER scan_jobs_notify
    AFTER INSERT OR UPDATE ON scan_jobs
    FOR EACH ROW EXECUTE FUNCTION notify_job_event();
  END IF;
END$$;

CREATE TABLE IF NOT EXISTS policy_findings (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES scan_jobs(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  severity TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  guideline_ref TEXT,
  location TEXT,
  suggested_fix TEXT,
  raw JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(job_id, position)
);

CREATE INDEX IF NOT EXISTS idx_policy_findings_job_sev ON policy_findings(job_id, severity);
`
