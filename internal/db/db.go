package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/policy-scan-worker/internal/model"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

type Job struct {
	ID        string
	Status    string
	Bucket    string
	ObjectKey string
	// Enrich asks for AI analysis and suggested fixes on this job.
	Enrich   bool
	OrgID    *string
	WorkerID *string
}

// Artifacts are the object keys a finished job points at.
type Artifacts struct {
	Bucket  string
	PDFKey  string
	JSONKey string
}

type RerenderJob struct {
	ID           string
	ReportBucket string
	JSONKey      string
	PDFKey       *string
}

func (s *Store) notifyJobChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('job_events', $1)`, id)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Store) Close() { s.Pool.Close() }

func (s *Store) InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error {
	_, err := s.Pool.Exec(ctx, `
        INSERT INTO scan_events (job_id, ts, stage, detail, pct)
        VALUES ($1, $2, $3, $4, $5)
    `, jobID, ts, stage, detail, pct)
	return err
}

// AcquireNextQueued claims the oldest queued job for workerID. It returns
// pgx.ErrNoRows when the queue is empty.
func (s *Store) AcquireNextQueued(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id::text, bucket, object_key, enrich, org_id::text
		FROM scan_jobs
		WHERE status='queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	var j Job
	if err := row.Scan(&j.ID, &j.Bucket, &j.ObjectKey, &j.Enrich, &j.OrgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE scan_jobs
		SET status='running', started_at=now(), progress_pct=0, progress_msg='starting',
		    worker_id=$2, error_kind=NULL, error_msg=NULL
		WHERE id=$1
	`, j.ID, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	j.Status = "running"
	j.WorkerID = &workerID
	s.notifyJobChanged(ctx, j.ID)
	return &j, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, pct int, msg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET progress_pct=GREATEST(progress_pct, $2),
		    progress_msg=CASE WHEN $2 >= progress_pct THEN $3 ELSE progress_msg END
		WHERE id=$1
		  AND status='running'
	`, id, pct, msg)
	return err
}

// MarkFailed records kind (an error kind name such as
// "scanner_invocation_failed") next to the message.
func (s *Store) MarkFailed(ctx context.Context, id, kind, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET status='failed',
		    finished_at=now(),
		    error_kind=$2,
		    error_msg=$3,
		    progress_msg=COALESCE(progress_msg, $3)
		WHERE id=$1
		  AND status IN ('queued','running')
	`, id, kind, errMsg)
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

// MarkDone stores only the small summary in SQL; the report itself stays in
// object storage.
func (s *Store) MarkDone(ctx context.Context, id string, a Artifacts, summary model.Summary) error {
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET status='done', finished_at=now(),
		    progress_pct=100, progress_msg='completed',
		    report_bucket=$2, report_key=$3, report_json_key=$4,
		    summary_json=$5::jsonb, scan_status=$6
		WHERE id=$1
	`, id, a.Bucket, a.PDFKey, a.JSONKey, string(sumJSON), string(summary.Status))
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

// ReplaceFindings rewrites the job's findings in scan order. Rows are
// inserted in multi-value batches of up to batchSize.
func (s *Store) ReplaceFindings(ctx context.Context, jobID string, findings []model.Finding) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM policy_findings WHERE job_id=$1::uuid`, jobID); err != nil {
		return err
	}
	for start := 0; start < len(findings); start += batchSize {
		end := min(start+batchSize, len(findings))
		sql, args := findingInsert(jobID, start, findings[start:end])
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert findings %d-%d: %w", start, end, err)
		}
	}
	return tx.Commit(ctx)
}

const findingCols = 9

// findingInsert builds one multi-value INSERT for chunk; offset is the scan
// position of chunk[0].
func findingInsert(jobID string, offset int, chunk []model.Finding) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`
INSERT INTO policy_findings (
  job_id, position, severity, title, description, guideline_ref, location, suggested_fix, raw
) VALUES `)
	args := make([]any, 0, len(chunk)*findingCols)
	for i, f := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*findingCols + 1
		fmt.Fprintf(&sb, "($%d::uuid, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb)",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		raw, _ := json.Marshal(f)
		args = append(args,
			jobID,
			offset+i,
			string(f.Severity),
			f.Title,
			nullableString(f.Description),
			nullableString(f.GuidelineRef),
			nullableString(f.Location),
			nullableString(f.SuggestedFix),
			string(raw),
		)
	}
	sb.WriteString(`
ON CONFLICT (job_id, position) DO UPDATE SET
  severity = EXCLUDED.severity,
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  guideline_ref = EXCLUDED.guideline_ref,
  location = EXCLUDED.location,
  suggested_fix = EXCLUDED.suggested_fix,
  raw = EXCLUDED.raw`)
	return sb.String(), args
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// RequeueStaleRunning finds jobs stuck in 'running' with no recent heartbeat
// and puts them back in the queue. Used at startup to recover jobs orphaned
// by crashed workers.
func (s *Store) RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	seconds := int64(idleFor.Seconds())
	if seconds <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		WITH stale AS (
			SELECT j.id
			FROM scan_jobs j
			LEFT JOIN LATERAL (
				SELECT MAX(ts) AS last_event_ts
				FROM scan_events e
				WHERE e.job_id = j.id
			) ev ON true
			WHERE j.status='running'
			  AND COALESCE(ev.last_event_ts, j.started_at, j.created_at)
			      < now() - ($1::bigint * interval '1 second')
		)
		UPDATE scan_jobs j
		SET status='queued',
		    started_at=NULL,
		    worker_id=NULL,
		    progress_pct=0,
		    progress_msg='re-queued: previous worker lost'
		FROM stale
		WHERE j.id = stale.id
		RETURNING j.id::text
	`, seconds)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.notifyJobChanged(ctx, id)
	}
	return ids, nil
}

// ListRerenderCandidates pages through done jobs that kept their report JSON,
// in id order after afterID.
func (s *Store) ListRerenderCandidates(ctx context.Context, afterID string, limit int) ([]RerenderJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT j.id::text, j.report_bucket, j.report_json_key, j.report_key
FROM scan_jobs j
WHERE j.status='done'
  AND j.report_bucket IS NOT NULL
  AND j.report_json_key IS NOT NULL
  AND j.id::text > $1::text
ORDER BY j.id::text
LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RerenderJob, 0, limit)
	for rows.Next() {
		var j RerenderJob
		if err := rows.Scan(&j.ID, &j.ReportBucket, &j.JSONKey, &j.PDFKey); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetReportPDF points a done job at a freshly rendered PDF.
func (s *Store) SetReportPDF(ctx context.Context, id, pdfKey string, pages int) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET report_key=$2,
		    summary_json=jsonb_set(COALESCE(summary_json, '{}'::jsonb), '{pages}', to_jsonb($3::int))
		WHERE id=$1 AND status='done'
	`, id, pdfKey, pages)
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}
