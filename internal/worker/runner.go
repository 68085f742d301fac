package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/config"
	"github.com/yourorg/policy-scan-worker/internal/db"
	"github.com/yourorg/policy-scan-worker/internal/metrics"
	"github.com/yourorg/policy-scan-worker/internal/model"
	"github.com/yourorg/policy-scan-worker/internal/pdf"
	"github.com/yourorg/policy-scan-worker/internal/render"
	"github.com/yourorg/policy-scan-worker/internal/report"
	"github.com/yourorg/policy-scan-worker/internal/s3"
	"github.com/yourorg/policy-scan-worker/internal/scanner"
	"github.com/yourorg/policy-scan-worker/internal/scanresult"
)

// JobStore is the slice of *db.Store the runner needs.
type JobStore interface {
	ProgressSink
	AcquireNextQueued(ctx context.Context, workerID string) (*db.Job, error)
	InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error
	ReplaceFindings(ctx context.Context, jobID string, findings []model.Finding) error
	MarkDone(ctx context.Context, id string, a db.Artifacts, summary model.Summary) error
	MarkFailed(ctx context.Context, id, kind, errMsg string) error
	RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error)
}

type ObjectStore interface {
	DownloadToFile(ctx context.Context, bucket, key, filePath string) error
	PutBytes(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

type ScanRunner interface {
	Run(ctx context.Context, req scanner.Request) (scanner.Output, error)
}

type ReportBuilder interface {
	Build(ctx context.Context, scan model.ScanResult, wantEnrichment bool) report.Document
}

type Deps struct {
	Store    JobStore
	Objects  ObjectStore
	Scanner  ScanRunner
	Builder  ReportBuilder
	Renderer *render.Renderer
	Metrics  *metrics.Metrics
	PDF      []pdf.Option
}

type Runner struct {
	cfg      config.Config
	store    JobStore
	objects  ObjectStore
	scanner  ScanRunner
	builder  ReportBuilder
	renderer *render.Renderer
	metrics  *metrics.Metrics
	pdfOpts  []pdf.Option
	id       string
}

func NewRunner(cfg config.Config, d Deps) *Runner {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	if d.Renderer == nil {
		d.Renderer = render.NewRenderer(render.DefaultLayout(), d.Metrics)
	}
	return &Runner{
		cfg:      cfg,
		store:    d.Store,
		objects:  d.Objects,
		scanner:  d.Scanner,
		builder:  d.Builder,
		renderer: d.Renderer,
		metrics:  d.Metrics,
		pdfOpts:  d.PDF,
		id:       host + "-" + uuid.NewString()[:8],
	}
}

func (r *Runner) WorkerID() string { return r.id }

// ReportKeys are the object keys for a job's rendered PDF and its report
// document JSON.
func ReportKeys(jobID string) (pdfKey, jsonKey string) {
	return fmt.Sprintf("reports/%s.pdf", jobID), fmt.Sprintf("reports/%s.json", jobID)
}

// stage records progress and a heartbeat event. Failures are logged only.
func (r *Runner) stage(ctx context.Context, jobID string, pct int, stage, detail string) {
	if err := r.store.UpdateProgress(ctx, jobID, pct, stage); err != nil {
		log.Printf("job %s: update progress %s: %v", jobID, stage, err)
	}
	if err := r.store.InsertEvent(ctx, jobID, time.Now().UTC(), stage, detail, &pct); err != nil {
		log.Printf("job %s: insert event %s: %v", jobID, stage, err)
	}
}

func (r *Runner) processJob(ctx context.Context, j *db.Job) error {
	log.Printf("job %s: starting (bucket=%s key=%s enrich=%v)", j.ID, j.Bucket, j.ObjectKey, j.Enrich)
	scratch := filepath.Join(r.cfg.ScratchDir, j.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	// keep the original filename so the scanner can detect the type by extension
	baseName := filepath.Base(j.ObjectKey)
	if baseName == "." || baseName == "/" || baseName == "" {
		baseName = "input"
	}
	inputPath := filepath.Join(scratch, baseName)
	progressPath := filepath.Join(scratch, "progress.ndjson")
	outPath := filepath.Join(scratch, "scan.json")

	err := retry(ctx, "job "+j.ID+": download", 3, 500*time.Millisecond, func() error {
		return r.objects.DownloadToFile(ctx, j.Bucket, j.ObjectKey, inputPath)
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	if meta, err := inspectFile(inputPath); err == nil {
		log.Printf("job %s: input size=%dB sha256=%s", j.ID, meta.Size, meta.SHA256Short)
	}
	r.stage(ctx, j.ID, pctDownloaded, "download.done", baseName)

	stopTail := TailProgress(ctx, r.store, j.ID, progressPath)
	out, err := r.scanner.Run(ctx, scanner.Request{JobID: j.ID, InputPath: inputPath, OutPath: outPath, ProgressPath: progressPath})
	stopTail()
	if err != nil {
		return err
	}
	r.stage(ctx, j.ID, pctScanned, "scan.done", fmt.Sprintf("%d bytes in %s", len(out.Raw), out.Duration.Round(time.Millisecond)))

	scan := scanresult.Normalize(out.Raw)
	if out.ExitErr != nil {
		scan.Diagnostics = append(scan.Diagnostics, "scanner exited abnormally: "+out.ExitErr.Error())
	}
	for _, d := range scan.Diagnostics {
		log.Printf("job %s: normalize: %s", j.ID, d)
	}
	if r.cfg.RenderSortBySeverity {
		scan.Findings = render.SortBySeverity(scan.Findings)
	}
	r.stage(ctx, j.ID, pctNormalized, "normalize.done", fmt.Sprintf("%s status=%s findings=%d", scan.Kind, scan.Status, len(scan.Findings)))

	doc := r.builder.Build(ctx, scan, j.Enrich || r.cfg.EnrichEnabled)
	r.stage(ctx, j.ID, pctBuilt, "report.built", fmt.Sprintf("guidelines=%v stale=%v enriched=%v", doc.HasGuidelines(), doc.GuidelinesStale, doc.Enriched()))

	pdfBytes, pages, err := RenderPDF(r.renderer, &doc, r.pdfOpts...)
	if err != nil {
		return err
	}
	docJSON, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	r.stage(ctx, j.ID, pctRendered, "render.done", fmt.Sprintf("%d pages", pages))

	pdfKey, jsonKey := ReportKeys(j.ID)
	uploads := []struct {
		key, contentType string
		body             []byte
	}{
		{jsonKey, s3.ContentTypeJSON, docJSON},
		{pdfKey, s3.ContentTypePDF, pdfBytes},
	}
	for _, u := range uploads {
		err := retry(ctx, "job "+j.ID+": upload "+u.key, 3, 500*time.Millisecond, func() error {
			return r.objects.PutBytes(ctx, r.cfg.ReportsBucket, u.key, u.body, u.contentType)
		})
		if err != nil {
			return fmt.Errorf("upload report: %w", err)
		}
	}
	r.stage(ctx, j.ID, pctUploaded, "upload.done", pdfKey)

	dbctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err = retry(dbctx, "job "+j.ID+": findings", 3, 200*time.Millisecond, func() error {
		return r.store.ReplaceFindings(dbctx, j.ID, doc.Scan.Findings)
	})
	if err != nil {
		// the PDF and JSON are the record; the table is a query convenience
		log.Printf("job %s: store findings: %v", j.ID, err)
	}

	summary := doc.Summary(pages)
	arts := db.Artifacts{Bucket: r.cfg.ReportsBucket, PDFKey: pdfKey, JSONKey: jsonKey}
	err = retry(dbctx, "job "+j.ID+": mark done", 3, 200*time.Millisecond, func() error {
		return r.store.MarkDone(dbctx, j.ID, arts, summary)
	})
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	log.Printf("job %s: completed (status=%s findings=%d pages=%d report=%s)", j.ID, summary.Status, summary.Total, summary.Pages, pdfKey)
	return nil
}

// RenderPDF lays doc out and serializes it. The PDF timestamp is the
// document's, so re-rendering a stored document gives the same bytes.
func RenderPDF(rr *render.Renderer, doc *report.Document, opts ...pdf.Option) ([]byte, int, error) {
	pages := rr.Render(doc)
	b, err := pdf.Write(pages, rr.Layout(), doc.GeneratedAt, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("render pdf: %w", err)
	}
	return b, len(pages), nil
}

// PDFOptions loads the configured report font, if any.
func PDFOptions(cfg config.Config) ([]pdf.Option, error) {
	if cfg.PDFFontPath == "" {
		return nil, nil
	}
	ttf, err := os.ReadFile(cfg.PDFFontPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf font: %w", err)
	}
	return []pdf.Option{pdf.WithUTF8Font(ttf)}, nil
}

func (r *Runner) fail(ctx context.Context, j *db.Job, err error) {
	kind := apperr.KindOf(err)
	log.Printf("job %s: failed (%s): %v", j.ID, kind, err)
	dbctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.MarkFailed(dbctx, j.ID, kind.String(), err.Error()); err != nil {
		log.Printf("job %s: mark failed: %v", j.ID, err)
	}
}

// RunJob processes one claimed job and records its outcome.
func (r *Runner) RunJob(ctx context.Context, j *db.Job) {
	if err := r.processJob(ctx, j); err != nil {
		r.metrics.Job("failed")
		r.fail(ctx, j, err)
		return
	}
	r.metrics.Job("done")
}

// RecoverStaleJobs puts jobs orphaned by crashed workers back in the queue.
func (r *Runner) RecoverStaleJobs(ctx context.Context) {
	ids, err := r.store.RequeueStaleRunning(ctx, r.cfg.StaleJobAfter)
	if err != nil {
		log.Printf("recover stale jobs: %v", err)
		return
	}
	if len(ids) > 0 {
		log.Printf("re-queued %d stale jobs: %v", len(ids), ids)
	}
}

// RunForever claims jobs until ctx is cancelled, running at most
// WorkerConcurrency at once, and waits for in-flight jobs before returning.
func (r *Runner) RunForever(ctx context.Context) error {
	sem := make(chan struct{}, max(r.cfg.WorkerConcurrency, 1))
	backoff := 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			for i := 0; i < cap(sem); i++ {
				sem <- struct{}{}
			}
			return nil
		case sem <- struct{}{}:
		}

		j, err := r.store.AcquireNextQueued(ctx, r.id)
		if err != nil {
			<-sem
			if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil {
				log.Printf("acquire job: %v", err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 500 * time.Millisecond

		go func(job *db.Job) {
			defer func() { <-sem }()
			r.RunJob(ctx, job)
		}(j)
	}
}

type fileMeta struct {
	Size        int64
	SHA256Short string
}

func inspectFile(path string) (*fileMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, err
	}
	return &fileMeta{Size: n, SHA256Short: hex.EncodeToString(h.Sum(nil))[:12]}, nil
}
