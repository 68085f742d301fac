// Command rerender rebuilds report PDFs for finished jobs from their stored
// report JSON. By default only jobs whose PDF is missing are touched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/policy-scan-worker/internal/config"
	"github.com/yourorg/policy-scan-worker/internal/db"
	"github.com/yourorg/policy-scan-worker/internal/pdf"
	"github.com/yourorg/policy-scan-worker/internal/render"
	"github.com/yourorg/policy-scan-worker/internal/report"
	"github.com/yourorg/policy-scan-worker/internal/s3"
	"github.com/yourorg/policy-scan-worker/internal/worker"
)

func main() {
	var (
		batchSize = flag.Int("batch-size", 25, "number of jobs to list per batch")
		maxJobs   = flag.Int("max-jobs", 0, "maximum jobs to re-render (0 = unlimited)")
		force     = flag.Bool("force", false, "re-render even when the PDF already exists")
		dryRun    = flag.Bool("dry-run", false, "list what would be re-rendered without writing")
	)
	flag.Parse()

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := config.Load()
	ctx := context.Background()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Close()

	objects, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		log.Fatalf("s3 client: %v", err)
	}
	rr := render.NewRenderer(render.DefaultLayout(), nil)
	pdfOpts, err := worker.PDFOptions(cfg)
	if err != nil {
		log.Fatalf("pdf font: %v", err)
	}

	var total, okCount, skipCount, failCount int
	after := ""
	for {
		if *maxJobs > 0 && total >= *maxJobs {
			break
		}
		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		candidates, err := store.ListRerenderCandidates(listCtx, after, max(*batchSize, 1))
		listCancel()
		if err != nil {
			log.Fatalf("list candidates: %v", err)
		}
		if len(candidates) == 0 {
			break
		}
		after = candidates[len(candidates)-1].ID

		for _, c := range candidates {
			if *maxJobs > 0 && total >= *maxJobs {
				break
			}
			total++
			done, err := rerenderOne(ctx, store, objects, rr, pdfOpts, c, *force, *dryRun)
			switch {
			case err != nil:
				failCount++
				log.Printf("rerender job %s failed: %v", c.ID, err)
			case done:
				okCount++
			default:
				skipCount++
			}
		}
	}

	log.Printf("rerender complete: processed=%d rendered=%d skipped=%d failed=%d", total, okCount, skipCount, failCount)
}

func rerenderOne(ctx context.Context, store *db.Store, objects *s3.Client, rr *render.Renderer, pdfOpts []pdf.Option, c db.RerenderJob, force, dryRun bool) (bool, error) {
	pdfKey, _ := worker.ReportKeys(c.ID)
	if c.PDFKey != nil && *c.PDFKey != "" {
		pdfKey = *c.PDFKey
	}
	if !force {
		exists, err := objects.Exists(ctx, c.ReportBucket, pdfKey)
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", pdfKey, err)
		}
		if exists {
			return false, nil
		}
	}
	if dryRun {
		log.Printf("rerender job %s: would write %s/%s", c.ID, c.ReportBucket, pdfKey)
		return false, nil
	}

	dlCtx, dlCancel := context.WithTimeout(ctx, 2*time.Minute)
	raw, err := objects.GetBytes(dlCtx, c.ReportBucket, c.JSONKey)
	dlCancel()
	if err != nil {
		return false, err
	}
	var doc report.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("decode %s: %w", c.JSONKey, err)
	}

	body, pages, err := worker.RenderPDF(rr, &doc, pdfOpts...)
	if err != nil {
		return false, err
	}
	upCtx, upCancel := context.WithTimeout(ctx, 2*time.Minute)
	err = objects.PutBytes(upCtx, c.ReportBucket, pdfKey, body, s3.ContentTypePDF)
	upCancel()
	if err != nil {
		return false, err
	}

	dbCtx, dbCancel := context.WithTimeout(ctx, 20*time.Second)
	defer dbCancel()
	if err := store.SetReportPDF(dbCtx, c.ID, pdfKey, pages); err != nil {
		return false, err
	}
	log.Printf("rerender job %s: wrote %s (%d pages)", c.ID, pdfKey, pages)
	return true, nil
}
