package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yourorg/policy-scan-worker/internal/config"
	"github.com/yourorg/policy-scan-worker/internal/db"
	"github.com/yourorg/policy-scan-worker/internal/enrich"
	"github.com/yourorg/policy-scan-worker/internal/guidelines"
	"github.com/yourorg/policy-scan-worker/internal/metrics"
	"github.com/yourorg/policy-scan-worker/internal/render"
	"github.com/yourorg/policy-scan-worker/internal/report"
	s3c "github.com/yourorg/policy-scan-worker/internal/s3"
	"github.com/yourorg/policy-scan-worker/internal/scanner"
	"github.com/yourorg/policy-scan-worker/internal/server"
	"github.com/yourorg/policy-scan-worker/internal/worker"
)

func main() {
	// .env files are optional; they help local dev. Also try one level up in
	// case this runs from cmd/worker.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if db.IsInsufficientPrivilege(err) {
			log.Printf("ensure schema skipped due insufficient privilege: %v", err)
		} else {
			log.Fatal(err)
		}
	}

	objects, err := s3c.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		log.Fatal(err)
	}

	m := metrics.New(nil)

	fetcher := guidelines.NewHTTPFetcher(cfg.GuidelinesURL, cfg.GuidelinesFetchTimeout, cfg.GuidelinesBuiltinFallback)
	cache := guidelines.NewCache(fetcher, cfg.GuidelinesTTL, m)
	go func() {
		if lk, err := cache.Get(ctx); err != nil {
			log.Printf("guidelines warm-up failed: %v", err)
		} else {
			log.Printf("guidelines loaded: %d sections from %s", len(lk.Document.Sections), lk.Document.SourceURL)
		}
	}()

	var enricher enrich.Enricher
	if cfg.EnrichAPIKey != "" {
		c, err := enrich.NewLLMClient(enrich.Options{
			APIKey:  cfg.EnrichAPIKey,
			BaseURL: cfg.EnrichBaseURL,
			Model:   cfg.EnrichModel,
			Timeout: cfg.EnrichTimeout,
		})
		if err != nil {
			log.Fatal(err)
		}
		enricher = c
	} else if cfg.EnrichEnabled {
		log.Printf("ENRICH_ENABLED is set but ENRICH_API_KEY is empty; reports will note enrichment as unavailable")
	}

	builder := report.NewBuilder(cache, enricher, report.Options{
		EnrichTimeout:     cfg.EnrichTimeout,
		EnrichConcurrency: cfg.EnrichConcurrency,
		EnrichRPS:         cfg.EnrichRPS,
	}, m)

	scan := scanner.New(cfg.ScannerPath, cfg.ScannerTimeout)
	if v, err := scan.Version(ctx); err != nil {
		log.Printf("scanner --version failed: %v", err)
	} else {
		log.Printf("scanner version: %s", v)
	}

	if addr := cfg.HTTPAddr; addr != "" {
		srv := server.New(store, cache, m)
		go func() {
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				log.Printf("http server: %v", err)
			}
		}()
	}

	pdfOpts, err := worker.PDFOptions(cfg)
	if err != nil {
		log.Fatal(err)
	}

	r := worker.NewRunner(cfg, worker.Deps{
		Store:    store,
		Objects:  objects,
		Scanner:  scan,
		Builder:  builder,
		Renderer: render.NewRenderer(render.DefaultLayout(), m),
		Metrics:  m,
		PDF:      pdfOpts,
	})
	log.Printf("worker starting with id=%s concurrency=%d", r.WorkerID(), cfg.WorkerConcurrency)

	r.RecoverStaleJobs(ctx)

	if err := r.RunForever(ctx); err != nil {
		log.Fatal(err)
	}
	log.Printf("worker stopped")
}
