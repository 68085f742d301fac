package report

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/enrich"
	"github.com/yourorg/policy-scan-worker/internal/guidelines"
	"github.com/yourorg/policy-scan-worker/internal/metrics"
	"github.com/yourorg/policy-scan-worker/internal/model"
)

// GuidelineSource is satisfied by *guidelines.Cache.
type GuidelineSource interface {
	Get(ctx context.Context) (guidelines.Lookup, error)
}

type Options struct {
	EnrichTimeout     time.Duration
	EnrichConcurrency int
	// EnrichRPS paces per-finding calls; 0 disables pacing.
	EnrichRPS float64
}

type Builder struct {
	source      GuidelineSource
	enricher    enrich.Enricher
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewBuilder accepts a nil enricher; enrichment requests then degrade with a
// recorded error.
func NewBuilder(src GuidelineSource, e enrich.Enricher, opts Options, m *metrics.Metrics) *Builder {
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 60 * time.Second
	}
	if opts.EnrichConcurrency < 1 {
		opts.EnrichConcurrency = 1
	}
	var lim *rate.Limiter
	if opts.EnrichRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.EnrichRPS), opts.EnrichConcurrency)
	}
	return &Builder{
		source:      src,
		enricher:    e,
		timeout:     opts.EnrichTimeout,
		concurrency: opts.EnrichConcurrency,
		limiter:     lim,
		metrics:     m,
		now:         time.Now,
	}
}

// Build never fails: missing guidelines and failed enrichment are recorded on
// the document instead. Findings keep the scan's order.
func (b *Builder) Build(ctx context.Context, scan model.ScanResult, wantEnrichment bool) Document {
	doc := Document{
		GeneratedAt: b.now().UTC(),
		Scan:        cloneScan(scan),
	}

	lk, err := b.source.Get(ctx)
	switch {
	case err != nil:
		log.Printf("report: building without guidelines: %v", err)
		doc.Diagnostics = append(doc.Diagnostics, fmt.Sprintf("guidelines unavailable (%s): %v", apperr.KindOf(err), err))
	default:
		doc.Guidelines = lk.Document
		doc.GuidelinesCached = lk.Cached
		doc.GuidelinesStale = lk.Stale
		doc.GuidelinesFallback = lk.Fallback
		doc.GuidelinesAge = lk.Age
		if lk.Stale {
			doc.Diagnostics = append(doc.Diagnostics, fmt.Sprintf("guidelines served from an expired copy fetched %s ago", lk.Age.Round(time.Minute)))
		}
		if lk.Fallback {
			doc.Diagnostics = append(doc.Diagnostics, "guideline source unreachable; built-in guideline set used")
		}
	}

	if wantEnrichment {
		b.enrich(ctx, &doc)
	}
	return doc
}

func (b *Builder) enrich(ctx context.Context, doc *Document) {
	if b.enricher == nil {
		doc.EnrichmentError = apperr.New(apperr.KindEnrichmentFailed, "report.Build", "enrichment requested but no enricher is configured").Error()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var problems []string
	analysis, err := b.enricher.Analyze(ctx, doc.Scan)
	if err != nil {
		b.metrics.EnrichmentFailed("analysis")
		problems = append(problems, "analysis: "+err.Error())
	} else {
		doc.Analysis = analysis
	}

	if len(doc.Scan.Findings) > 0 {
		fixed, errs := enrich.SuggestFixes(ctx, b.enricher, doc.Scan.Findings, b.concurrency, b.limiter)
		if len(fixed) == len(doc.Scan.Findings) {
			doc.Scan.Findings = fixed
		}
		if err := enrich.JoinFixErrors(errs); err != nil {
			for range errs {
				b.metrics.EnrichmentFailed("suggested_fix")
			}
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		doc.EnrichmentError = strings.Join(problems, "; ")
		log.Printf("report: enrichment degraded: %s", doc.EnrichmentError)
	}
}

func cloneScan(s model.ScanResult) model.ScanResult {
	out := s
	out.Findings = append([]model.Finding{}, s.Findings...)
	if s.Diagnostics != nil {
		out.Diagnostics = append([]string(nil), s.Diagnostics...)
	}
	return out
}
