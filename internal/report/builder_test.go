package report

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/policy-scan-worker/internal/guidelines"
	"github.com/yourorg/policy-scan-worker/internal/model"
	"github.com/yourorg/policy-scan-worker/internal/scanresult"
)

type toggleFetcher struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *toggleFetcher) Fetch(ctx context.Context, now time.Time) (*guidelines.Document, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("guideline host unreachable")
	}
	return &guidelines.Document{
		FetchedAt: now,
		SourceURL: "https://example.test/guidelines",
		Sections:  []guidelines.Section{{Index: 0, Number: "2.5", Title: "Software Requirements"}},
	}, nil
}

type scriptedEnricher struct {
	analysis    string
	analysisErr error
	fixErr      func(f model.Finding) error
	delay       time.Duration
}

func (e *scriptedEnricher) Analyze(ctx context.Context, scan model.ScanResult) (string, error) {
	return e.analysis, e.analysisErr
}

func (e *scriptedEnricher) SuggestFix(ctx context.Context, f model.Finding) (string, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.fixErr != nil {
		if err := e.fixErr(f); err != nil {
			return "", err
		}
	}
	return "Fix: " + f.Title, nil
}

func sampleScan() model.ScanResult {
	return scanresult.Normalize([]byte(`{"status":"BLOCKED","findings":[
	  {"severity":"INFO","title":"Large binary"},
	  {"severity":"CRITICAL","title":"Private API","guidelineRef":"2.5.1"},
	  {"severity":"WARNING","title":"Missing usage string"}]}`))
}

func TestBuildWithoutGuidelinesOrCache(t *testing.T) {
	f := &toggleFetcher{}
	f.fail.Store(true)
	b := NewBuilder(guidelines.NewCache(f, time.Hour, nil), nil, Options{}, nil)

	scan := scanresult.Normalize([]byte(`{"status":"BLOCKED","findings":[{"severity":"CRITICAL","title":"X"}]}`))
	doc := b.Build(context.Background(), scan, false)

	assert.Nil(t, doc.Guidelines)
	assert.False(t, doc.HasGuidelines())
	assert.Equal(t, model.StatusBlocked, doc.Scan.Status)
	assert.Equal(t, 1, doc.Scan.Counts.Critical)
	require.NotEmpty(t, doc.Diagnostics)
	assert.Contains(t, doc.Diagnostics[0], "upstream_unavailable")
	assert.Empty(t, doc.EnrichmentError)
}

func TestBuildServesStaleGuidelines(t *testing.T) {
	f := &toggleFetcher{}
	cache := guidelines.NewCache(f, time.Nanosecond, nil)
	b := NewBuilder(cache, nil, Options{}, nil)

	first := b.Build(context.Background(), sampleScan(), false)
	require.NotNil(t, first.Guidelines)
	assert.False(t, first.GuidelinesStale)

	f.fail.Store(true)
	time.Sleep(time.Millisecond)
	second := b.Build(context.Background(), sampleScan(), false)
	require.NotNil(t, second.Guidelines)
	assert.NotEmpty(t, second.Guidelines.Sections)
	assert.True(t, second.GuidelinesStale)
	assert.True(t, second.GuidelinesCached)
	assert.Contains(t, second.Diagnostics[0], "expired copy")

	sec, ok := second.GuidelineSection("2.5.1")
	assert.True(t, ok)
	assert.Equal(t, "Software Requirements", sec.Title)
}

func TestBuildPreservesFindingOrder(t *testing.T) {
	b := NewBuilder(guidelines.NewCache(&toggleFetcher{}, time.Hour, nil), nil, Options{}, nil)
	scan := sampleScan()
	doc := b.Build(context.Background(), scan, false)

	require.Len(t, doc.Scan.Findings, 3)
	for i := range scan.Findings {
		assert.Equal(t, scan.Findings[i], doc.Scan.Findings[i])
	}
	assert.False(t, doc.Enriched())
}

func TestBuildWithEnrichment(t *testing.T) {
	e := &scriptedEnricher{analysis: "Remove the private API before resubmitting."}
	b := NewBuilder(guidelines.NewCache(&toggleFetcher{}, time.Hour, nil), e, Options{EnrichConcurrency: 2, EnrichRPS: 100}, nil)
	scan := sampleScan()

	doc := b.Build(context.Background(), scan, true)

	assert.Equal(t, "Remove the private API before resubmitting.", doc.Analysis)
	assert.Empty(t, doc.EnrichmentError)
	require.Len(t, doc.Scan.Findings, 3)
	for i, f := range doc.Scan.Findings {
		assert.Equal(t, scan.Findings[i].Title, f.Title)
		assert.Equal(t, "Fix: "+f.Title, f.SuggestedFix)
	}
	assert.Empty(t, scan.Findings[0].SuggestedFix, "input scan must not be modified")
	assert.True(t, doc.Enriched())

	s := doc.Summary(4)
	assert.Equal(t, 4, s.Pages)
	assert.True(t, s.Enriched)
	assert.Equal(t, 3, s.Total)
}

func TestBuildEnrichmentFailureKeepsFindings(t *testing.T) {
	tests := []struct {
		name     string
		enricher *scriptedEnricher
		opts     Options
	}{
		{"analysis fails", &scriptedEnricher{analysisErr: errors.New("401 unauthorized")}, Options{}},
		{"some fixes fail", &scriptedEnricher{analysis: "ok", fixErr: func(f model.Finding) error {
			if f.Severity == model.SeverityCritical {
				return fmt.Errorf("reply is malformed json")
			}
			return nil
		}}, Options{EnrichConcurrency: 3}},
		{"timeout", &scriptedEnricher{analysis: "ok", delay: time.Second}, Options{EnrichTimeout: 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(guidelines.NewCache(&toggleFetcher{}, time.Hour, nil), tt.enricher, tt.opts, nil)
			scan := sampleScan()
			doc := b.Build(context.Background(), scan, true)

			assert.NotEmpty(t, doc.EnrichmentError)
			require.Len(t, doc.Scan.Findings, len(scan.Findings))
			for i := range scan.Findings {
				assert.Equal(t, scan.Findings[i].Title, doc.Scan.Findings[i].Title)
				assert.Equal(t, scan.Findings[i].Severity, doc.Scan.Findings[i].Severity)
			}
			assert.Equal(t, scan.Counts, doc.Scan.Counts)
		})
	}
}

func TestBuildEnrichmentWithoutEnricher(t *testing.T) {
	b := NewBuilder(guidelines.NewCache(&toggleFetcher{}, time.Hour, nil), nil, Options{}, nil)
	doc := b.Build(context.Background(), sampleScan(), true)
	assert.Contains(t, doc.EnrichmentError, "no enricher is configured")
	assert.Len(t, doc.Scan.Findings, 3)
}
