// Package report assembles the per-scan report document from the normalized
// scan, the cached guidelines and optional enrichment.
package report

import (
	"time"

	"github.com/yourorg/policy-scan-worker/internal/guidelines"
	"github.com/yourorg/policy-scan-worker/internal/model"
)

// Document is built once per scan and not modified afterwards. Guidelines is
// nil when no guideline document could be obtained.
type Document struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Scan        model.ScanResult `json:"scan"`

	Guidelines         *guidelines.Document `json:"guidelines,omitempty"`
	GuidelinesCached   bool                 `json:"guidelines_cached,omitempty"`
	GuidelinesStale    bool                 `json:"guidelines_stale,omitempty"`
	GuidelinesFallback bool                 `json:"guidelines_fallback,omitempty"`
	GuidelinesAge      time.Duration        `json:"guidelines_age,omitempty"`

	Analysis        string   `json:"analysis,omitempty"`
	EnrichmentError string   `json:"enrichment_error,omitempty"`
	Diagnostics     []string `json:"diagnostics,omitempty"`
}

func (d *Document) HasGuidelines() bool { return d.Guidelines != nil }

// GuidelineSection resolves a finding's guideline reference against the
// guidelines the report was built with.
func (d *Document) GuidelineSection(ref string) (guidelines.Section, bool) {
	if ref == "" {
		return guidelines.Section{}, false
	}
	return d.Guidelines.Lookup(ref)
}

// Enriched reports whether any enrichment output made it into the document.
func (d *Document) Enriched() bool {
	if d.Analysis != "" {
		return true
	}
	for _, f := range d.Scan.Findings {
		if f.SuggestedFix != "" {
			return true
		}
	}
	return false
}

// Summary is the SQL digest of this report.
func (d *Document) Summary(pages int) model.Summary {
	s := model.SummaryOf(d.Scan)
	s.Pages = pages
	s.GuidelinesStale = d.GuidelinesStale
	s.Enriched = d.Enriched()
	return s
}
