package render

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/yourorg/policy-scan-worker/internal/model"
	"github.com/yourorg/policy-scan-worker/internal/report"
)

const ReportTitle = "Store Policy Scan Report"

type BlockKind string

const (
	KindTitle           BlockKind = "title"
	KindSummary         BlockKind = "summary"
	KindFinding         BlockKind = "finding"
	KindNoFindings      BlockKind = "no_findings"
	KindRecommendations BlockKind = "recommendations"
	KindRawOutput       BlockKind = "raw_output"
	KindFooter          BlockKind = "footer"
)

// Block is one unsplittable unit of the report. Y and Overflow are set by
// Paginate.
type Block struct {
	Kind    BlockKind
	Band    Band
	Heading string
	// HeadingLines is Heading wrapped to the line budget.
	HeadingLines []string
	Lines        []string
	Height       float64
	Y            float64
	Overflow     bool
}

// Blocks lists the document's blocks in reading order. Findings keep the
// order they have in the document.
func (r *Renderer) Blocks(doc *report.Document) []Block {
	out := []Block{r.titleBlock(doc), r.summaryBlock(doc)}

	switch {
	case len(doc.Scan.Findings) > 0:
		for _, f := range doc.Scan.Findings {
			out = append(out, r.findingBlock(doc, f))
		}
	case doc.Scan.Kind != model.Unparsed:
		out = append(out, r.block(KindNoFindings, BandGreen, "No findings",
			"The scanner reported no policy findings for this build."))
	}

	if strings.TrimSpace(doc.Analysis) != "" {
		out = append(out, r.block(KindRecommendations, BandBlue, "Recommendations", doc.Analysis))
	}
	if doc.Scan.Kind == model.Unparsed {
		out = append(out, r.rawBlock(doc.Scan.Unparsed))
	}
	out = append(out, r.footerBlock(doc))
	return out
}

func (r *Renderer) block(kind BlockKind, band Band, heading string, paras ...string) Block {
	var lines []string
	for _, p := range paras {
		lines = append(lines, Wrap(p, r.layout.CharsPerLine)...)
	}
	return r.measured(Block{Kind: kind, Band: band, Heading: heading, Lines: lines})
}

func (r *Renderer) measured(b Block) Block {
	b.HeadingLines = Wrap(b.Heading, r.layout.CharsPerLine)
	b.Height = r.layout.Measure(len(b.HeadingLines), len(b.Lines))
	return b
}

func (r *Renderer) titleBlock(doc *report.Document) Block {
	return r.block(KindTitle, StatusBand(doc.Scan.Status), ReportTitle,
		"Generated "+doc.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"),
		"Verdict: "+string(doc.Scan.Status))
}

func (r *Renderer) summaryBlock(doc *report.Document) Block {
	c := doc.Scan.Counts
	paras := []string{
		"Status: " + string(doc.Scan.Status),
		fmt.Sprintf("Findings: %d total (%d critical, %d warning, %d info)", c.Total(), c.Critical, c.Warning, c.Info),
		"Guidelines: " + guidelineSource(doc),
	}
	if doc.Scan.Kind == model.Unparsed {
		paras = append(paras, "Scanner output could not be parsed; the raw output is attached below.")
	}
	for _, d := range doc.Scan.Diagnostics {
		paras = append(paras, "Note: "+d)
	}
	for _, d := range doc.Diagnostics {
		paras = append(paras, "Note: "+d)
	}
	if doc.EnrichmentError != "" {
		paras = append(paras, "AI suggestions unavailable: "+doc.EnrichmentError)
	}
	return r.block(KindSummary, BandGray, "Summary", paras...)
}

func guidelineSource(doc *report.Document) string {
	g := doc.Guidelines
	if g == nil {
		return "none (guideline references are shown unresolved)"
	}
	var tags []string
	switch {
	case doc.GuidelinesFallback:
		tags = append(tags, "built-in copy")
	case doc.GuidelinesStale:
		tags = append(tags, "expired copy")
	case doc.GuidelinesCached:
		tags = append(tags, "cached")
	default:
		tags = append(tags, "fetched for this report")
	}
	if !g.FetchedAt.IsZero() {
		tags = append(tags, "retrieved "+g.FetchedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s, %d sections (%s)", g.SourceURL, len(g.Sections), strings.Join(tags, ", "))
}

func (r *Renderer) findingBlock(doc *report.Document, f model.Finding) Block {
	var paras []string
	if f.Description != "" {
		paras = append(paras, f.Description)
	}
	if f.GuidelineRef != "" {
		line := "Guideline: " + f.GuidelineRef
		if sec, ok := doc.GuidelineSection(f.GuidelineRef); ok {
			line += " (" + sec.Label() + ")"
		}
		paras = append(paras, line)
	}
	if f.Location != "" {
		paras = append(paras, "Location: "+f.Location)
	}
	if f.SuggestedFix != "" {
		paras = append(paras, "Suggested fix: "+f.SuggestedFix)
	}
	return r.block(KindFinding, SeverityBand(f.Severity), fmt.Sprintf("[%s] %s", f.Severity, f.Title), paras...)
}

func (r *Renderer) rawBlock(raw string) Block {
	lines := Wrap(raw, r.layout.CharsPerLine)
	if limit := r.layout.MaxRawLines; limit > 0 && len(lines) > limit {
		more := len(lines) - limit
		lines = append(lines[:limit:limit], fmt.Sprintf("... %d more lines omitted", more))
	}
	if len(lines) == 0 {
		lines = []string{"(the scanner produced no output)"}
	}
	return r.measured(Block{Kind: KindRawOutput, Band: BandGray, Heading: "Raw scanner output", Lines: lines})
}

func (r *Renderer) footerBlock(doc *report.Document) Block {
	paras := []string{
		"Findings come from automated analysis of the uploaded build and may not match the final store review decision.",
	}
	if doc.Guidelines != nil {
		paras = append(paras, "Guideline text: "+doc.Guidelines.SourceURL)
	}
	return r.block(KindFooter, BandGray, "About this report", paras...)
}

// SortBySeverity returns a copy ordered most severe first. Ties keep their
// scan order. The renderer never calls this itself.
func SortBySeverity(findings []model.Finding) []model.Finding {
	out := slices.Clone(findings)
	slices.SortStableFunc(out, func(a, b model.Finding) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})
	return out
}
