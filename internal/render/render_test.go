package render

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/policy-scan-worker/internal/guidelines"
	"github.com/yourorg/policy-scan-worker/internal/model"
	"github.com/yourorg/policy-scan-worker/internal/report"
	"github.com/yourorg/policy-scan-worker/internal/scanresult"
)

var generatedAt = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func newDoc(scan model.ScanResult) *report.Document {
	return &report.Document{GeneratedAt: generatedAt, Scan: scan}
}

func manyFindings(n int) model.ScanResult {
	sev := []model.Severity{model.SeverityInfo, model.SeverityCritical, model.SeverityWarning}
	var fs []model.Finding
	for i := 0; i < n; i++ {
		fs = append(fs, model.Finding{
			Severity:     sev[i%3],
			Title:        fmt.Sprintf("Finding %02d", i),
			Description:  strings.Repeat("The binary references a symbol outside the public SDK. ", 1+i%4),
			GuidelineRef: "2.5.1",
			Location:     "Frameworks/Core.framework",
		})
	}
	return model.ScanResult{Kind: model.Structured, Status: model.StatusBlocked, Counts: model.Tally(fs), Findings: fs}
}

func flatten(pages []Page) []Block {
	var out []Block
	for _, p := range pages {
		out = append(out, p.Blocks...)
	}
	return out
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "short line", 20, []string{"short line"}},
		{"greedy", "aaa bbb ccc ddd", 7, []string{"aaa bbb", "ccc ddd"}},
		{"long word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"paragraphs", "one\n\ntwo", 10, []string{"one", "", "two"}},
		{"trims blank edges", "\n\n  x  \n\n", 10, []string{"x"}},
		{"empty", "", 10, nil},
		{"runes", "ééééé", 2, []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.text, tt.width)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBands(t *testing.T) {
	assert.Equal(t, BandRed, SeverityBand(model.SeverityCritical))
	assert.Equal(t, BandAmber, SeverityBand(model.SeverityWarning))
	assert.Equal(t, BandBlue, SeverityBand(model.SeverityInfo))
	assert.Equal(t, BandGray, SeverityBand(model.Severity("TRIVIA")))

	assert.Equal(t, BandGreen, StatusBand(model.StatusGreenlit))
	assert.Equal(t, BandRed, StatusBand(model.StatusBlocked))
	assert.Equal(t, BandGray, StatusBand(model.StatusUnknown))
}

func TestBlocksOrder(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	scan := manyFindings(5)
	doc := newDoc(scan)
	doc.Analysis = "Remove private API usage."

	blocks := r.Blocks(doc)
	require.Len(t, blocks, 2+5+1+1)
	assert.Equal(t, KindTitle, blocks[0].Kind)
	assert.Equal(t, KindSummary, blocks[1].Kind)
	for i, f := range scan.Findings {
		b := blocks[2+i]
		assert.Equal(t, KindFinding, b.Kind)
		assert.Equal(t, fmt.Sprintf("[%s] %s", f.Severity, f.Title), b.Heading)
		assert.Equal(t, SeverityBand(f.Severity), b.Band)
	}
	assert.Equal(t, KindRecommendations, blocks[7].Kind)
	assert.Equal(t, KindFooter, blocks[8].Kind)
}

func TestBlocksResolveGuidelines(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	doc := newDoc(manyFindings(1))
	doc.Guidelines = guidelines.Builtin(generatedAt)
	doc.GuidelinesFallback = true

	blocks := r.Blocks(doc)
	assert.Contains(t, strings.Join(blocks[2].Lines, "\n"), "Guideline: 2.5.1 (2.5 ")
	summary := strings.Join(blocks[1].Lines, "\n")
	assert.Contains(t, summary, guidelines.BuiltinSourceURL)
	assert.Contains(t, summary, "built-in copy")
}

func TestBlocksUnparsedScan(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	raw := strings.Repeat("panic: index out of range\n", 100)
	doc := newDoc(scanresult.Normalize([]byte(raw)))

	blocks := r.Blocks(doc)
	kinds := make([]BlockKind, len(blocks))
	for i, b := range blocks {
		kinds[i] = b.Kind
	}
	assert.Equal(t, []BlockKind{KindTitle, KindSummary, KindRawOutput, KindFooter}, kinds)
	raw2 := blocks[2]
	assert.Len(t, raw2.Lines, DefaultLayout().MaxRawLines+1)
	assert.Contains(t, raw2.Lines[len(raw2.Lines)-1], "more lines omitted")
	assert.Contains(t, strings.Join(blocks[1].Lines, "\n"), "none")
}

func TestBlocksNoFindings(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	doc := newDoc(scanresult.Normalize([]byte(`{"status":"GREENLIT","findings":[]}`)))
	blocks := r.Blocks(doc)
	require.Len(t, blocks, 4)
	assert.Equal(t, KindNoFindings, blocks[2].Kind)
	assert.Equal(t, BandGreen, blocks[0].Band)
}

func TestRenderPreservesOrderAndFooterPage(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	doc := newDoc(manyFindings(40))

	pages := r.Render(doc)
	require.Greater(t, len(pages), 2)

	got := flatten(pages)
	want := r.Blocks(doc)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.Equal(t, want[i].Heading, got[i].Heading)
	}

	last := pages[len(pages)-1]
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, KindFooter, last.Blocks[0].Kind)

	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, ReportTitle, p.Header)
		assert.Equal(t, fmt.Sprintf("Page %d of %d", i+1, len(pages)), p.Footer)
		assert.NotEmpty(t, p.Blocks)
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	doc := newDoc(manyFindings(25))
	assert.Equal(t, r.Render(doc), r.Render(doc))
}

func TestPaginateRespectsBodyLimit(t *testing.T) {
	l := DefaultLayout()
	r := NewRenderer(l, nil)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		var blocks []Block
		n := 1 + rng.Intn(60)
		for i := 0; i < n; i++ {
			h := 10 + rng.Float64()*120
			if rng.Intn(15) == 0 {
				h = l.BodyHeight() + 1 + rng.Float64()*100
			}
			blocks = append(blocks, Block{Kind: KindFinding, Heading: fmt.Sprint(i), Height: h})
		}
		blocks = append(blocks, Block{Kind: KindFooter, Height: 20})

		pages := r.Paginate(blocks)
		require.Len(t, flatten(pages), len(blocks))
		for _, p := range pages {
			require.NotEmpty(t, p.Blocks)
			sum := 0.0
			for _, b := range p.Blocks {
				sum += b.Height
				assert.InDelta(t, l.MarginTop+sum-b.Height, b.Y, 1e-9)
			}
			if sum > l.BodyHeight() {
				require.Len(t, p.Blocks, 1, "only a lone oversize block may exceed the body")
				assert.True(t, p.Blocks[0].Overflow)
			}
		}
		assert.Equal(t, KindFooter, pages[len(pages)-1].Blocks[0].Kind)
	}
}

func TestPaginateLeadingOversizeBlock(t *testing.T) {
	l := DefaultLayout()
	r := NewRenderer(l, nil)
	pages := r.Paginate([]Block{
		{Kind: KindRawOutput, Height: l.BodyHeight() * 2},
		{Kind: KindFinding, Height: 30},
		{Kind: KindFooter, Height: 20},
	})

	require.Len(t, pages, 3)
	assert.True(t, pages[0].Blocks[0].Overflow)
	assert.Equal(t, l.MarginTop, pages[0].Blocks[0].Y)
	assert.False(t, pages[1].Blocks[0].Overflow)
	assert.Equal(t, 1, OverflowCount(pages))
}

func TestSortBySeverityIsStableAndOptIn(t *testing.T) {
	in := []model.Finding{
		{Severity: model.SeverityInfo, Title: "i1"},
		{Severity: model.SeverityCritical, Title: "c1"},
		{Severity: model.Severity("OTHER"), Title: "o1"},
		{Severity: model.SeverityWarning, Title: "w1"},
		{Severity: model.SeverityCritical, Title: "c2"},
	}
	out := SortBySeverity(in)

	var titles []string
	for _, f := range out {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"c1", "c2", "w1", "i1", "o1"}, titles)
	assert.Equal(t, "i1", in[0].Title, "input must not be reordered")
}

func TestNewRendererDerivesCharsPerLine(t *testing.T) {
	l := DefaultLayout()
	l.CharsPerLine = 0
	r := NewRenderer(l, nil)
	assert.Equal(t, int(l.ContentWidth()/1.9), r.Layout().CharsPerLine)
}

func TestFindingHeadingWraps(t *testing.T) {
	r := NewRenderer(DefaultLayout(), nil)
	l := r.Layout()
	title := strings.Repeat("Uses a non-public entitlement ", 11)
	doc := newDoc(model.ScanResult{
		Kind:     model.Structured,
		Status:   model.StatusBlocked,
		Findings: []model.Finding{{Severity: model.SeverityCritical, Title: title}},
	})
	doc.Scan.Counts = model.Tally(doc.Scan.Findings)

	var b Block
	for _, blk := range r.Blocks(doc) {
		if blk.Kind == KindFinding {
			b = blk
		}
	}
	require.Equal(t, KindFinding, b.Kind)
	require.Greater(t, len(b.HeadingLines), 1)
	for _, line := range b.HeadingLines {
		assert.LessOrEqual(t, len([]rune(line)), l.CharsPerLine)
	}
	assert.Equal(t, l.Measure(len(b.HeadingLines), len(b.Lines)), b.Height)
	assert.Greater(t, b.Height, l.Measure(1, len(b.Lines)))
}
