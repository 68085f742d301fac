package render

import (
	"fmt"

	"github.com/yourorg/policy-scan-worker/internal/metrics"
	"github.com/yourorg/policy-scan-worker/internal/report"
)

type Page struct {
	Number int
	Header string
	Footer string
	Blocks []Block
}

type Renderer struct {
	layout  Layout
	metrics *metrics.Metrics
}

// NewRenderer fills zero layout fields from DefaultLayout.
func NewRenderer(l Layout, m *metrics.Metrics) *Renderer {
	d := DefaultLayout()
	if l.PageWidth <= 0 || l.PageHeight <= 0 {
		l.PageWidth, l.PageHeight = d.PageWidth, d.PageHeight
	}
	if l.LineHeight <= 0 {
		l.LineHeight = d.LineHeight
	}
	if l.HeadingHeight <= 0 {
		l.HeadingHeight = d.HeadingHeight
	}
	if l.CharsPerLine <= 0 {
		// about 1.9mm per character at 10pt Helvetica
		l.CharsPerLine = max(int(l.ContentWidth()/1.9), 10)
	}
	return &Renderer{layout: l, metrics: m}
}

func (r *Renderer) Layout() Layout { return r.layout }

// Render lays doc out into pages. The same document always yields the same
// pages.
func (r *Renderer) Render(doc *report.Document) []Page {
	pages := r.Paginate(r.Blocks(doc))
	r.metrics.Rendered(len(pages), OverflowCount(pages))
	return pages
}

// Paginate places blocks top to bottom in the given order. Blocks are never
// split; one taller than the page body gets a page to itself and is marked
// Overflow. The footer block always starts a page of its own.
func (r *Renderer) Paginate(blocks []Block) []Page {
	var pages []Page
	cur := Page{Number: 1}
	cursor := r.layout.MarginTop
	limit := r.layout.BodyLimit()

	for _, b := range blocks {
		breakBefore := b.Kind == KindFooter || cursor+b.Height > limit
		if breakBefore && len(cur.Blocks) > 0 {
			pages = append(pages, cur)
			cur = Page{Number: cur.Number + 1}
			cursor = r.layout.MarginTop
		}
		b.Y = cursor
		b.Overflow = b.Height > r.layout.BodyHeight()
		cur.Blocks = append(cur.Blocks, b)
		cursor += b.Height
	}
	if len(cur.Blocks) > 0 {
		pages = append(pages, cur)
	}

	for i := range pages {
		pages[i].Header = ReportTitle
		pages[i].Footer = fmt.Sprintf("Page %d of %d", pages[i].Number, len(pages))
	}
	return pages
}

func OverflowCount(pages []Page) int {
	n := 0
	for _, p := range pages {
		for _, b := range p.Blocks {
			if b.Overflow {
				n++
			}
		}
	}
	return n
}
