// Package pdf serializes laid-out report pages with fpdf. Positions come from
// the render package unchanged; this package only draws.
package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/yourorg/policy-scan-worker/internal/render"
)

const (
	bandWidth = 2.0
	utf8Font  = "ReportSans"
)

type options struct {
	font []byte
}

type Option func(*options)

// WithUTF8Font embeds a TrueType font and draws all text with it. Without
// one, text goes through the core Helvetica font and anything outside
// cp1252 (CJK app names, for example) prints as '?'.
func WithUTF8Font(ttf []byte) Option {
	return func(o *options) { o.font = ttf }
}

// Write draws pages onto an A4 (or the layout's) canvas and returns the file
// bytes. created is stamped into the document metadata so that identical
// input gives identical output.
func Write(pages []render.Page, l render.Layout, created time.Time, opts ...Option) ([]byte, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: l.PageWidth, Ht: l.PageHeight},
	})
	doc.SetMargins(l.MarginLeft, l.MarginTop, l.MarginRight)
	doc.SetAutoPageBreak(false, l.MarginBottom)
	doc.SetCatalogSort(true)
	doc.SetCreationDate(created)
	doc.SetModificationDate(created)
	doc.SetTitle(render.ReportTitle, true)
	doc.SetCreator("policy-scan-worker", true)

	f := fonts{tr: doc.UnicodeTranslatorFromDescriptor(""), sans: "Helvetica", mono: "Courier"}
	if len(o.font) > 0 {
		doc.AddUTF8FontFromBytes(utf8Font, "", o.font)
		doc.AddUTF8FontFromBytes(utf8Font, "B", o.font)
		f = fonts{tr: func(s string) string { return s }, sans: utf8Font, mono: utf8Font}
	}

	for _, p := range pages {
		doc.AddPage()
		drawChrome(doc, f, p, l)
		for _, b := range p.Blocks {
			drawBlock(doc, f, b, l)
		}
	}

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("pdf: layout: %w", err)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: output: %w", err)
	}
	return buf.Bytes(), nil
}

type fonts struct {
	tr         func(string) string
	sans, mono string
}

func drawChrome(doc *fpdf.Fpdf, f fonts, p render.Page, l render.Layout) {
	doc.SetTextColor(107, 114, 128)
	doc.SetFont(f.sans, "", 8)
	doc.SetXY(l.MarginLeft, l.MarginTop/2-2)
	doc.CellFormat(l.ContentWidth(), 4, f.tr(p.Header), "", 0, "L", false, 0, "")
	doc.SetXY(l.MarginLeft, l.PageHeight-l.MarginBottom/2-2)
	doc.CellFormat(l.ContentWidth(), 4, f.tr(p.Footer), "", 0, "R", false, 0, "")
}

func drawBlock(doc *fpdf.Fpdf, f fonts, b render.Block, l render.Layout) {
	doc.SetFillColor(int(b.Band.R), int(b.Band.G), int(b.Band.B))
	doc.Rect(l.MarginLeft, b.Y+l.BlockPadding/2, bandWidth, b.Height-l.BlockPadding, "F")

	x := l.MarginLeft + bandWidth + 2
	w := l.ContentWidth() - bandWidth - 2
	y := b.Y + l.BlockPadding

	doc.SetTextColor(17, 24, 39)
	size := 11.0
	if b.Kind == render.KindTitle {
		size = 14
	}
	doc.SetFont(f.sans, "B", size)
	heading := b.HeadingLines
	if len(heading) == 0 {
		heading = []string{b.Heading}
	}
	limit := l.PageHeight - l.MarginBottom
	for _, line := range heading {
		if y+l.HeadingHeight > limit {
			break
		}
		doc.SetXY(x, y)
		doc.CellFormat(w, l.HeadingHeight, f.tr(line), "", 0, "L", false, 0, "")
		y += l.HeadingHeight
	}

	doc.SetFont(f.sans, "", 10)
	if b.Kind == render.KindRawOutput {
		doc.SetFont(f.mono, "", 8)
	}
	for _, line := range b.Lines {
		// overflowing blocks are clipped at the bottom margin
		if y+l.LineHeight > limit {
			break
		}
		doc.SetXY(x, y)
		doc.CellFormat(w, l.LineHeight, f.tr(line), "", 0, "L", false, 0, "")
		y += l.LineHeight
	}
}
