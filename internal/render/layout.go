// Package render lays a report document out on fixed-size pages. It is pure
// layout: no fonts are loaded and nothing is written anywhere.
package render

import (
	"strings"
	"unicode/utf8"

	"github.com/yourorg/policy-scan-worker/internal/model"
)

// Layout is measured in millimetres. Text width is modelled as a fixed
// number of characters per line.
type Layout struct {
	PageWidth     float64
	PageHeight    float64
	MarginTop     float64
	MarginBottom  float64
	MarginLeft    float64
	MarginRight   float64
	LineHeight    float64
	HeadingHeight float64
	BlockPadding  float64
	CharsPerLine  int
	// MaxRawLines caps the unparsed-output block.
	MaxRawLines int
}

// DefaultLayout is A4 portrait with 20mm margins and 10pt body text.
func DefaultLayout() Layout {
	return Layout{
		PageWidth:     210,
		PageHeight:    297,
		MarginTop:     20,
		MarginBottom:  20,
		MarginLeft:    20,
		MarginRight:   20,
		LineHeight:    5,
		HeadingHeight: 7,
		BlockPadding:  3,
		CharsPerLine:  90,
		MaxRawLines:   40,
	}
}

// BodyLimit is the lowest y a block may reach.
func (l Layout) BodyLimit() float64 { return l.PageHeight - l.MarginBottom }

// BodyHeight is the vertical space available to blocks on one page.
func (l Layout) BodyHeight() float64 { return l.BodyLimit() - l.MarginTop }

func (l Layout) ContentWidth() float64 { return l.PageWidth - l.MarginLeft - l.MarginRight }

// Measure returns the height of a block whose heading wraps to headingLines
// lines and whose body has n lines. A block always has at least one heading
// line.
func (l Layout) Measure(headingLines, n int) float64 {
	return 2*l.BlockPadding + float64(max(headingLines, 1))*l.HeadingHeight + float64(n)*l.LineHeight
}

// Band is the colour strip drawn beside a block.
type Band struct {
	Name    string
	R, G, B uint8
}

var (
	BandRed   = Band{Name: "red", R: 220, G: 38, B: 38}
	BandAmber = Band{Name: "amber", R: 245, G: 158, B: 11}
	BandBlue  = Band{Name: "blue", R: 37, G: 99, B: 235}
	BandGreen = Band{Name: "green", R: 22, G: 163, B: 74}
	BandGray  = Band{Name: "gray", R: 107, G: 114, B: 128}
)

func SeverityBand(s model.Severity) Band {
	switch s {
	case model.SeverityCritical:
		return BandRed
	case model.SeverityWarning:
		return BandAmber
	case model.SeverityInfo:
		return BandBlue
	default:
		return BandGray
	}
}

func StatusBand(s model.Status) Band {
	switch s {
	case model.StatusBlocked:
		return BandRed
	case model.StatusWarning:
		return BandAmber
	case model.StatusGreenlit:
		return BandGreen
	default:
		return BandGray
	}
}

// Wrap breaks text into lines of at most width characters, keeping
// paragraph breaks. Words longer than width are split.
func Wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		var cur strings.Builder
		curLen := 0
		for _, w := range words {
			for utf8.RuneCountInString(w) > width {
				if curLen > 0 {
					lines = append(lines, cur.String())
					cur.Reset()
					curLen = 0
				}
				head, tail := splitRunes(w, width)
				lines = append(lines, head)
				w = tail
			}
			wl := utf8.RuneCountInString(w)
			if curLen > 0 && curLen+1+wl > width {
				lines = append(lines, cur.String())
				cur.Reset()
				curLen = 0
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(w)
			curLen += wl
		}
		if curLen > 0 {
			lines = append(lines, cur.String())
		}
	}
	return trimBlank(lines)
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}
	return lines
}
