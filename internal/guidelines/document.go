// Package guidelines fetches the store review guidelines and keeps one
// process-wide copy fresh, serving the last good copy when the source fails.
package guidelines

import (
	"strings"
	"time"
)

// Document is immutable once fetched; callers share it read-only.
type Document struct {
	FetchedAt time.Time `json:"fetched_at"`
	SourceURL string    `json:"source_url"`
	Sections  []Section `json:"sections"`
}

type Section struct {
	Index  int    `json:"index"`
	Number string `json:"number,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Label is "2.1 App Completeness", or just the title for unnumbered sections.
func (s Section) Label() string {
	if s.Number == "" {
		return s.Title
	}
	return s.Number + " " + s.Title
}

// Lookup resolves a finding's guideline reference ("2.1", "Guideline 2.1",
// "2.1 App Completeness") to the most specific section that matches it.
func (d *Document) Lookup(ref string) (Section, bool) {
	if d == nil {
		return Section{}, false
	}
	num := refNumber(ref)
	if num != "" {
		// "2.1.3" falls back to "2.1" and then "2" when the exact clause is absent.
		for n := num; n != ""; n = parentNumber(n) {
			for _, s := range d.Sections {
				if s.Number == n {
					return s, true
				}
			}
		}
		return Section{}, false
	}
	want := strings.ToLower(strings.TrimSpace(ref))
	if want == "" {
		return Section{}, false
	}
	for _, s := range d.Sections {
		if strings.ToLower(s.Title) == want {
			return s, true
		}
	}
	return Section{}, false
}

func refNumber(ref string) string {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	for _, p := range []string{"guideline", "section", "§"} {
		if strings.HasPrefix(lower, p) {
			ref = strings.TrimSpace(ref[len(p):])
			break
		}
	}
	if m := refNumberRe.FindStringSubmatch(ref); m != nil {
		return m[1]
	}
	return ""
}

func parentNumber(n string) string {
	i := strings.LastIndexByte(n, '.')
	if i < 0 {
		return ""
	}
	return n[:i]
}
