package guidelines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Fetcher retrieves the current guideline document. It holds no state
// between calls; now stamps the result.
type Fetcher interface {
	Fetch(ctx context.Context, now time.Time) (*Document, error)
}

// FallbackProvider is implemented by fetchers that can supply a fixed
// document when the source is unreachable and nothing is cached.
type FallbackProvider interface {
	Fallback(now time.Time) *Document
}

const maxBodyBytes = 8 << 20

var errNoSections = errors.New("guidelines: no sections found in source")

// numberedRe matches "1.1 Objectionable Content" and "2.5.1. Software Requirements".
var numberedRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+(\S.*)$`)

var refNumberRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)`)

type HTTPFetcher struct {
	URL     string
	Timeout time.Duration
	// Builtin enables the built-in guideline set as a fallback.
	Builtin bool
	Client  *http.Client
}

func NewHTTPFetcher(url string, timeout time.Duration, builtin bool) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		URL:     url,
		Timeout: timeout,
		Builtin: builtin,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, now time.Time) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9")
	req.Header.Set("User-Agent", "policy-scan-worker/1.0")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", f.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.URL, err)
	}

	var sections []Section
	if isHTML(resp.Header.Get("Content-Type"), body) {
		sections, err = ParseHTML(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
	} else {
		sections = ParseText(string(body))
	}
	if len(sections) == 0 {
		return nil, errNoSections
	}
	return &Document{FetchedAt: now, SourceURL: f.URL, Sections: sections}, nil
}

func (f *HTTPFetcher) Fallback(now time.Time) *Document {
	if !f.Builtin {
		return nil
	}
	return Builtin(now)
}

func isHTML(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "text/html", "application/xhtml+xml":
			return true
		case "text/plain", "text/markdown":
			return false
		}
	}
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// ParseHTML splits a guideline page into sections at its headings. Numbered
// headings ("1.1 ...") are preferred; pages without any fall back to every
// h2/h3 heading.
func ParseHTML(r io.Reader) ([]Section, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse guidelines html: %w", err)
	}

	type heading struct {
		node *html.Node
		text string
	}
	var heads []heading
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Nav, atom.Noscript:
				return
			case atom.H1, atom.H2, atom.H3, atom.H4:
				heads = append(heads, heading{node: n, text: collapse(textOf(n))})
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	numbered := false
	for _, h := range heads {
		if numberedRe.MatchString(h.text) {
			numbered = true
			break
		}
	}

	starts := map[*html.Node]bool{}
	for _, h := range heads {
		if h.text == "" {
			continue
		}
		if numbered && !numberedRe.MatchString(h.text) {
			continue
		}
		if !numbered && h.node.DataAtom != atom.H2 && h.node.DataAtom != atom.H3 {
			continue
		}
		starts[h.node] = true
	}

	// Second pass in document order: each start heading opens a section and
	// block-level text until the next start heading becomes its body.
	var sections []Section
	var body []string
	flush := func() {
		if len(sections) > 0 {
			sections[len(sections)-1].Body = strings.Join(body, "\n")
		}
		body = body[:0]
	}
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Nav, atom.Noscript:
				return
			case atom.H1, atom.H2, atom.H3, atom.H4:
				if starts[n] {
					flush()
					sections = append(sections, newSection(len(sections), collapse(textOf(n))))
				}
				return
			case atom.P, atom.Li, atom.Blockquote, atom.Dd:
				if len(sections) > 0 {
					if t := collapse(textOf(n)); t != "" {
						body = append(body, t)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(root)
	flush()
	return sections, nil
}

// ParseText splits plain text or markdown on numbered heading lines.
func ParseText(s string) []Section {
	var sections []Section
	var body []string
	flush := func() {
		if len(sections) > 0 {
			sections[len(sections)-1].Body = strings.TrimSpace(strings.Join(body, "\n"))
		}
		body = body[:0]
	}
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if numberedRe.MatchString(trimmed) && len(trimmed) < 120 {
			flush()
			sections = append(sections, newSection(len(sections), trimmed))
			continue
		}
		if len(sections) > 0 {
			body = append(body, strings.TrimRight(line, " \t\r"))
		}
	}
	flush()
	return sections
}

func newSection(index int, heading string) Section {
	if m := numberedRe.FindStringSubmatch(heading); m != nil {
		return Section{Index: index, Number: m[1], Title: strings.TrimSpace(m[2])}
	}
	return Section{Index: index, Title: heading}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
