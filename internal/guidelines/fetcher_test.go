package guidelines

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guidelinePage = `<!DOCTYPE html>
<html><head><title>App Review Guidelines</title><style>h3 { color: red }</style></head>
<body>
<nav><h3>1.1 Menu entry that must be ignored</h3></nav>
<h1>App Review Guidelines</h1>
<p>Introduction text before any section.</p>
<h2>1. Safety</h2>
<p>Apps must not include <b>offensive</b> content.</p>
<h3>1.1 Objectionable Content</h3>
<ul><li>Defamatory material.</li><li>Realistic violence.</li></ul>
<h2>2. Performance</h2>
<h3>2.1 App Completeness</h3>
<p>Submissions should be final versions.</p>
<script>var h = "<h3>9.9 Script</h3>";</script>
</body></html>`

func TestParseHTMLNumberedHeadings(t *testing.T) {
	sections, err := ParseHTML(strings.NewReader(guidelinePage))
	require.NoError(t, err)
	require.Len(t, sections, 4)

	assert.Equal(t, Section{Index: 0, Number: "1", Title: "Safety", Body: "Apps must not include offensive content."}, sections[0])
	assert.Equal(t, "1.1", sections[1].Number)
	assert.Equal(t, "Objectionable Content", sections[1].Title)
	assert.Equal(t, "Defamatory material.\nRealistic violence.", sections[1].Body)
	assert.Equal(t, "2", sections[2].Number)
	assert.Empty(t, sections[2].Body)
	assert.Equal(t, Section{Index: 3, Number: "2.1", Title: "App Completeness", Body: "Submissions should be final versions."}, sections[3])
}

func TestParseHTMLUnnumberedHeadings(t *testing.T) {
	page := `<html><body><h1>Policies</h1><h2>Privacy</h2><p>Be transparent.</p><h4>Note</h4><p>More.</p><h3>Payments</h3><p>Use IAP.</p></body></html>`
	sections, err := ParseHTML(strings.NewReader(page))
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Privacy", sections[0].Title)
	assert.Empty(t, sections[0].Number)
	assert.Equal(t, "Be transparent.\nMore.", sections[0].Body)
	assert.Equal(t, "Payments", sections[1].Title)
}

func TestParseText(t *testing.T) {
	text := "Preamble\n## 1 Safety\nBe safe.\n\n### 1.1 Objectionable Content\nNo hate.\nNo violence.\n2.1. App Completeness\nShip it done.\n"
	sections := ParseText(text)
	require.Len(t, sections, 3)
	assert.Equal(t, Section{Index: 0, Number: "1", Title: "Safety", Body: "Be safe."}, sections[0])
	assert.Equal(t, "No hate.\nNo violence.", sections[1].Body)
	assert.Equal(t, "2.1", sections[2].Number)
	assert.Equal(t, "App Completeness", sections[2].Title)
}

func TestHTTPFetcherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(guidelinePage))
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	doc, err := NewHTTPFetcher(srv.URL, time.Second, false).Fetch(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, now, doc.FetchedAt)
	assert.Equal(t, srv.URL, doc.SourceURL)
	assert.Len(t, doc.Sections, 4)
}

func TestHTTPFetcherPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("1 Safety\nBe safe.\n"))
	}))
	defer srv.Close()

	doc, err := NewHTTPFetcher(srv.URL, time.Second, false).Fetch(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Safety", doc.Sections[0].Title)
}

func TestHTTPFetcherErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"no sections", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body><p>maintenance</p></body></html>"))
		}},
		{"too slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTPFetcher(srv.URL, 100*time.Millisecond, false).Fetch(context.Background(), time.Now())
			assert.Error(t, err)
		})
	}
}

func TestHTTPFetcherFallback(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, NewHTTPFetcher("http://unused", 0, false).Fallback(now))

	doc := NewHTTPFetcher("http://unused", 0, true).Fallback(now)
	require.NotNil(t, doc)
	assert.Equal(t, BuiltinSourceURL, doc.SourceURL)
	assert.Equal(t, now, doc.FetchedAt)
	for i, s := range doc.Sections {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, Builtin(now), doc, "built-in set must be deterministic")
}
