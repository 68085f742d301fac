// Package enrich adds language-model analysis and suggested fixes to scan
// findings. Replies are untrusted: they may be JSON, fenced JSON, partial
// JSON or prose.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/model"
)

// Enricher produces free-text analysis for a scan and fixes for findings.
type Enricher interface {
	Analyze(ctx context.Context, scan model.ScanResult) (string, error)
	SuggestFix(ctx context.Context, f model.Finding) (string, error)
}

var ErrEmptyReply = errors.New("empty reply")

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// ParseReply pulls the text for one of keys out of a model reply. JSON
// objects (fenced or not) are searched for the keys; partial JSON is scanned
// for the first key's string value; anything else is taken as prose.
func ParseReply(reply string, keys ...string) (string, error) {
	text := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return "", ErrEmptyReply
	}
	if !strings.HasPrefix(text, "{") {
		return text, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), nil
			}
		}
		return "", fmt.Errorf("reply json has none of %v", keys)
	}

	for _, k := range keys {
		re := regexp.MustCompile(`"` + regexp.QuoteMeta(k) + `"\s*:\s*"((?:[^"\\]|\\.)*)`)
		if m := re.FindStringSubmatch(text); m != nil {
			s, err := strconv.Unquote(`"` + m[1] + `"`)
			if err != nil {
				s = m[1]
			}
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("reply is malformed json without %v", keys)
}

// FixError is one finding's failed suggestion.
type FixError struct {
	Index int
	Err   error
}

// SuggestFixes asks e for a fix per finding, at most limit calls at a time
// and paced by lim when non-nil. The result always has the same findings in
// the same order; a failed call leaves that finding's fix untouched.
// Findings that already carry a fix are skipped.
func SuggestFixes(ctx context.Context, e Enricher, findings []model.Finding, limit int, lim *rate.Limiter) ([]model.Finding, []FixError) {
	out := make([]model.Finding, len(findings))
	copy(out, findings)
	if limit < 1 {
		limit = 1
	}

	var (
		mu   sync.Mutex
		errs []FixError
	)
	record := func(i int, err error) {
		mu.Lock()
		errs = append(errs, FixError{Index: i, Err: err})
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range out {
		if out[i].SuggestedFix != "" {
			continue
		}
		g.Go(func() error {
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					record(i, err)
					return nil
				}
			}
			fix, err := e.SuggestFix(ctx, out[i])
			if err != nil {
				record(i, err)
				return nil
			}
			out[i] = out[i].WithSuggestedFix(fix)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(errs, func(a, b FixError) int { return a.Index - b.Index })
	return out, errs
}

// JoinFixErrors folds per-finding failures into one EnrichmentFailed error.
func JoinFixErrors(errs []FixError) error {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("finding %d: %v", fe.Index+1, fe.Err))
	}
	return apperr.Wrap(apperr.KindEnrichmentFailed, "enrich.SuggestFixes", errors.New(strings.Join(parts, "; ")))
}
