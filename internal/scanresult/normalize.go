// Package scanresult turns whatever the external scanner printed into a
// model.ScanResult. It is the only place that inspects the raw shape.
package scanresult

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/model"
)

type wireCounts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

type wireFinding struct {
	Severity          string `json:"severity"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	GuidelineRef      string `json:"guidelineRef"`
	GuidelineRefSnake string `json:"guideline_ref"`
	Guideline         string `json:"guideline"`
	Location          string `json:"location"`
	File              string `json:"file"`
	SuggestedFix      string `json:"suggestedFix"`
	SuggestedFixSnake string `json:"suggested_fix"`
}

// Counts are kept raw so a badly typed count cannot sink the findings.
type wireResult struct {
	Status   *string         `json:"status"`
	Counts   json.RawMessage `json:"counts"`
	Summary  json.RawMessage `json:"summary"`
	Findings *[]wireFinding  `json:"findings"`
}

var bom = []byte("\xef\xbb\xbf")

// Normalize never fails: output that is not the structured shape becomes an
// Unparsed result with status UNKNOWN and the raw text preserved.
func Normalize(raw []byte) model.ScanResult {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(raw, bom))
	if len(trimmed) == 0 {
		return unparsed(raw, "scanner produced no output")
	}

	w, err := decode(trimmed)
	if err == nil {
		return fromWire(w, nil)
	}
	// Scanners that log before printing JSON: take the outermost object.
	if i, j := bytes.IndexByte(trimmed, '{'), bytes.LastIndexByte(trimmed, '}'); i >= 0 && j > i && (i > 0 || j < len(trimmed)-1) {
		if w, err2 := decode(trimmed[i : j+1]); err2 == nil {
			return fromWire(w, []string{"structured output extracted from surrounding text"})
		}
	}
	return unparsed(raw, err.Error())
}

func decode(b []byte) (*wireResult, error) {
	var w wireResult
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	if w.Status == nil && isAbsent(w.Counts) && isAbsent(w.Summary) && w.Findings == nil {
		return nil, errors.New("json has none of status, counts, findings")
	}
	return &w, nil
}

func unparsed(raw []byte, reason string) model.ScanResult {
	note := apperr.Wrap(apperr.KindMalformedScanOutput, "scanresult.Normalize", errors.New(reason)).Error()
	return model.ScanResult{
		Kind:        model.Unparsed,
		Status:      model.StatusUnknown,
		Findings:    []model.Finding{},
		Unparsed:    string(raw),
		Diagnostics: []string{note},
	}
}

func fromWire(w *wireResult, diags []string) model.ScanResult {
	res := model.ScanResult{Kind: model.Structured, Findings: []model.Finding{}}

	if w.Findings != nil {
		for i, wf := range *w.Findings {
			f := model.Finding{
				Severity:     model.ParseSeverity(wf.Severity),
				Title:        strings.TrimSpace(wf.Title),
				Description:  strings.TrimSpace(wf.Description),
				GuidelineRef: strings.TrimSpace(firstNonEmpty(wf.GuidelineRef, wf.GuidelineRefSnake, wf.Guideline)),
				Location:     strings.TrimSpace(firstNonEmpty(wf.Location, wf.File)),
				SuggestedFix: strings.TrimSpace(firstNonEmpty(wf.SuggestedFix, wf.SuggestedFixSnake)),
			}
			if f.Title == "" {
				f.Title = "Untitled finding"
			}
			if f.Severity.Rank() == 0 {
				diags = append(diags, fmt.Sprintf("finding %d has unrecognised severity %q", i+1, wf.Severity))
			}
			res.Findings = append(res.Findings, f)
		}
	}

	reported, field := w.Counts, "counts"
	if isAbsent(reported) {
		reported, field = w.Summary, "summary"
	}
	var rc *wireCounts
	if !isAbsent(reported) {
		var c wireCounts
		if err := json.Unmarshal(reported, &c); err != nil {
			diags = append(diags, fmt.Sprintf("reported %s ignored: %v", field, err))
		} else {
			rc = &c
		}
	}
	switch {
	case w.Findings != nil:
		res.Counts = model.Tally(res.Findings)
		if rc != nil {
			if c := clamp(*rc); c != res.Counts {
				diags = append(diags, fmt.Sprintf(
					"reported counts critical=%d warning=%d info=%d disagree with findings; recomputed as critical=%d warning=%d info=%d",
					c.Critical, c.Warning, c.Info, res.Counts.Critical, res.Counts.Warning, res.Counts.Info))
			}
		}
	case rc != nil:
		res.Counts = clamp(*rc)
		diags = append(diags, "no findings list; counts taken as reported")
	}

	status, ok := model.StatusUnknown, false
	if w.Status != nil {
		status, ok = model.ParseStatus(*w.Status)
	}
	// An explicit UNKNOWN is a verdict and is kept.
	if !ok {
		derived := deriveStatus(res.Counts)
		if w.Status == nil {
			diags = append(diags, fmt.Sprintf("status missing; derived %s from counts", derived))
		} else {
			diags = append(diags, fmt.Sprintf("status %q is not a verdict; derived %s from counts", *w.Status, derived))
		}
		status = derived
	}
	res.Status = status
	res.Diagnostics = diags
	return res
}

func isAbsent(b json.RawMessage) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func deriveStatus(c model.Counts) model.Status {
	switch {
	case c.Critical > 0:
		return model.StatusBlocked
	case c.Warning > 0:
		return model.StatusWarning
	default:
		return model.StatusGreenlit
	}
}

func clamp(c wireCounts) model.Counts {
	return model.Counts{Critical: max(c.Critical, 0), Warning: max(c.Warning, 0), Info: max(c.Info, 0)}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
