package model

import "strings"

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// ParseSeverity maps scanner spellings onto the three canonical levels.
// Anything unrecognised is returned upper-cased so it still renders (gray band).
func ParseSeverity(s string) Severity {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "CRITICAL", "ERROR", "HIGH", "BLOCKER":
		return SeverityCritical
	case "WARNING", "WARN", "MEDIUM":
		return SeverityWarning
	case "INFO", "LOW", "NOTE", "NOTICE":
		return SeverityInfo
	}
	return Severity(v)
}

// Rank orders severities for the explicit sort step; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusGreenlit Status = "GREENLIT"
	StatusWarning  Status = "WARNING"
	StatusBlocked  Status = "BLOCKED"
	StatusUnknown  Status = "UNKNOWN"
)

func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GREENLIT", "PASS", "PASSED", "OK":
		return StatusGreenlit, true
	case "WARNING", "WARN":
		return StatusWarning, true
	case "BLOCKED", "FAIL", "FAILED":
		return StatusBlocked, true
	case "UNKNOWN":
		return StatusUnknown, true
	}
	return StatusUnknown, false
}

// ResultKind tags how a ScanResult was produced.
type ResultKind string

const (
	Structured ResultKind = "structured"
	Unparsed   ResultKind = "unparsed"
)

type Counts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

func (c Counts) Total() int { return c.Critical + c.Warning + c.Info }

type Finding struct {
	Severity     Severity `json:"severity"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	GuidelineRef string   `json:"guideline_ref,omitempty"`
	Location     string   `json:"location,omitempty"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// WithSuggestedFix returns a copy carrying fix. An existing fix is never
// replaced.
func (f Finding) WithSuggestedFix(fix string) Finding {
	if f.SuggestedFix == "" {
		f.SuggestedFix = strings.TrimSpace(fix)
	}
	return f
}

// ScanResult is the canonical scanner result. For Kind == Unparsed, Findings
// is empty, Status is UNKNOWN and Unparsed holds the raw output.
type ScanResult struct {
	Kind        ResultKind `json:"kind"`
	Status      Status     `json:"status"`
	Counts      Counts     `json:"counts"`
	Findings    []Finding  `json:"findings"`
	Unparsed    string     `json:"unparsed,omitempty"`
	Diagnostics []string   `json:"diagnostics,omitempty"`
}

// Tally counts findings per canonical severity. Non-canonical severities are
// not counted.
func Tally(findings []Finding) Counts {
	var c Counts
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityWarning:
			c.Warning++
		case SeverityInfo:
			c.Info++
		}
	}
	return c
}
