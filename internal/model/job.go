package model

type ProgressEvent struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
	TS     string `json:"ts"`
}

// Summary is the small per-job digest kept in SQL; the full report stays in
// object storage.
type Summary struct {
	Status          Status `json:"status"`
	Total           int    `json:"total_findings"`
	Critical        int    `json:"critical"`
	Warning         int    `json:"warning"`
	Info            int    `json:"info"`
	Pages           int    `json:"pages"`
	GuidelinesStale bool   `json:"guidelines_stale,omitempty"`
	Enriched        bool   `json:"enriched,omitempty"`
}

func SummaryOf(r ScanResult) Summary {
	return Summary{
		Status:   r.Status,
		Total:    r.Counts.Total(),
		Critical: r.Counts.Critical,
		Warning:  r.Counts.Warning,
		Info:     r.Counts.Info,
	}
}
