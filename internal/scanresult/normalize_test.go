package scanresult

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/policy-scan-worker/internal/model"
)

func TestNormalizeCanonical(t *testing.T) {
	raw := []byte(`{
  "status": "BLOCKED",
  "counts": {"critical": 1, "warning": 1, "info": 0},
  "findings": [
    {"severity": "CRITICAL", "title": "Private API usage", "description": "Calls _setBackgroundStyle", "guidelineRef": "2.5.1", "location": "Payload/App.app/App"},
    {"severity": "WARNING", "title": "Missing privacy manifest", "guideline_ref": "5.1.1", "suggested_fix": "Add PrivacyInfo.xcprivacy"}
  ]
}`)
	res := Normalize(raw)

	assert.Equal(t, model.Structured, res.Kind)
	assert.Equal(t, model.StatusBlocked, res.Status)
	assert.Equal(t, model.Counts{Critical: 1, Warning: 1}, res.Counts)
	assert.Empty(t, res.Diagnostics)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, model.Finding{
		Severity:     model.SeverityCritical,
		Title:        "Private API usage",
		Description:  "Calls _setBackgroundStyle",
		GuidelineRef: "2.5.1",
		Location:     "Payload/App.app/App",
	}, res.Findings[0])
	assert.Equal(t, "5.1.1", res.Findings[1].GuidelineRef)
	assert.Equal(t, "Add PrivacyInfo.xcprivacy", res.Findings[1].SuggestedFix)
}

func TestNormalizeRecomputesMismatchedCounts(t *testing.T) {
	raw := []byte(`{"status":"WARNING","counts":{"critical":0,"warning":5,"info":2},
	  "findings":[{"severity":"warning","title":"a"},{"severity":"info","title":"b"},{"severity":"critical","title":"c"}]}`)
	res := Normalize(raw)

	assert.Equal(t, model.Counts{Critical: 1, Warning: 1, Info: 1}, res.Counts)
	assert.Equal(t, model.StatusWarning, res.Status, "reported status is kept")
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "recomputed as critical=1 warning=1 info=1")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first := Normalize([]byte(`{"status":"fail","summary":{"critical":9},
	  "findings":[{"severity":"high","title":"a"},{"severity":"low","title":"b"},{"severity":"medium","title":"c"},{"severity":"error","title":"d"}]}`))
	b, err := json.Marshal(first)
	require.NoError(t, err)

	second := Normalize(b)
	assert.Equal(t, first.Counts, second.Counts)
	assert.Equal(t, model.Tally(second.Findings), second.Counts)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Findings, second.Findings)
}

func TestNormalizeUnparsed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain text", "Scanning App.ipa...\nFound 3 issues, see log\n"},
		{"truncated json", `{"status":"BLOCKED","findings":[{"severity":`},
		{"json without shape", `{"error":"license expired"}`},
		{"json array", `[{"severity":"CRITICAL"}]`},
		{"empty", "   \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize([]byte(tt.raw))
			assert.Equal(t, model.Unparsed, res.Kind)
			assert.Equal(t, model.StatusUnknown, res.Status)
			assert.NotNil(t, res.Findings)
			assert.Empty(t, res.Findings)
			assert.Equal(t, model.Counts{}, res.Counts)
			assert.Equal(t, tt.raw, res.Unparsed)
			require.Len(t, res.Diagnostics, 1)
			assert.Contains(t, res.Diagnostics[0], "malformed_scan_output")
		})
	}
}

func TestNormalizeExtractsEmbeddedJSON(t *testing.T) {
	raw := []byte("INFO loading rules\n{\"status\":\"GREENLIT\",\"findings\":[]}\nINFO done\n")
	res := Normalize(raw)
	assert.Equal(t, model.Structured, res.Kind)
	assert.Equal(t, model.StatusGreenlit, res.Status)
	assert.Contains(t, res.Diagnostics, "structured output extracted from surrounding text")
}

func TestNormalizeDerivesStatus(t *testing.T) {
	res := Normalize([]byte(`{"findings":[{"severity":"WARNING","title":"x"}]}`))
	assert.Equal(t, model.StatusWarning, res.Status)
	assert.Contains(t, res.Diagnostics, "status missing; derived WARNING from counts")

	res = Normalize([]byte(`{"status":"??","findings":[{"severity":"CRITICAL","title":"x"}]}`))
	assert.Equal(t, model.StatusBlocked, res.Status)

	res = Normalize([]byte(`{"status":"UNKNOWN","findings":[]}`))
	assert.Equal(t, model.Structured, res.Kind)
	assert.Equal(t, model.StatusUnknown, res.Status, "an explicit UNKNOWN is kept")
	assert.Empty(t, res.Diagnostics)
}

func TestNormalizeUnparsedRoundTripStaysUnknown(t *testing.T) {
	first := Normalize([]byte("garbage output"))
	require.Equal(t, model.Unparsed, first.Kind)
	b, err := json.Marshal(first)
	require.NoError(t, err)

	again := Normalize(b)
	assert.Equal(t, model.StatusUnknown, again.Status)
	assert.Empty(t, again.Findings)
	assert.Equal(t, model.Counts{}, again.Counts)
}

func TestNormalizeMalformedCounts(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		status model.Status
		counts model.Counts
		diag   string
	}{
		{
			name:   "string count with findings",
			raw:    `{"status":"BLOCKED","counts":{"critical":"1"},"findings":[{"severity":"CRITICAL","title":"X"}]}`,
			status: model.StatusBlocked,
			counts: model.Counts{Critical: 1},
			diag:   "reported counts ignored",
		},
		{
			name:   "summary as array with findings",
			raw:    `{"status":"WARNING","summary":[1,2],"findings":[{"severity":"WARNING","title":"Y"}]}`,
			status: model.StatusWarning,
			counts: model.Counts{Warning: 1},
			diag:   "reported summary ignored",
		},
		{
			name:   "bad counts without findings",
			raw:    `{"counts":{"warning":true}}`,
			status: model.StatusGreenlit,
			counts: model.Counts{},
			diag:   "reported counts ignored",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize([]byte(tc.raw))
			require.Equal(t, model.Structured, res.Kind)
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.counts, res.Counts)
			found := false
			for _, d := range res.Diagnostics {
				if strings.HasPrefix(d, tc.diag) {
					found = true
				}
			}
			assert.True(t, found, "diagnostics %v", res.Diagnostics)
		})
	}
}

func TestNormalizeCountsOnly(t *testing.T) {
	res := Normalize([]byte(`{"status":"BLOCKED","counts":{"critical":2,"warning":-1}}`))
	assert.Equal(t, model.Structured, res.Kind)
	assert.Equal(t, model.Counts{Critical: 2}, res.Counts)
	assert.Empty(t, res.Findings)
	assert.Contains(t, res.Diagnostics, "no findings list; counts taken as reported")
}

func TestNormalizeUnknownSeverity(t *testing.T) {
	res := Normalize([]byte(`{"status":"WARNING","findings":[{"severity":"cosmetic"},{"severity":"warn","title":"t"}]}`))
	require.Len(t, res.Findings, 2)
	assert.Equal(t, "Untitled finding", res.Findings[0].Title)
	assert.Equal(t, model.Severity("COSMETIC"), res.Findings[0].Severity)
	assert.Equal(t, model.Counts{Warning: 1}, res.Counts)
	assert.Contains(t, res.Diagnostics, `finding 1 has unrecognised severity "cosmetic"`)
}

func TestNormalizeBlockedSingleCritical(t *testing.T) {
	res := Normalize([]byte(`{"status":"BLOCKED","findings":[{"severity":"CRITICAL","title":"X"}]}`))
	assert.Equal(t, model.StatusBlocked, res.Status)
	assert.Equal(t, 1, res.Counts.Critical)
}
