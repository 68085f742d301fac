package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/model"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 1024
	apiVersion       = "2023-06-01"
)

const systemPrompt = "You review mobile app store submissions for policy compliance. " +
	"Answer with a single JSON object and no other text."

type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
}

// LLMClient is an Enricher backed by a Messages-style completion API.
type LLMClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	hc        *http.Client
}

func NewLLMClient(opts Options) (*LLMClient, error) {
	opts.defaults()
	if opts.APIKey == "" {
		return nil, fmt.Errorf("enrich: missing api key")
	}
	return &LLMClient{
		apiKey:    opts.APIKey,
		url:       strings.TrimRight(opts.BaseURL, "/") + "/messages",
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		hc:        &http.Client{Timeout: opts.Timeout},
	}, nil
}

type messageReq struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// upstreamError carries a non-2xx reply from the completion API.
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string { return fmt.Sprintf("llm upstream %d: %s", e.status, e.msg) }

func (c *LLMClient) Analyze(ctx context.Context, scan model.ScanResult) (string, error) {
	reply, err := c.complete(ctx, analysisPrompt(scan))
	if err != nil {
		return "", apperr.Wrap(apperr.KindEnrichmentFailed, "enrich.Analyze", err)
	}
	text, err := ParseReply(reply, "analysis", "summary")
	if err != nil {
		return "", apperr.Wrap(apperr.KindEnrichmentFailed, "enrich.Analyze", err)
	}
	return text, nil
}

func (c *LLMClient) SuggestFix(ctx context.Context, f model.Finding) (string, error) {
	reply, err := c.complete(ctx, fixPrompt(f))
	if err != nil {
		return "", apperr.Wrap(apperr.KindEnrichmentFailed, "enrich.SuggestFix", err)
	}
	text, err := ParseReply(reply, "suggested_fix", "suggestedFix", "fix")
	if err != nil {
		return "", apperr.Wrap(apperr.KindEnrichmentFailed, "enrich.SuggestFix", err)
	}
	return text, nil
}

func (c *LLMClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messageReq{
		Model:     c.model,
		System:    systemPrompt,
		MaxTokens: c.maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var mr messageResp
	decodeErr := json.Unmarshal(raw, &mr)
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && mr.Error != nil {
			msg = mr.Error.Message
		}
		return "", upstreamError{status: resp.StatusCode, msg: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	var sb strings.Builder
	for _, part := range mr.Content {
		if part.Type == "" || part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func analysisPrompt(scan model.ScanResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A store-policy scan of a mobile app finished with status %s ", scan.Status)
	fmt.Fprintf(&sb, "(%d critical, %d warning, %d info).\n", scan.Counts.Critical, scan.Counts.Warning, scan.Counts.Info)
	if len(scan.Findings) == 0 && scan.Unparsed != "" {
		sb.WriteString("The scanner output could not be parsed. Raw output:\n")
		sb.WriteString(truncate(scan.Unparsed, 4000))
		sb.WriteString("\n")
	}
	for i, f := range scan.Findings {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, f.Severity, f.Title)
		if f.GuidelineRef != "" {
			fmt.Fprintf(&sb, " (guideline %s)", f.GuidelineRef)
		}
		if f.Description != "" {
			fmt.Fprintf(&sb, ": %s", truncate(f.Description, 400))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Summarise the review risk and the most important next steps. Reply as {"analysis": "<text>"}.`)
	return sb.String()
}

func fixPrompt(f model.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Finding [%s] %s\n", f.Severity, f.Title)
	if f.Description != "" {
		fmt.Fprintf(&sb, "Details: %s\n", truncate(f.Description, 1500))
	}
	if f.GuidelineRef != "" {
		fmt.Fprintf(&sb, "Guideline: %s\n", f.GuidelineRef)
	}
	if f.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", f.Location)
	}
	sb.WriteString(`Give a concrete fix a developer can apply before resubmitting. Reply as {"suggested_fix": "<text>"}.`)
	return sb.String()
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
