// Package llm is the generation-service client the repair loop calls
// to obtain candidate replacement scripts. The service is stateless
// from our perspective; all retry and validation logic stays with the
// caller, and every output is treated as untrusted until parse-checked.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apthunt/harvester/models"
)

const snapshotLimit = 8192

// Client talks to an Ollama-compatible /api/generate endpoint.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
}

// NewClient builds a client with a hard per-call timeout.
func NewClient(endpoint, model string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the HTTP client. Tests install a mock transport
// through here.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Repair asks the generation service for a replacement script given
// the failed version and its diagnostic bundle.
func (c *Client) Repair(ctx context.Context, prior models.ScriptVersion, bundle *models.DiagnosticBundle) (string, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(prior, bundle),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation service %d: %s", resp.StatusCode, string(body))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal generation response: %w", err)
	}

	return StripFences(parsed.Response), nil
}

// buildPrompt assembles the diagnostic prompt: the failing script, the
// error signal, and a bounded slice of the captured markup.
func buildPrompt(prior models.ScriptVersion, bundle *models.DiagnosticBundle) string {
	var b strings.Builder
	b.WriteString("The following extraction script stopped matching its target page.\n")
	b.WriteString("Produce a corrected script as a single JSON object with the same shape ")
	b.WriteString("(url_template, wait_for, list_selector, fields, link). Respond with JSON only.\n\n")

	fmt.Fprintf(&b, "Site: %s (version %d)\n", prior.Site, prior.Version)
	b.WriteString("Current script:\n")
	b.WriteString(prior.Body)
	b.WriteString("\n\n")

	if bundle != nil {
		if bundle.StatusCode != 0 {
			fmt.Fprintf(&b, "HTTP status: %d\n", bundle.StatusCode)
		}
		if bundle.ErrText != "" {
			fmt.Fprintf(&b, "Error: %s\n", bundle.ErrText)
		}
		if bundle.PageTitle != "" {
			fmt.Fprintf(&b, "Page title: %s\n", bundle.PageTitle)
		}
		if bundle.HTML != "" {
			snippet := bundle.HTML
			if len(snippet) > snapshotLimit {
				snippet = snippet[:snapshotLimit]
			}
			b.WriteString("Captured page markup:\n")
			b.WriteString(snippet)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// StripFences removes markdown code fences the model may wrap its
// output in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		// Drop a language tag like "json" on the opening fence.
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
