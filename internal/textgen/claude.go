// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/gap-engine/internal/httputil"
	"github.com/pdiddy/gap-engine/pkg/types"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test
// substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

const defaultTimeout = 90 * time.Second

// ClaudeBackend calls the Claude Messages API.
type ClaudeBackend struct {
	apiKey     string
	model      string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
}

// NewClaudeBackend builds a backend from AIConfig.
func NewClaudeBackend(cfg types.AIConfig) *ClaudeBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ClaudeBackend{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{},
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
	}
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Generate sends one prompt and returns the concatenated text blocks.
// Every call carries a timeout; rate limits and overload responses are
// retried with backoff before mapping onto the taxonomy.
func (c *ClaudeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := claudeRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := httputil.DoWithRetry(callCtx, c.client, req, c.maxRetries)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("after %v: %w", c.timeout, ErrTimeout)
		}
		return "", fmt.Errorf("calling Claude API: %w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyHTTPError(resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", fmt.Errorf("decoding Claude response: %w", err)
	}
	if cResp.StopReason == "refusal" {
		return "", ErrSafetyBlocked
	}

	var sb strings.Builder
	for _, block := range cResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty content: %w", ErrProviderUnavailable)
	}
	return sb.String(), nil
}

// classifyHTTPError maps a non-200 status onto the taxonomy. The raw
// provider body never travels past this package boundary unexplained;
// callers log the taxonomy label.
func classifyHTTPError(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("status %d: %w", status, ErrProviderUnavailable)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "safety"):
		return fmt.Errorf("status %d: %w", status, ErrSafetyBlocked)
	default:
		return fmt.Errorf("status %d: %w", status, ErrProviderUnavailable)
	}
}
