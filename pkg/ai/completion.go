package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultModelURL = "http://localhost:80/path/"

// Completer produces a reply for an assembled dialog prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client calls a conversational model endpoint that accepts a form-encoded
// prompt and answers with plain text.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for the given endpoint URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultModelURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete posts the prompt as the "input" form field and returns the
// model's text. Error statuses, empty bodies and HTML error pages from
// intermediate proxies are reported as errors.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	form := url.Values{}
	form.Set("input", prompt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("model api error: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	text := string(body)
	if text == "" {
		return "", fmt.Errorf("model returned empty response")
	}
	if strings.HasPrefix(text, "!DOCTYPE HTML") || strings.HasPrefix(text, "<!DOCTYPE HTML") {
		return "", fmt.Errorf("model returned an html error page")
	}
	return text, nil
}
