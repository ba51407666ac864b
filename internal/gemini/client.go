// Package gemini implements the answer fetcher: one single-turn
// generateContent call per submitted message.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"chatwithai-backend/internal/config"
	apierrors "chatwithai-backend/internal/errors"
	"chatwithai-backend/internal/model"
	"chatwithai-backend/pkg/logger"
)

const (
	// DefaultMIMEType is the tag used when an image type is unknown or legacy
	// tagging is enabled.
	DefaultMIMEType = "image/jpeg"

	// replyPath locates the first candidate's first text part.
	replyPath = "candidates.0.content.parts.0.text"

	maxResponseBytes = 8 << 20
	maxErrorBytes    = 4 << 10
)

// Client talks to the generative-language REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	legacyJPEG bool
}

// NewClient builds a client from configuration. The API key is captured once;
// an empty key is not rejected here.
func NewClient(cfg config.GeminiConfig) *Client {
	httpClient := newHTTPClient(cfg.Timeout)
	if cfg.DebugRequest {
		httpClient.Transport = newDebugTransport(httpClient.Transport)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		legacyJPEG: cfg.LegacyJPEGMIME,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Endpoint returns the generateContent URL without the key.
func (c *Client) Endpoint() string {
	return fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.model)
}

// HasAPIKey reports whether a key was configured.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// BuildRequest creates the request body: a text part first, then the image
// as inline data when present.
func BuildRequest(prompt model.Prompt, legacyJPEG bool) model.GenerateContentRequest {
	parts := []model.Part{{Text: prompt.Text}}

	if prompt.Image != nil && prompt.Image.Data != "" {
		mimeType := prompt.Image.MIMEType
		if legacyJPEG || mimeType == "" {
			mimeType = DefaultMIMEType
		}
		parts = append(parts, model.Part{
			InlineData: &model.InlineData{
				MIMEType: mimeType,
				Data:     prompt.Image.Data,
			},
		})
	}

	return model.GenerateContentRequest{
		Contents: []model.Content{{Parts: parts}},
	}
}

// ExtractReply returns the first candidate's first text part.
func ExtractReply(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", apierrors.NewParseError("response is not valid JSON")
	}

	text := gjson.GetBytes(body, replyPath)
	if !text.Exists() || text.Type != gjson.String || text.String() == "" {
		return "", apierrors.ErrNoContent
	}

	return text.String(), nil
}

// FetchAnswer issues one request and returns the reply text. It never retries.
func (c *Client) FetchAnswer(ctx context.Context, prompt model.Prompt) (string, error) {
	payload, err := json.Marshal(BuildRequest(prompt, c.legacyJPEG))
	if err != nil {
		return "", fmt.Errorf("failed to build payload: %w", err)
	}

	endpoint := c.Endpoint()
	reqURL := endpoint + "?" + url.Values{"key": {c.apiKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apierrors.NewNetworkError(endpoint, stripKey(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		apiErr := apierrors.NewAPIError(resp.StatusCode, endpoint, errorMessage(errorBody))
		apiErr.MissingKey = !c.HasAPIKey()
		return "", apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apierrors.NewNetworkError(endpoint, err)
	}

	logger.WithFields(map[string]interface{}{
		"model":    c.model,
		"status":   resp.StatusCode,
		"bytes":    len(body),
		"duration": time.Since(start).String(),
	}).Debug("generateContent completed")

	return ExtractReply(body)
}

// errorMessage pulls error.message out of a Google API error body.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	return strings.TrimSpace(string(body))
}

// stripKey removes the query string (and with it the key) from *url.Error.
func stripKey(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		redacted := *urlErr
		if idx := strings.Index(redacted.URL, "?"); idx >= 0 {
			redacted.URL = redacted.URL[:idx]
		}
		return &redacted
	}
	return err
}
