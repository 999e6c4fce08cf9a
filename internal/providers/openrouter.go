package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	defaultMaxRetries     = 3
	defaultTimeoutSeconds = 120
)

// OpenRouterClient talks to the OpenRouter chat completions API over
// raw HTTP. It handles rate limiting, retries with jitter, and nonce
// injection to defeat upstream prompt caches on retry.
type OpenRouterClient struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	maxRetries int
	limiter    *RateLimiter
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenRouterOption configures an OpenRouterClient.
type OpenRouterOption func(*OpenRouterClient)

// WithOpenRouterBaseURL overrides the API base URL (tests).
func WithOpenRouterBaseURL(url string) OpenRouterOption {
	return func(c *OpenRouterClient) { c.baseURL = url }
}

// WithOpenRouterHTTPClient overrides the HTTP client (tests).
func WithOpenRouterHTTPClient(hc *http.Client) OpenRouterOption {
	return func(c *OpenRouterClient) { c.httpClient = hc }
}

// NewOpenRouterClient creates a client for a single configured model.
func NewOpenRouterClient(name, apiKey, model string, rateLimit, maxRetries, timeoutSeconds int, logger *slog.Logger, opts ...OpenRouterOption) *OpenRouterClient {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}
	c := &OpenRouterClient{
		name:       name,
		apiKey:     apiKey,
		model:      model,
		baseURL:    openRouterBaseURL,
		maxRetries: maxRetries,
		limiter:    NewRateLimiter(rateLimit),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		logger:     logger.With("provider", name, "model", model),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the registry key for this client.
func (c *OpenRouterClient) Name() string { return c.name }

// Model returns the configured model identifier.
func (c *OpenRouterClient) Model() string { return c.model }

// Available reports whether the client has credentials.
func (c *OpenRouterClient) Available() bool { return c.apiKey != "" }

// SupportsVision reports image input support. OpenRouter routes
// multimodal content to the underlying model, so this is model-gated
// at request time rather than here.
func (c *OpenRouterClient) SupportsVision() bool { return true }

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat request requires at least one message")
	}

	orReq := c.buildRequest(req)

	resp, err := c.doRequest(ctx, orReq)
	if err != nil {
		return nil, err
	}

	return parseResponse(resp)
}

// buildRequest converts the provider-agnostic request to the wire format.
func (c *OpenRouterClient) buildRequest(req *ChatRequest) *openRouterRequest {
	model := c.model
	if req.WebSearch {
		// The :online suffix attaches OpenRouter's web search plugin.
		model += ":online"
	}

	orReq := &openRouterRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Usage:    &openRouterUsageRequest{Include: true},
	}
	if req.Temperature != nil {
		orReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		orReq.MaxTokens = req.MaxTokens
	}
	if req.ResponseFormat != nil {
		orReq.ResponseFormat = &openRouterResponseFormat{
			Type: "json_schema",
			JSONSchema: &openRouterJSONSchema{
				Name:   req.ResponseFormat.Name,
				Strict: req.ResponseFormat.Strict,
				Schema: sanitizeSchemaForModel(c.model, req.ResponseFormat.Schema),
			},
		}
	}
	return orReq
}

// convertMessages maps messages to the wire format. Messages with
// images become multipart content blocks.
func convertMessages(msgs []Message) []openRouterMessage {
	out := make([]openRouterMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Images) == 0 {
			out = append(out, openRouterMessage{Role: m.Role, Content: m.Content})
			continue
		}

		parts := make([]openRouterContentPart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, openRouterContentPart{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			mime := img.MimeType
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, openRouterContentPart{
				Type: "image_url",
				ImageURL: &openRouterImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", mime, img.Base64),
				},
			})
		}
		out = append(out, openRouterMessage{Role: m.Role, MultiContent: parts})
	}
	return out
}

// doRequest executes the request with rate limiting and retries.
func (c *OpenRouterClient) doRequest(ctx context.Context, orReq *openRouterRequest) (*openRouterResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"error", lastErr)
			// A fresh nonce prevents upstream caches from replaying the
			// failed response.
			injectNonce(orReq)
			if err := sleepWithJitter(ctx, attempt); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, status, err := c.sendOnce(ctx, orReq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if status == http.StatusOK {
			if resp.Error != nil {
				lastErr = fmt.Errorf("openrouter error %d: %s", resp.Error.Code, resp.Error.Message)
				if !shouldRetryCode(resp.Error.Code) {
					return nil, lastErr
				}
				continue
			}
			return resp, nil
		}

		lastErr = fmt.Errorf("openrouter returned status %d", status)
		if status == http.StatusTooManyRequests {
			c.limiter.Record429(time.Second)
		}
		if !shouldRetryCode(status) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// sendOnce performs a single HTTP round trip.
func (c *OpenRouterClient) sendOnce(ctx context.Context, orReq *openRouterRequest) (*openRouterResponse, int, error) {
	body, err := json.Marshal(orReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Title", "Folio")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode, nil
	}

	var resp openRouterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, httpResp.StatusCode, nil
}

// parseResponse extracts the result from the wire response.
func parseResponse(resp *openRouterResponse) (*ChatResult, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}
	choice := resp.Choices[0]

	result := &ChatResult{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, ann := range choice.Message.Annotations {
		if ann.Type == "url_citation" && ann.URLCitation != nil {
			result.Citations = append(result.Citations, ann.URLCitation.URL)
		}
	}
	if resp.Usage != nil {
		result.Usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			CostUSD:          resp.Usage.Cost,
		}
	}
	return result, nil
}

// shouldRetryCode reports whether a status or error code is transient.
// 413/422 are retried because some upstreams return them for cached
// oversized contexts that succeed with a nonce.
func shouldRetryCode(code int) bool {
	switch code {
	case http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity,
		http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// injectNonce appends a unique marker to the last user message.
func injectNonce(orReq *openRouterRequest) {
	nonce := "\n\n[request-id: " + uuid.NewString() + "]"
	for i := len(orReq.Messages) - 1; i >= 0; i-- {
		if orReq.Messages[i].Role != "user" {
			continue
		}
		if orReq.Messages[i].Content != "" {
			orReq.Messages[i].Content = stripNonce(orReq.Messages[i].Content) + nonce
			return
		}
		for j := len(orReq.Messages[i].MultiContent) - 1; j >= 0; j-- {
			part := &orReq.Messages[i].MultiContent[j]
			if part.Type == "text" {
				part.Text = stripNonce(part.Text) + nonce
				return
			}
		}
	}
}

// stripNonce removes a previously injected nonce so retries don't stack.
func stripNonce(s string) string {
	if idx := strings.LastIndex(s, "\n\n[request-id: "); idx >= 0 {
		return s[:idx]
	}
	return s
}

// sleepWithJitter backs off exponentially with up to 50% random jitter.
func sleepWithJitter(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}
