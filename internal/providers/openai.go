package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIClient wraps the official SDK for chat completions and
// embeddings. It is the only provider type that serves the embedding
// task tag.
type OpenAIClient struct {
	name           string
	model          string
	embeddingModel string
	apiKey         string
	limiter        *RateLimiter
	client         openai.Client
	logger         *slog.Logger
}

// NewOpenAIClient creates a client for the configured chat and
// embedding models.
func NewOpenAIClient(name, apiKey, model, embeddingModel string, rateLimit, maxRetries, timeoutSeconds int, logger *slog.Logger, extraOpts ...option.RequestOption) *OpenAIClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	opts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}),
		option.WithMaxRetries(maxRetries),
	}, extraOpts...)

	return &OpenAIClient{
		name:           name,
		model:          model,
		embeddingModel: embeddingModel,
		apiKey:         apiKey,
		limiter:        NewRateLimiter(rateLimit),
		client:         openai.NewClient(opts...),
		logger:         logger.With("provider", name, "model", model),
	}
}

// Name returns the registry key for this client.
func (c *OpenAIClient) Name() string { return c.name }

// Model returns the configured chat model.
func (c *OpenAIClient) Model() string { return c.model }

// Available reports whether the client has credentials.
func (c *OpenAIClient) Available() bool { return c.apiKey != "" }

// SupportsVision reports image input support.
func (c *OpenAIClient) SupportsVision() bool { return true }

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat request requires at least one message")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertOpenAIMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.ResponseFormat.Name,
					Strict: openai.Bool(req.ResponseFormat.Strict),
					Schema: req.ResponseFormat.Schema,
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	choice := resp.Choices[0]
	return &ChatResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Embed returns one embedding per input text, in input order.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) (*EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding request requires at least one text")
	}
	if c.embeddingModel == "" {
		return nil, fmt.Errorf("provider %s has no embedding model configured", c.name)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		embeddings[d.Index] = vec
	}

	return &EmbeddingResult{
		Embeddings: embeddings,
		Model:      c.embeddingModel,
		Usage: Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// convertOpenAIMessages maps messages to SDK params. Images become
// multipart user content.
func convertOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case len(m.Images) > 0:
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, openai.TextContentPart(m.Content))
			}
			for _, img := range m.Images {
				mime := img.MimeType
				if mime == "" {
					mime = "image/png"
				}
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: fmt.Sprintf("data:%s;base64,%s", mime, img.Base64),
				}))
			}
			out = append(out, openai.UserMessage(parts))
		case m.Role == "system":
			out = append(out, openai.SystemMessage(m.Content))
		case m.Role == "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
