// Package gateway routes AI calls to configured providers by task tag,
// with ordered fallback, circuit breaking, and cost accounting. All
// synthesis components go through the gateway; none talk to a provider
// client directly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/types"
)

// Client is the provider-agnostic AI surface consumed by the pipeline.
type Client interface {
	GenerateText(ctx context.Context, task types.TaskTag, req *TextRequest) (*TextResult, error)
	GenerateStructured(ctx context.Context, task types.TaskTag, req *StructuredRequest) (*StructuredResult, error)
	GenerateEmbedding(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResult, error)
	AnalyzeImage(ctx context.Context, req *ImageRequest) (*TextResult, error)
}

// CallMeta attributes a call to pipeline work for metrics and audit.
type CallMeta struct {
	DocumentID string
	Stage      string
	Operation  string
}

// TextRequest is a free-form generation request.
type TextRequest struct {
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int

	// WebSearch asks for provider-side web grounding. Only honored by
	// providers that support it; others answer from model knowledge.
	WebSearch bool

	Meta CallMeta
}

// StructuredRequest is a schema-constrained generation request.
type StructuredRequest struct {
	System      string
	Prompt      string
	SchemaName  string
	Schema      map[string]any
	Temperature *float64
	MaxTokens   int

	Meta CallMeta
}

// EmbeddingRequest embeds a batch of texts.
type EmbeddingRequest struct {
	Texts []string
	Meta  CallMeta
}

// ImageRequest analyzes an image with an instruction.
type ImageRequest struct {
	Prompt   string
	Base64   string
	MimeType string

	Meta CallMeta
}

// TextResult is the outcome of a text or image call.
type TextResult struct {
	Content   string
	Citations []string
	Provider  string
	Model     string
	Usage     providers.Usage
	CostUSD   float64
	Duration  time.Duration
}

// StructuredResult carries validated JSON output.
type StructuredResult struct {
	Data     json.RawMessage
	Provider string
	Model    string
	Usage    providers.Usage
	CostUSD  float64
	Duration time.Duration
}

// EmbeddingResult carries one vector per input text.
type EmbeddingResult struct {
	Embeddings [][]float32
	Provider   string
	Model      string
	Usage      providers.Usage
	CostUSD    float64
	Duration   time.Duration
}

// Rate is per-model pricing in USD per 1000 tokens.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Config is the gateway's routing table and price list.
type Config struct {
	// Routing maps a task tag to an ordered provider fallback chain.
	Routing map[string][]string

	// Rates maps model name to pricing, used when the provider does not
	// report cost itself.
	Rates map[string]Rate
}

// Record is one completed (or failed) provider call, for audit.
type Record struct {
	Provider         string
	Model            string
	Task             types.TaskTag
	Operation        string
	DocumentID       string
	Stage            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	DurationMS       int64
	Response         string
	Success          bool
	Error            string
}

// Recorder receives a Record for every provider call the gateway makes.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// MultiRecorder fans a record out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, rec Record) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, rec)
		}
	}
}

// Gateway implements Client over a provider registry.
type Gateway struct {
	registry *providers.Registry
	logger   *slog.Logger
	recorder Recorder

	mu     sync.RWMutex
	config Config
}

// New creates a gateway. recorder may be nil.
func New(registry *providers.Registry, cfg Config, recorder Recorder, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		config:   cfg,
		recorder: recorder,
		logger:   logger,
	}
}

// UpdateConfig swaps the routing table and price list. Called on config
// hot-reload.
func (g *Gateway) UpdateConfig(cfg Config) {
	g.mu.Lock()
	g.config = cfg
	g.mu.Unlock()
}

// chain returns the fallback chain for a task tag.
func (g *Gateway) chain(task types.TaskTag) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config.Routing[string(task)]
}

// GenerateText runs a free-form generation call through the task's
// fallback chain.
func (g *Gateway) GenerateText(ctx context.Context, task types.TaskTag, req *TextRequest) (*TextResult, error) {
	chatReq := &providers.ChatRequest{
		Messages:    buildMessages(req.System, req.Prompt, nil),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		WebSearch:   req.WebSearch,
	}

	var result *TextResult
	err := g.callChain(ctx, task, req.Meta, func(ctx context.Context, client providers.LLMClient) (providers.Usage, string, error) {
		start := time.Now()
		res, err := client.Chat(ctx, chatReq)
		if err != nil {
			return providers.Usage{}, "", err
		}
		result = g.textResult(client, res, time.Since(start))
		return res.Usage, res.Content, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateStructured runs a schema-constrained call with local
// validation and repair through the task's fallback chain.
func (g *Gateway) GenerateStructured(ctx context.Context, task types.TaskTag, req *StructuredRequest) (*StructuredResult, error) {
	chatReq := &providers.ChatRequest{
		Messages:    buildMessages(req.System, req.Prompt, nil),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &providers.ResponseFormat{
			Name:   req.SchemaName,
			Schema: req.Schema,
			Strict: true,
		},
	}

	var result *StructuredResult
	sawSchemaViolation := false
	err := g.callChain(ctx, task, req.Meta, func(ctx context.Context, client providers.LLMClient) (providers.Usage, string, error) {
		start := time.Now()
		parsed, res, err := providers.ChatStructured(ctx, client, chatReq)
		if err != nil {
			if res != nil {
				// The provider answered but could not satisfy the schema.
				sawSchemaViolation = true
				return res.Usage, res.Content, err
			}
			return providers.Usage{}, "", err
		}
		result = &StructuredResult{
			Data:     parsed,
			Provider: client.Name(),
			Model:    client.Model(),
			Usage:    res.Usage,
			CostUSD:  g.cost(client.Model(), res.Usage),
			Duration: time.Since(start),
		}
		return res.Usage, string(parsed), nil
	})
	if err != nil {
		if sawSchemaViolation {
			return nil, fmt.Errorf("%w: %v", types.ErrProviderSchemaViolation, err)
		}
		return nil, err
	}
	return result, nil
}

// GenerateEmbedding embeds texts via the embedding task chain.
func (g *Gateway) GenerateEmbedding(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResult, error) {
	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", types.ErrInvalidInput)
	}

	chain := g.chain(types.TaskEmbedding)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no providers routed for task %s", types.ErrProviderUnavailable, types.TaskEmbedding)
	}

	var lastErr error
	for _, name := range chain {
		embedder, err := g.registry.Embedder(name)
		if err != nil {
			lastErr = err
			continue
		}

		breaker := g.registry.Breaker(name)
		if breaker != nil && !breaker.Allow() {
			lastErr = fmt.Errorf("provider %s circuit open", name)
			continue
		}
		if err := g.registry.Acquire(ctx, name); err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := embedder.Embed(ctx, req.Texts)
		g.registry.Release(name)

		g.record(ctx, name, modelOf(res), types.TaskEmbedding, req.Meta, usageOf(res), "", time.Since(start), err)
		if err != nil {
			if breaker != nil {
				breaker.RecordFailure()
			}
			lastErr = err
			g.logger.Warn("embedding provider failed, trying next", "provider", name, "error", err)
			continue
		}
		if breaker != nil {
			breaker.RecordSuccess()
		}

		return &EmbeddingResult{
			Embeddings: res.Embeddings,
			Provider:   name,
			Model:      res.Model,
			Usage:      res.Usage,
			CostUSD:    g.cost(res.Model, res.Usage),
			Duration:   time.Since(start),
		}, nil
	}

	return nil, fmt.Errorf("%w: embedding chain exhausted: %v", types.ErrProviderUnavailable, lastErr)
}

// AnalyzeImage runs a vision call through the vision task chain.
func (g *Gateway) AnalyzeImage(ctx context.Context, req *ImageRequest) (*TextResult, error) {
	if req.Base64 == "" {
		return nil, fmt.Errorf("%w: image payload required", types.ErrInvalidInput)
	}

	chatReq := &providers.ChatRequest{
		Messages: buildMessages("", req.Prompt, []providers.ImageData{{Base64: req.Base64, MimeType: req.MimeType}}),
	}

	var result *TextResult
	err := g.callChain(ctx, types.TaskVision, req.Meta, func(ctx context.Context, client providers.LLMClient) (providers.Usage, string, error) {
		if vc, ok := client.(providers.VisionCapable); !ok || !vc.SupportsVision() {
			return providers.Usage{}, "", fmt.Errorf("provider %s does not support vision", client.Name())
		}
		start := time.Now()
		res, err := client.Chat(ctx, chatReq)
		if err != nil {
			return providers.Usage{}, "", err
		}
		result = g.textResult(client, res, time.Since(start))
		return res.Usage, res.Content, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// callChain walks the task's fallback chain, applying breaker and
// concurrency gates around fn. fn returns usage and the response text
// for audit records.
func (g *Gateway) callChain(ctx context.Context, task types.TaskTag, meta CallMeta, fn func(context.Context, providers.LLMClient) (providers.Usage, string, error)) error {
	chain := g.chain(task)
	if len(chain) == 0 {
		return fmt.Errorf("%w: no providers routed for task %s", types.ErrProviderUnavailable, task)
	}

	var lastErr error
	for _, name := range chain {
		client, err := g.registry.LLM(name)
		if err != nil {
			lastErr = err
			continue
		}
		if !client.Available() {
			lastErr = fmt.Errorf("provider %s not available", name)
			continue
		}

		breaker := g.registry.Breaker(name)
		if breaker != nil && !breaker.Allow() {
			lastErr = fmt.Errorf("provider %s circuit open", name)
			g.logger.Warn("skipping provider with open circuit", "provider", name, "task", task)
			continue
		}

		if err := g.registry.Acquire(ctx, name); err != nil {
			return err
		}

		start := time.Now()
		usage, response, err := fn(ctx, client)
		g.registry.Release(name)
		g.record(ctx, name, client.Model(), task, meta, usage, response, time.Since(start), err)

		if err != nil {
			if breaker != nil {
				breaker.RecordFailure()
			}
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			g.logger.Warn("provider call failed, trying next in chain",
				"provider", name, "task", task, "error", err)
			continue
		}

		if breaker != nil {
			breaker.RecordSuccess()
		}
		return nil
	}

	return fmt.Errorf("%w: fallback chain exhausted for task %s: %v", types.ErrProviderUnavailable, task, lastErr)
}

// textResult assembles a TextResult and records the call.
func (g *Gateway) textResult(client providers.LLMClient, res *providers.ChatResult, dur time.Duration) *TextResult {
	return &TextResult{
		Content:   res.Content,
		Citations: res.Citations,
		Provider:  client.Name(),
		Model:     client.Model(),
		Usage:     res.Usage,
		CostUSD:   g.cost(client.Model(), res.Usage),
		Duration:  dur,
	}
}

// cost returns provider-reported cost when present, else computes from
// the configured price list.
func (g *Gateway) cost(model string, usage providers.Usage) float64 {
	if usage.CostUSD > 0 {
		return usage.CostUSD
	}

	g.mu.RLock()
	rate, ok := g.config.Rates[model]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000.0*rate.InputPer1K +
		float64(usage.CompletionTokens)/1000.0*rate.OutputPer1K
}

// record sends an audit record if a recorder is attached. Successful
// calls report usage through their result paths; here we also capture
// failures so the audit trail shows what was attempted.
func (g *Gateway) record(ctx context.Context, provider, model string, task types.TaskTag, meta CallMeta, usage providers.Usage, response string, dur time.Duration, callErr error) {
	if g.recorder == nil {
		return
	}
	rec := Record{
		Provider:         provider,
		Model:            model,
		Task:             task,
		Operation:        meta.Operation,
		DocumentID:       meta.DocumentID,
		Stage:            meta.Stage,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          g.cost(model, usage),
		DurationMS:       dur.Milliseconds(),
		Response:         response,
		Success:          callErr == nil,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	g.recorder.Record(ctx, rec)
}

// buildMessages assembles the standard system+user message pair.
func buildMessages(system, prompt string, images []providers.ImageData) []providers.Message {
	msgs := make([]providers.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: prompt, Images: images})
	return msgs
}

func modelOf(res *providers.EmbeddingResult) string {
	if res == nil {
		return ""
	}
	return res.Model
}

func usageOf(res *providers.EmbeddingResult) providers.Usage {
	if res == nil {
		return providers.Usage{}
	}
	return res.Usage
}

// IsUnavailable reports whether err means every routed provider failed.
func IsUnavailable(err error) bool {
	return errors.Is(err, types.ErrProviderUnavailable)
}

var _ Client = (*Gateway)(nil)
