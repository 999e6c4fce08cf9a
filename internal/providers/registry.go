package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RegistryConfig is the provider wiring derived from application config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
}

// ProviderConfig configures a single named provider.
type ProviderConfig struct {
	Type           string // "openrouter" or "openai"
	Model          string
	EmbeddingModel string
	APIKey         string // already env-resolved
	RateLimit      float64
	MaxConcurrency int
	MaxRetries     int
	TimeoutSeconds int
	Enabled        bool

	BreakerThreshold int
	BreakerWindowSec int
	BreakerCooldown  int
}

// Registry holds configured provider clients with per-provider circuit
// breakers and concurrency limits. Reload swaps clients in place so
// long-running callers keep working across config changes.
type Registry struct {
	mu         sync.RWMutex
	llms       map[string]LLMClient
	embedders  map[string]EmbeddingClient
	breakers   map[string]*Breaker
	semaphores map[string]chan struct{}
	logger     *slog.Logger
}

// NewRegistry builds clients for every enabled provider in cfg.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		llms:       make(map[string]LLMClient),
		embedders:  make(map[string]EmbeddingClient),
		breakers:   make(map[string]*Breaker),
		semaphores: make(map[string]chan struct{}),
		logger:     logger,
	}
	if err := r.Reload(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the client set from cfg. Providers that disappear
// from config are dropped; in-flight calls on old clients complete.
func (r *Registry) Reload(cfg RegistryConfig) error {
	llms := make(map[string]LLMClient)
	embedders := make(map[string]EmbeddingClient)
	breakers := make(map[string]*Breaker)
	semaphores := make(map[string]chan struct{})

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		client, embedder, err := buildClient(name, pc, r.logger)
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		llms[name] = client
		if embedder != nil {
			embedders[name] = embedder
		}

		breakers[name] = NewBreaker(
			pc.BreakerThreshold,
			time.Duration(pc.BreakerWindowSec)*time.Second,
			time.Duration(pc.BreakerCooldown)*time.Second,
		)

		maxConc := pc.MaxConcurrency
		if maxConc <= 0 {
			maxConc = 4
		}
		semaphores[name] = make(chan struct{}, maxConc)
	}

	r.mu.Lock()
	r.llms = llms
	r.embedders = embedders
	r.breakers = breakers
	r.semaphores = semaphores
	r.mu.Unlock()

	r.logger.Info("provider registry loaded", "providers", len(llms), "embedders", len(embedders))
	return nil
}

// buildClient constructs the concrete client for a provider config.
func buildClient(name string, pc ProviderConfig, logger *slog.Logger) (LLMClient, EmbeddingClient, error) {
	rpm := int(pc.RateLimit * 60)

	switch pc.Type {
	case "openrouter":
		c := NewOpenRouterClient(name, pc.APIKey, pc.Model, rpm, pc.MaxRetries, pc.TimeoutSeconds, logger)
		return c, nil, nil
	case "openai":
		c := NewOpenAIClient(name, pc.APIKey, pc.Model, pc.EmbeddingModel, rpm, pc.MaxRetries, pc.TimeoutSeconds, logger)
		if pc.EmbeddingModel != "" {
			return c, c, nil
		}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// LLM returns the chat client for a provider name.
func (r *Registry) LLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.llms[name]
	if !ok {
		return nil, fmt.Errorf("no such provider: %s", name)
	}
	return c, nil
}

// Embedder returns the embedding client for a provider name.
func (r *Registry) Embedder(name string) (EmbeddingClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.embedders[name]
	if !ok {
		return nil, fmt.Errorf("provider %s does not support embeddings", name)
	}
	return c, nil
}

// Breaker returns the circuit breaker for a provider name, or nil if
// the provider is unknown.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Acquire takes a concurrency slot for the provider, blocking until one
// frees up or the context is cancelled. Callers must Release.
func (r *Registry) Acquire(ctx context.Context, name string) error {
	r.mu.RLock()
	sem, ok := r.semaphores[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no such provider: %s", name)
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a concurrency slot taken by Acquire.
func (r *Registry) Release(name string) {
	r.mu.RLock()
	sem, ok := r.semaphores[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case <-sem:
	default:
	}
}

// Names returns registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llms))
	for name := range r.llms {
		names = append(names, name)
	}
	return names
}

// ProviderStatus reports a provider's health for the ready endpoint.
type ProviderStatus struct {
	Name      string        `json:"name"`
	Model     string        `json:"model"`
	Available bool          `json:"available"`
	Breaker   BreakerStatus `json:"breaker"`
}

// Status returns a snapshot of every registered provider.
func (r *Registry) Status() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.llms))
	for name, c := range r.llms {
		st := ProviderStatus{
			Name:      name,
			Model:     c.Model(),
			Available: c.Available(),
		}
		if b := r.breakers[name]; b != nil {
			st.Breaker = b.Status()
		}
		out = append(out, st)
	}
	return out
}
