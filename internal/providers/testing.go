package providers

import (
	"log/slog"
	"testing"
	"time"
)

// MustTestRegistry builds a registry of OpenRouter clients pointing at
// stub servers, keyed by provider name. Breakers use a threshold of 2
// so tests can trip them quickly.
func MustTestRegistry(tb testing.TB, urls map[string]string) *Registry {
	tb.Helper()

	r := &Registry{
		llms:       make(map[string]LLMClient),
		embedders:  make(map[string]EmbeddingClient),
		breakers:   make(map[string]*Breaker),
		semaphores: make(map[string]chan struct{}),
		logger:     slog.Default(),
	}
	for name, url := range urls {
		r.llms[name] = NewOpenRouterClient(name, "test-key", "test/"+name, 6000, 1, 5, slog.Default(),
			WithOpenRouterBaseURL(url))
		r.breakers[name] = NewBreaker(2, time.Minute, time.Minute)
		r.semaphores[name] = make(chan struct{}, 4)
	}
	return r
}

// WithTestEmbedder registers an embedding client under name and
// returns the registry for chaining.
func (r *Registry) WithTestEmbedder(name string, e EmbeddingClient) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.embedders[name] = e
	if _, ok := r.breakers[name]; !ok {
		r.breakers[name] = NewBreaker(2, time.Minute, time.Minute)
	}
	if _, ok := r.semaphores[name]; !ok {
		r.semaphores[name] = make(chan struct{}, 4)
	}
	return r
}
