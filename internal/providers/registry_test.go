package providers

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Providers: map[string]ProviderConfig{
			"openrouter": {
				Type:           "openrouter",
				Model:          "anthropic/claude-sonnet-4.5",
				APIKey:         "key-1",
				RateLimit:      5,
				MaxConcurrency: 2,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o-mini",
				EmbeddingModel: "text-embedding-3-small",
				APIKey:         "key-2",
				RateLimit:      10,
				Enabled:        true,
			},
			"disabled": {
				Type:    "openrouter",
				Model:   "x",
				Enabled: false,
			},
		},
	}
}

func TestRegistryBuildsEnabledProviders(t *testing.T) {
	r, err := NewRegistry(testRegistryConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if len(r.Names()) != 2 {
		t.Errorf("providers = %d, want 2 (disabled excluded)", len(r.Names()))
	}

	llm, err := r.LLM("openrouter")
	if err != nil {
		t.Fatalf("LLM(openrouter) error = %v", err)
	}
	if llm.Model() != "anthropic/claude-sonnet-4.5" {
		t.Errorf("model = %s", llm.Model())
	}

	if _, err := r.LLM("disabled"); err == nil {
		t.Error("disabled provider should not be registered")
	}
	if _, err := r.LLM("nope"); err == nil {
		t.Error("unknown provider should error")
	}
}

func TestRegistryEmbedders(t *testing.T) {
	r, err := NewRegistry(testRegistryConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if _, err := r.Embedder("openai"); err != nil {
		t.Errorf("Embedder(openai) error = %v", err)
	}
	// OpenRouter providers have no embedding model.
	if _, err := r.Embedder("openrouter"); err == nil {
		t.Error("openrouter should not serve embeddings")
	}
}

func TestRegistryUnknownType(t *testing.T) {
	cfg := RegistryConfig{Providers: map[string]ProviderConfig{
		"bad": {Type: "mystery", Enabled: true},
	}}
	if _, err := NewRegistry(cfg, slog.Default()); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestRegistryConcurrencyLimit(t *testing.T) {
	r, err := NewRegistry(testRegistryConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	ctx := context.Background()
	if err := r.Acquire(ctx, "openrouter"); err != nil {
		t.Fatal(err)
	}
	if err := r.Acquire(ctx, "openrouter"); err != nil {
		t.Fatal(err)
	}

	// Third slot blocks until release or context deadline.
	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := r.Acquire(ctx2, "openrouter"); err == nil {
		t.Error("expected acquire to block at max concurrency")
	}

	r.Release("openrouter")
	if err := r.Acquire(ctx, "openrouter"); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestRegistryReload(t *testing.T) {
	r, err := NewRegistry(testRegistryConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	cfg := testRegistryConfig()
	cfg.Providers["openrouter"] = ProviderConfig{
		Type:    "openrouter",
		Model:   "anthropic/claude-opus-4.1",
		APIKey:  "key-1",
		Enabled: true,
	}
	delete(cfg.Providers, "openai")

	if err := r.Reload(cfg); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	llm, err := r.LLM("openrouter")
	if err != nil {
		t.Fatal(err)
	}
	if llm.Model() != "anthropic/claude-opus-4.1" {
		t.Errorf("model after reload = %s", llm.Model())
	}
	if _, err := r.LLM("openai"); err == nil {
		t.Error("removed provider still registered after reload")
	}
}

func TestRegistryStatus(t *testing.T) {
	r, err := NewRegistry(testRegistryConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	statuses := r.Status()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	for _, st := range statuses {
		if !st.Available {
			t.Errorf("provider %s should be available (has key)", st.Name)
		}
		if st.Breaker.State != BreakerClosed {
			t.Errorf("provider %s breaker = %s, want closed", st.Name, st.Breaker.State)
		}
	}
}
