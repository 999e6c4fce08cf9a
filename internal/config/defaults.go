package config

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:             "openrouter",
				Model:            "anthropic/claude-sonnet-4.5",
				APIKey:           "${OPENROUTER_API_KEY}",
				RateLimit:        2.5,
				MaxConcurrency:   30,
				TimeoutSeconds:   120,
				MaxRetries:       3,
				Enabled:          true,
				BreakerThreshold: 5,
				BreakerWindowSec: 60,
				BreakerCooldown:  30,
			},
			"openai": {
				Type:             "openai",
				Model:            "gpt-4o-mini",
				EmbeddingModel:   "text-embedding-3-small",
				APIKey:           "${OPENAI_API_KEY}",
				RateLimit:        5.0,
				MaxConcurrency:   30,
				TimeoutSeconds:   120,
				MaxRetries:       3,
				Enabled:          true,
				BreakerThreshold: 5,
				BreakerWindowSec: 60,
				BreakerCooldown:  30,
			},
		},
		// Task tag -> ordered provider fallback chains.
		Routing: map[string][]string{
			"content_drafting":    {"openai", "openrouter"},
			"fact_verification":   {"openrouter", "openai"},
			"metadata_extraction": {"openrouter", "openai"},
			"source_relevance":    {"openrouter", "openai"},
			"summarization":       {"openai", "openrouter"},
			"vision":              {"openrouter", "openai"},
			"embedding":           {"openai"},
		},
		Models: map[string]ModelRates{
			"anthropic/claude-sonnet-4.5": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"gpt-4o-mini":                 {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"text-embedding-3-small":      {InputPer1K: 0.00002, OutputPer1K: 0},
		},
		Synthesis: SynthesisCfg{
			ParallelSectionGeneration:  true,
			SectionGenerationBatchSize: 5,
			EmbeddingDimensionality:    1536,
			DedupStrategy:              "fuzzy",
			DedupThreshold:             0.85,
			AIRelevanceFilterEnabled:   true,
			AIRelevanceThreshold:       0.75,
			ExternalResearchStrategy:   "hybrid",
			ExternalResearchParallel:   true,
			AutoGapAnalysisEnabled:     true,
			HaltOnCriticalGaps:         false,
			InternalQueryParallelism:   5,
		},
		External: ExternalCfg{
			PubMedBaseURL:   "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			MaxResults:      10,
			RecencyYears:    10,
			CacheTTLMinutes: 24 * 60,
		},
		Defra: DefraConfig{},
	}
}
