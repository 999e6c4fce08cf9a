package config

import "time"

// Config holds folio configuration.
// Loaded from {cwd}/config.yaml or ~/.folio/config.yaml, overridable
// via FOLIO_* environment variables.
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Routing      map[string][]string       `mapstructure:"routing" yaml:"routing"`
	Models       map[string]ModelRates     `mapstructure:"models" yaml:"models"`
	Synthesis    SynthesisCfg              `mapstructure:"synthesis" yaml:"synthesis"`
	External     ExternalCfg               `mapstructure:"external" yaml:"external"`
	Defra        DefraConfig               `mapstructure:"defra" yaml:"defra"`
}

// LLMProviderCfg configures an AI provider.
type LLMProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`   // "openrouter", "openai"
	Model          string  `mapstructure:"model" yaml:"model"` // Default model name
	EmbeddingModel string  `mapstructure:"embedding_model" yaml:"embedding_model,omitempty"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`       // Supports ${ENV_VAR} syntax
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	MaxConcurrency int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`

	// Circuit breaker tuning.
	BreakerThreshold int `mapstructure:"breaker_threshold" yaml:"breaker_threshold"` // failures to open
	BreakerWindowSec int `mapstructure:"breaker_window_seconds" yaml:"breaker_window_seconds"`
	BreakerCooldown  int `mapstructure:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

// ModelRates holds per-model pricing in USD per 1000 tokens.
type ModelRates struct {
	InputPer1K  float64 `mapstructure:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k" yaml:"output_per_1k"`
}

// SynthesisCfg holds the orchestrator's tunables.
type SynthesisCfg struct {
	ParallelSectionGeneration  bool    `mapstructure:"parallel_section_generation" yaml:"parallel_section_generation"`
	SectionGenerationBatchSize int     `mapstructure:"section_generation_batch_size" yaml:"section_generation_batch_size"`
	EmbeddingDimensionality    int     `mapstructure:"embedding_dimensionality" yaml:"embedding_dimensionality"`
	DedupStrategy              string  `mapstructure:"dedup_strategy" yaml:"dedup_strategy"` // exact|fuzzy|semantic
	DedupThreshold             float64 `mapstructure:"dedup_threshold" yaml:"dedup_threshold"`
	AIRelevanceFilterEnabled   bool    `mapstructure:"ai_relevance_filter_enabled" yaml:"ai_relevance_filter_enabled"`
	AIRelevanceThreshold       float64 `mapstructure:"ai_relevance_threshold" yaml:"ai_relevance_threshold"`
	ExternalResearchStrategy   string  `mapstructure:"external_research_strategy" yaml:"external_research_strategy"` // evidence_only|ai_only|hybrid
	ExternalResearchParallel   bool    `mapstructure:"external_research_parallel" yaml:"external_research_parallel"`
	AutoGapAnalysisEnabled     bool    `mapstructure:"auto_gap_analysis_enabled" yaml:"auto_gap_analysis_enabled"`
	HaltOnCriticalGaps         bool    `mapstructure:"halt_on_critical_gaps" yaml:"halt_on_critical_gaps"`
	InternalQueryParallelism   int     `mapstructure:"internal_query_parallelism" yaml:"internal_query_parallelism"`
}

// ExternalCfg configures external literature retrieval.
type ExternalCfg struct {
	PubMedBaseURL   string `mapstructure:"pubmed_base_url" yaml:"pubmed_base_url"`
	MaxResults      int    `mapstructure:"max_results" yaml:"max_results"`        // top M PMIDs per query
	RecencyYears    int    `mapstructure:"recency_years" yaml:"recency_years"`    // last N years filter
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
}

// CacheTTL returns the external query cache TTL.
func (e ExternalCfg) CacheTTL() time.Duration {
	if e.CacheTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(e.CacheTTLMinutes) * time.Minute
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name (default: folio-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}
