// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/embedding"
	"github.com/jackzampolin/folio/internal/events"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ingest"
	"github.com/jackzampolin/folio/internal/llmcall"
	"github.com/jackzampolin/folio/internal/metrics"
	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/synthesis"
	"github.com/jackzampolin/folio/internal/tasks"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	DefraClient  *defra.Client
	DefraSink    *defra.Sink
	Gateway      gateway.Client
	Registry     *providers.Registry
	Runner       *tasks.Runner
	TaskStore    *tasks.Store
	Documents    *synthesis.DocumentStore
	Orchestrator *synthesis.Orchestrator
	Chapters     *embedding.Store
	Processor    *ingest.Processor
	Hub          *events.Hub
	ConfigStore  config.Store
	Logger       *slog.Logger
	Home         *home.Dir
	MetricsQuery *metrics.Query
	LLMCallStore *llmcall.Store
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// DefraClientFrom extracts the DefraDB client from context.
func DefraClientFrom(ctx context.Context) *defra.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.DefraClient
	}
	return nil
}

// DefraSinkFrom extracts the DefraDB write sink from context.
func DefraSinkFrom(ctx context.Context) *defra.Sink {
	if s := ServicesFrom(ctx); s != nil {
		return s.DefraSink
	}
	return nil
}

// GatewayFrom extracts the AI gateway from context.
func GatewayFrom(ctx context.Context) gateway.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.Gateway
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// RunnerFrom extracts the task runner from context.
func RunnerFrom(ctx context.Context) *tasks.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// TaskStoreFrom extracts the task store from context.
func TaskStoreFrom(ctx context.Context) *tasks.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.TaskStore
	}
	return nil
}

// DocumentsFrom extracts the document store from context.
func DocumentsFrom(ctx context.Context) *synthesis.DocumentStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.Documents
	}
	return nil
}

// OrchestratorFrom extracts the synthesis orchestrator from context.
func OrchestratorFrom(ctx context.Context) *synthesis.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// ChaptersFrom extracts the chapter store from context.
func ChaptersFrom(ctx context.Context) *embedding.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Chapters
	}
	return nil
}

// ProcessorFrom extracts the ingest processor from context.
func ProcessorFrom(ctx context.Context) *ingest.Processor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Processor
	}
	return nil
}

// HubFrom extracts the event hub from context.
func HubFrom(ctx context.Context) *events.Hub {
	if s := ServicesFrom(ctx); s != nil {
		return s.Hub
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// ConfigStoreFrom extracts the config store from context.
func ConfigStoreFrom(ctx context.Context) config.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigStore
	}
	return nil
}

// MetricsQueryFrom extracts the metrics query helper from context.
func MetricsQueryFrom(ctx context.Context) *metrics.Query {
	if s := ServicesFrom(ctx); s != nil {
		return s.MetricsQuery
	}
	return nil
}

// LLMCallStoreFrom extracts the LLM call store from context.
func LLMCallStoreFrom(ctx context.Context) *llmcall.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.LLMCallStore
	}
	return nil
}
