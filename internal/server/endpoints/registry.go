package endpoints

import (
	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DefraManager    *defra.DockerManager
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},

		// Document endpoints
		&CreateDocumentEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&DocumentMarkdownEndpoint{},
		&RegenerateDocumentEndpoint{},

		// Book endpoints
		&IngestEndpoint{},
		&UploadIngestEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&BookChaptersEndpoint{},

		// Task endpoints
		&ListTasksEndpoint{},
		&GetTaskEndpoint{},
		&CancelTaskEndpoint{},

		// Event stream
		&EventsEndpoint{},

		// Provider endpoints
		&ListProvidersEndpoint{},

		// Metrics endpoints
		&MetricsListEndpoint{},
		&MetricsCostEndpoint{},
		&MetricsSummaryEndpoint{},
		&DocumentMetricsEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},

		// Model call history endpoints
		&ListCallsEndpoint{},
		&GetCallEndpoint{},
		&CallCountsEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},

		// Static files (catch-all, must be last)
		&StaticEndpoint{},
	}
}

// DocumentCommands groups document commands under the "documents"
// subcommand.
func DocumentCommands() []api.Endpoint {
	return []api.Endpoint{
		&CreateDocumentEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&DocumentMarkdownEndpoint{},
		&RegenerateDocumentEndpoint{},
	}
}

// BookCommands groups book commands under the "books" subcommand.
func BookCommands() []api.Endpoint {
	return []api.Endpoint{
		&IngestEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&BookChaptersEndpoint{},
	}
}

// TaskCommands groups task commands under the "tasks" subcommand.
func TaskCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListTasksEndpoint{},
		&GetTaskEndpoint{},
		&CancelTaskEndpoint{},
	}
}

// MetricsCommands groups metrics commands under the "metrics"
// subcommand.
func MetricsCommands() []api.Endpoint {
	return []api.Endpoint{
		&MetricsListEndpoint{},
		&MetricsCostEndpoint{},
		&MetricsSummaryEndpoint{},
		&DocumentMetricsEndpoint{},
	}
}

// SettingsCommands groups settings commands under the "settings"
// subcommand.
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},
	}
}

// LLMCallCommands groups model call history commands under the
// "llmcalls" subcommand.
func LLMCallCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListCallsEndpoint{},
		&GetCallEndpoint{},
		&CallCountsEndpoint{},
	}
}
