package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Folio server via HTTP.

These commands require a running server (folio serve).
Use --server to specify a custom server URL.

Examples:
  folio api health                  # Check server health
  folio api documents list          # List synthesized documents
  folio api books ingest book.pdf   # Ingest a PDF into the library
  folio api tasks list              # List background tasks`,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Document synthesis commands",
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Book library commands",
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Background task commands",
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Metrics and cost tracking commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Configuration settings commands",
}

var llmcallsCmd = &cobra.Command{
	Use:   "llmcalls",
	Short: "Model call history commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

// addEndpointCommands attaches each endpoint's CLI command to parent,
// skipping endpoints that have no CLI form.
func addEndpointCommands(parent *cobra.Command, eps []api.Endpoint) {
	for _, ep := range eps {
		if cmd := ep.Command(getServerURL); cmd != nil {
			parent.AddCommand(cmd)
		}
	}
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Provider status and the event stream at top level
	apiCmd.AddCommand((&endpoints.ListProvidersEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.EventsEndpoint{}).Command(getServerURL))

	// Swagger spec export
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	// Resource groups
	addEndpointCommands(documentsCmd, endpoints.DocumentCommands())
	addEndpointCommands(booksCmd, endpoints.BookCommands())
	addEndpointCommands(tasksCmd, endpoints.TaskCommands())
	addEndpointCommands(metricsCmd, endpoints.MetricsCommands())
	addEndpointCommands(settingsCmd, endpoints.SettingsCommands())
	addEndpointCommands(llmcallsCmd, endpoints.LLMCallCommands())

	apiCmd.AddCommand(documentsCmd)
	apiCmd.AddCommand(booksCmd)
	apiCmd.AddCommand(tasksCmd)
	apiCmd.AddCommand(metricsCmd)
	apiCmd.AddCommand(settingsCmd)
	apiCmd.AddCommand(llmcallsCmd)
	rootCmd.AddCommand(apiCmd)
}
