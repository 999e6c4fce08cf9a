package endpoints

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/events"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// EventsEndpoint handles GET /api/events, streaming synthesis and task
// progress over Server-Sent Events.
type EventsEndpoint struct{}

func (e *EventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/events", e.handler
}

func (e *EventsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stream progress events
//	@Description	Stream synthesis and task progress as Server-Sent Events. Topic filters to one document or task, e.g. document:<id> or task:<id>.
//	@Tags			events
//	@Produce		text/event-stream
//	@Param			topic	query	string	false	"Topic to follow, e.g. document:<id> or task:<id> (empty streams everything)"
//	@Success		200
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/events [get]
func (e *EventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	hub := svcctx.HubFrom(r.Context())
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event hub not initialized")
		return
	}
	events.ServeSSE(w, r, hub, r.URL.Query().Get("topic"))
}

func (e *EventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream progress events",
		Long:  "Stream synthesis and task progress events. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/events"
			if topic != "" {
				path += "?topic=" + topic
			}

			body, err := api.NewClient(getServerURL()).GetStream(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer body.Close()

			// Print data lines only; skip SSE framing and heartbeats.
			scanner := bufio.NewScanner(body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "data: ") {
					fmt.Fprintln(os.Stdout, strings.TrimPrefix(line, "data: "))
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Topic to follow, e.g. document:<id> or task:<id>")
	return cmd
}
