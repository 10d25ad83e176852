package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/pwmirror/internal/api/models"
	"github.com/smazurov/pwmirror/internal/events"
	"github.com/smazurov/pwmirror/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Logs",
		Description: "Most recent entries of the in-memory log buffer",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		entries := logging.GetBuffer().ReadAll()
		out := make([]events.LogEntryEvent, 0, len(entries))
		for _, e := range entries {
			if input.Module != "" && e.Module != input.Module {
				continue
			}
			out = append(out, LogEvent(e))
		}
		if len(out) > input.Limit {
			out = out[len(out)-input.Limit:]
		}
		return &models.LogsResponse{Body: models.LogsData{Entries: out, Count: len(out)}}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing written in between is lost;
		// the sequence number drops the overlap.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var last uint64
		for _, entry := range logging.GetBuffer().ReadAll() {
			if err := send.Data(LogEvent(entry)); err != nil {
				return
			}
			last = entry.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if e, ok := ev.(events.LogEntryEvent); ok && e.Seq <= last {
					continue
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

// LogEvent converts a buffered log entry into its bus event.
func LogEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}
