package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/pwmirror/internal/events"
)

// registerSSERoutes registers the session event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Session state changes, negotiated formats, dropped frames and session end",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"session-state-changed": events.SessionStateChangedEvent{},
		"format-negotiated":     events.FormatNegotiatedEvent{},
		"frame-dropped":         events.FrameDroppedEvent{},
		"session-ended":         events.SessionEndedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FormatNegotiatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrameDroppedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionEndedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Start every stream with the current state.
		if src := s.currentSession(); src != nil {
			state := src.State().String()
			if err := send.Data(events.SessionStateChangedEvent{
				SessionID: src.ID(),
				From:      state,
				To:        state,
				Timestamp: time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
