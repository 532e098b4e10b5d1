package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/moduhost/workerd/internal/events"
)

// registerEventRoutes registers the lifecycle event SSE stream.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of lifecycle transitions, detections, signals and worker process changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"state-changed":     events.StateChangedEvent{},
		"change-detected":   events.ChangeDetectedEvent{},
		"signal-received":   events.SignalReceivedEvent{},
		"drain-started":     events.DrainStartedEvent{},
		"rebind-attempted":  events.RebindAttemptedEvent{},
		"swap-attempted":    events.SwapAttemptedEvent{},
		"worker-terminated": events.WorkerTerminatedEvent{},
		"worker-process":    events.WorkerProcessEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 100)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StateChangedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.ChangeDetectedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.SignalReceivedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.DrainStartedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.RebindAttemptedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.SwapAttemptedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.WorkerTerminatedEvent](s.options.Bus, eventCh),
			events.SubscribeToChannel[events.WorkerProcessEvent](s.options.Bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Initial frame so clients can confirm the stream is live.
		if err := send.Data(events.StateChangedEvent{
			From:      string(s.options.Manager.State()),
			To:        string(s.options.Manager.State()),
			Reason:    "sse connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
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
