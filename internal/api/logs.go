package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/moduhost/workerd/internal/logging"
)

// registerLogRoutes registers the buffered log history endpoint.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Return buffered log history, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct {
		Level string `query:"level" enum:"debug,info,warn,error," doc:"Only return entries at this level"`
	}) (*LogsResponse, error) {
		data := LogsData{Entries: []LogEntry{}}

		buffer := logging.GetBuffer()
		if buffer == nil {
			return &LogsResponse{Body: data}, nil
		}

		for _, entry := range buffer.ReadAll() {
			if input.Level != "" && entry.Level != input.Level {
				continue
			}
			data.Entries = append(data.Entries, LogEntry{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		}
		return &LogsResponse{Body: data}, nil
	})
}
