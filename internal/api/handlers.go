package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/moduhost/workerd/internal/signalfile"
	"github.com/moduhost/workerd/internal/version"
)

// registerStatusRoutes registers health, version, status and module routes.
func (s *Server) registerStatusRoutes() {
	// Health check, no auth required.
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthData{Status: "ok"}}, nil
	})

	// Version, no auth required.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		info := version.Get()
		return &VersionResponse{
			Body: VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Worker Status",
		Description: "Get the worker lifecycle state and supervised process status",
		Tags:        []string{"lifecycle"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*StatusResponse, error) {
		data := StatusData{
			State:       string(s.options.Manager.State()),
			InFlight:    s.options.Manager.InFlight(),
			DrainReason: s.options.Manager.DrainReason(),
		}
		if booted := s.options.Manager.BootedAt(); !booted.IsZero() {
			data.BootedAt = booted.Format(time.RFC3339)
		}

		if s.options.Pool != nil {
			for _, id := range s.options.WorkerIDs {
				info := s.options.Pool.GetStatus(id)
				ws := WorkerStatus{
					ID:           info.ID,
					State:        string(info.State),
					PID:          info.PID,
					RestartCount: info.RestartCount,
				}
				if !info.StartedAt.IsZero() {
					ws.StartedAt = info.StartedAt.Format(time.RFC3339)
				}
				if info.LastError != nil {
					ws.LastError = info.LastError.Error()
				}
				data.Workers = append(data.Workers, ws)
			}
		}
		return &StatusResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-modules",
		Method:      http.MethodGet,
		Path:        "/api/modules",
		Summary:     "Modules",
		Description: "List loaded modules with their last detected changes",
		Tags:        []string{"modules"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*ModulesResponse, error) {
		lastChanges := s.options.Detector.LastChanges()

		data := ModulesData{Modules: []ModuleStatus{}}
		for _, mod := range s.options.Registry.Modules() {
			info := mod.Info()
			ms := ModuleStatus{Code: info.Code, Path: info.Path}
			if ct, ok := lastChanges[info.Code]; ok {
				ms.LastChange = ct.String()
			}
			data.Modules = append(data.Modules, ms)
		}
		return &ModulesResponse{Body: data}, nil
	})
}

// registerSignalRoutes registers the deploy signal endpoint.
func (s *Server) registerSignalRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "send-signal",
		Method:      http.MethodPost,
		Path:        "/api/signal",
		Summary:     "Send Signal",
		Description: "Write a deploy signal for the worker to consume on its next check",
		Tags:        []string{"lifecycle"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 500},
	}, func(ctx context.Context, input *SignalRequest) (*SignalResponse, error) {
		action := signalfile.Action(input.Body.Action)
		sig, err := signalfile.Send(s.options.SignalPath, action, input.Body.Modules, input.Body.Reason)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to write signal", err)
		}

		s.logger.Info("Deploy signal written via API", "action", action, "id", sig.ID)
		return &SignalResponse{
			Body: SignalData{
				ID:        sig.ID,
				Action:    string(sig.Action),
				Timestamp: sig.Timestamp,
			},
		}, nil
	})
}
