package api

// HealthResponse is the health check envelope.
type HealthResponse struct {
	Body HealthData
}

// HealthData reports API liveness.
type HealthData struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// VersionResponse is the version endpoint envelope.
type VersionResponse struct {
	Body VersionData
}

// VersionData carries build metadata.
type VersionData struct {
	Version   string `json:"version" example:"1.4.0" doc:"Application version"`
	GitCommit string `json:"git_commit" doc:"Git commit hash"`
	BuildDate string `json:"build_date" doc:"Build timestamp"`
	GoVersion string `json:"go_version" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Build platform"`
}

// StatusResponse is the worker status envelope.
type StatusResponse struct {
	Body StatusData
}

// StatusData is the lifecycle snapshot served by GET /api/status.
type StatusData struct {
	State       string         `json:"state" example:"ready" doc:"Current lifecycle state"`
	InFlight    int            `json:"in_flight" doc:"Requests currently being served"`
	BootedAt    string         `json:"booted_at,omitempty" doc:"When the worker finished booting"`
	DrainReason string         `json:"drain_reason,omitempty" doc:"Why the last drain began"`
	Workers     []WorkerStatus `json:"workers,omitempty" doc:"Supervised worker processes"`
}

// WorkerStatus describes one supervised worker process.
type WorkerStatus struct {
	ID           string `json:"id" example:"web-1" doc:"Worker identifier"`
	State        string `json:"state" example:"running" doc:"Process state"`
	PID          int    `json:"pid,omitempty" doc:"OS process id when running"`
	StartedAt    string `json:"started_at,omitempty" doc:"Last start time"`
	RestartCount int    `json:"restart_count" doc:"Crash restarts since start"`
	LastError    string `json:"last_error,omitempty" doc:"Most recent crash error"`
}

// ModulesResponse is the module listing envelope.
type ModulesResponse struct {
	Body ModulesData
}

// ModulesData lists loaded modules and their last detected changes.
type ModulesData struct {
	Modules []ModuleStatus `json:"modules" doc:"Loaded modules"`
}

// ModuleStatus describes one loaded module.
type ModuleStatus struct {
	Code       string `json:"code" example:"vendor/blog" doc:"Module code"`
	Path       string `json:"path" doc:"Module source tree root"`
	LastChange string `json:"last_change,omitempty" example:"rebindable" doc:"Last detected change classification"`
}

// SignalRequest is the body for POST /api/signal.
type SignalRequest struct {
	Body struct {
		Action  string   `json:"action" enum:"restart,swap,terminate" doc:"Signal action"`
		Modules []string `json:"modules,omitempty" doc:"Targeted modules, for swap signals"`
		Reason  string   `json:"reason,omitempty" maxLength:"200" doc:"Free-text reason"`
	}
}

// SignalResponse is the envelope for a sent signal.
type SignalResponse struct {
	Body SignalData
}

// SignalData echoes the written signal.
type SignalData struct {
	ID        string `json:"id" doc:"Signal ULID"`
	Action    string `json:"action" doc:"Signal action"`
	Timestamp int64  `json:"timestamp" doc:"Unix timestamp of the signal"`
}

// LogsResponse is the recent-logs envelope.
type LogsResponse struct {
	Body LogsData
}

// LogsData carries buffered log history.
type LogsData struct {
	Entries []LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
}

// LogEntry is one buffered log line.
type LogEntry struct {
	Timestamp  string         `json:"timestamp" doc:"Entry timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"lifecycle" doc:"Originating module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}
