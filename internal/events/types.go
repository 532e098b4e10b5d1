package events

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypeChangeDetected
	TypeSignalReceived
	TypeDrainStarted
	TypeRebindAttempted
	TypeSwapAttempted
	TypeWorkerTerminated
	TypeWorkerProcess
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent is published on every worker lifecycle transition.
type StateChangedEvent struct {
	From      string `json:"from" example:"ready" doc:"Previous lifecycle state"`
	To        string `json:"to" example:"draining" doc:"New lifecycle state"`
	Reason    string `json:"reason,omitempty" doc:"Why the transition happened"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// ChangeDetectedEvent is published when a detection pass finds a changed
// module.
type ChangeDetectedEvent struct {
	Module    string `json:"module" example:"vendor/blog" doc:"Module code"`
	Change    string `json:"change" example:"rebindable" doc:"Detected change classification"`
	Timestamp string `json:"timestamp" doc:"Detection timestamp"`
}

// Type returns the event type identifier for ChangeDetectedEvent.
func (e ChangeDetectedEvent) Type() uint32 { return TypeChangeDetected }

// SignalReceivedEvent is published when a deploy signal is consumed,
// including stale signals that were discarded without action.
type SignalReceivedEvent struct {
	ID        string   `json:"id,omitempty" doc:"Signal ULID assigned by the sender"`
	Action    string   `json:"action" example:"restart" doc:"Signal action"`
	Modules   []string `json:"modules,omitempty" doc:"Targeted modules, for swap signals"`
	Reason    string   `json:"reason,omitempty" doc:"Free-text reason from the sender"`
	Stale     bool     `json:"stale" doc:"True when the signal exceeded its TTL and was discarded"`
	Timestamp string   `json:"timestamp" doc:"Consumption timestamp"`
}

// Type returns the event type identifier for SignalReceivedEvent.
func (e SignalReceivedEvent) Type() uint32 { return TypeSignalReceived }

// DrainStartedEvent is published when the worker stops accepting new work.
type DrainStartedEvent struct {
	Reason    string `json:"reason" doc:"Why the drain began"`
	InFlight  int    `json:"in_flight" doc:"Requests still being served when the drain began"`
	Timestamp string `json:"timestamp" doc:"Drain start timestamp"`
}

// Type returns the event type identifier for DrainStartedEvent.
func (e DrainStartedEvent) Type() uint32 { return TypeDrainStarted }

// RebindAttemptedEvent reports the outcome of an in-place rebind batch.
type RebindAttemptedEvent struct {
	Modules   []string `json:"modules" doc:"Modules in the rebind batch"`
	Success   bool     `json:"success" doc:"True when every module rebound"`
	Error     string   `json:"error,omitempty" doc:"Failure description"`
	Timestamp string   `json:"timestamp" doc:"Attempt timestamp"`
}

// Type returns the event type identifier for RebindAttemptedEvent.
func (e RebindAttemptedEvent) Type() uint32 { return TypeRebindAttempted }

// SwapAttemptedEvent reports the outcome of a hot-swap.
type SwapAttemptedEvent struct {
	Modules   []string `json:"modules" doc:"Modules in the swap"`
	Success   bool     `json:"success" doc:"True when every module swapped"`
	Error     string   `json:"error,omitempty" doc:"Failure description"`
	Timestamp string   `json:"timestamp" doc:"Attempt timestamp"`
}

// Type returns the event type identifier for SwapAttemptedEvent.
func (e SwapAttemptedEvent) Type() uint32 { return TypeSwapAttempted }

// WorkerTerminatedEvent is published when the worker reaches its absorbing
// terminal state.
type WorkerTerminatedEvent struct {
	Reason    string `json:"reason" doc:"Why the worker terminated"`
	InFlight  int    `json:"in_flight" doc:"Requests abandoned by a forced termination, 0 for a clean drain"`
	Timestamp string `json:"timestamp" doc:"Termination timestamp"`
}

// Type returns the event type identifier for WorkerTerminatedEvent.
func (e WorkerTerminatedEvent) Type() uint32 { return TypeWorkerTerminated }

// WorkerProcessEvent reports supervised worker process state changes.
type WorkerProcessEvent struct {
	WorkerID  string `json:"worker_id" example:"web-1" doc:"Supervised worker identifier"`
	State     string `json:"state" example:"running" doc:"Process state"`
	PID       int    `json:"pid,omitempty" doc:"OS process id when running"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerProcessEvent.
func (e WorkerProcessEvent) Type() uint32 { return TypeWorkerProcess }
