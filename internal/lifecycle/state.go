package lifecycle

// WorkerState represents the lifecycle state of a worker process.
type WorkerState string

// Worker lifecycle states.
const (
	StateBooting    WorkerState = "booting"    // Process starting, modules loading
	StateReady      WorkerState = "ready"      // Serving requests
	StateDraining   WorkerState = "draining"   // Finishing in-flight work, rejecting new work
	StateSwapping   WorkerState = "swapping"   // Applying an in-place update
	StateTerminated WorkerState = "terminated" // Exited the request loop; absorbing
)

// AcceptsRequests reports whether new work may be admitted in this state.
// Swapping still accepts: an in-place update never stops the loop.
func (s WorkerState) AcceptsRequests() bool {
	return s == StateReady || s == StateSwapping
}

// Terminal reports whether the state signals "exit the process loop".
func (s WorkerState) Terminal() bool {
	return s == StateTerminated
}

// Action is the per-request decision returned by Manager.CheckForChanges.
type Action string

// Lifecycle actions, the fixed vocabulary the request loop dispatches on.
const (
	ActionContinue  Action = "continue"  // Nothing changed, serve normally
	ActionRebound   Action = "rebound"   // Modules re-included in place, serve normally
	ActionSwapped   Action = "swapped"   // Module config refreshed in place, serve normally
	ActionDraining  Action = "draining"  // Reject new work, let in-flight work finish
	ActionTerminate Action = "terminate" // Exit the process loop
)
