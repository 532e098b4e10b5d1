package supervisor

import (
	"time"

	"github.com/moduhost/workerd/internal/logging"
)

// CommandProvider generates the command line for a worker ID.
type CommandProvider func(id string) (command string, err error)

// StateChangeCallback is called when a worker's state changes.
type StateChangeCallback func(id string, oldState, newState State, err error)

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// CommandProvider generates the command for a given worker ID (required).
	CommandProvider CommandProvider

	// OnStateChange is called on worker state transitions (optional).
	OnStateChange StateChangeCallback

	// MaxRestarts caps crash restarts per worker. 0 disables restarting.
	MaxRestarts int

	// RestartDelay is the pause before a crash restart. Default 2s.
	RestartDelay time.Duration

	// Logger for pool operations. If nil, uses slog.Default().
	Logger logging.Logger
}
