// Package supervisor runs and supervises PHP worker subprocesses.
//
// Worker wraps os/exec for a single subprocess:
//   - Graceful shutdown with SIGTERM and a configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - Output streaming with PHP error-prefix level mapping
//
// Pool manages multiple named workers:
//   - Start/Stop/Restart individual workers by ID
//   - State tracking (idle, starting, running, stopping, error)
//   - Crash restarts with a per-worker budget and delay
//   - StopAll for graceful shutdown of the whole pool
//
// Example:
//
//	pool := supervisor.NewPool(&supervisor.PoolOptions{
//	    CommandProvider: func(id string) (string, error) {
//	        return "php artisan worker:serve --id=" + id, nil
//	    },
//	    MaxRestarts: 3,
//	})
//	pool.Start("worker-1")
//	defer pool.StopAll()
package supervisor
