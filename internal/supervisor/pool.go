package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moduhost/workerd/internal/logging"
	"github.com/moduhost/workerd/internal/metrics"
)

// Pool manages multiple named workers with lifecycle control.
type Pool interface {
	// Start starts a worker by ID. Returns an error if already running.
	Start(id string) error

	// Stop gracefully stops a worker by ID.
	Stop(id string) error

	// Restart stops and restarts a worker.
	Restart(id string) error

	// GetStatus returns worker info. Returns idle state if not found.
	GetStatus(id string) *Info

	// IsRunning checks if a worker is currently running.
	IsRunning(id string) bool

	// StopAll gracefully stops all running workers.
	StopAll()
}

// managedWorker tracks a running worker within the pool.
type managedWorker struct {
	worker       *Worker
	id           string
	state        State
	startedAt    time.Time
	restartCount int
	lastError    error
	cancel       context.CancelFunc
	done         chan struct{}
}

type pool struct {
	opts    PoolOptions
	workers map[string]*managedWorker
	mu      sync.RWMutex
	logger  logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool.
func NewPool(opts *PoolOptions) Pool {
	if opts == nil || opts.CommandProvider == nil {
		panic("PoolOptions with CommandProvider is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 2 * time.Second
	}

	return &pool{
		opts:    *opts,
		workers: make(map[string]*managedWorker),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *pool) Start(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mw, exists := p.workers[id]; exists {
		if mw.state == StateRunning || mw.state == StateStarting {
			return fmt.Errorf("worker %s already running", id)
		}
	}

	command, err := p.opts.CommandProvider(id)
	if err != nil {
		return fmt.Errorf("failed to generate command: %w", err)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	mw := &managedWorker{
		id:        id,
		state:     StateStarting,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	mw.worker = NewWorker(id, command, p.logger)
	p.workers[id] = mw

	p.notifyStateChange(id, StateIdle, StateStarting, nil)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(mw.done)
		p.superviseWorker(ctx, mw, command)
	}()
	return nil
}

// superviseWorker runs the worker, restarting it after crashes until the
// restart budget runs out or the pool shuts down.
func (p *pool) superviseWorker(ctx context.Context, mw *managedWorker, command string) {
	for {
		p.transition(mw, StateRunning, nil)

		exitCode := mw.worker.Run()

		if ctx.Err() != nil {
			p.transition(mw, StateIdle, nil)
			p.logger.Info("Worker stopped", "id", mw.id, "exit_code", exitCode)
			return
		}
		if exitCode == 0 {
			p.transition(mw, StateIdle, nil)
			p.logger.Info("Worker finished", "id", mw.id)
			return
		}

		crashErr := fmt.Errorf("worker exited with code %d", exitCode)
		p.logger.Error("Worker crashed", "id", mw.id, "exit_code", exitCode)

		p.mu.Lock()
		restarts := mw.restartCount
		p.mu.Unlock()
		if restarts >= p.opts.MaxRestarts {
			p.transition(mw, StateError, crashErr)
			p.logger.Error("Worker restart budget exhausted", "id", mw.id, "restarts", restarts)
			return
		}

		p.transition(mw, StateStarting, crashErr)
		select {
		case <-ctx.Done():
			p.transition(mw, StateIdle, nil)
			return
		case <-time.After(p.opts.RestartDelay):
		}

		p.mu.Lock()
		mw.restartCount++
		mw.startedAt = time.Now()
		mw.worker = NewWorker(mw.id, command, p.logger)
		p.mu.Unlock()
		metrics.IncWorkerRestart(mw.id)
		p.logger.Info("Restarting crashed worker", "id", mw.id, "attempt", restarts+1)
	}
}

// transition updates a worker's state under the lock and notifies.
func (p *pool) transition(mw *managedWorker, next State, err error) {
	p.mu.Lock()
	old := mw.state
	mw.state = next
	if err != nil {
		mw.lastError = err
	}
	p.mu.Unlock()
	p.notifyStateChange(mw.id, old, next, err)
}

func (p *pool) Stop(id string) error {
	p.mu.Lock()
	mw, exists := p.workers[id]
	if !exists {
		p.mu.Unlock()
		return nil
	}
	if mw.state != StateRunning && mw.state != StateStarting {
		p.mu.Unlock()
		return nil
	}
	oldState := mw.state
	mw.state = StateStopping
	p.mu.Unlock()

	p.notifyStateChange(id, oldState, StateStopping, nil)
	p.logger.Info("Stopping worker", "id", id)

	mw.cancel()
	mw.worker.Shutdown()

	select {
	case <-mw.done:
	case <-time.After(20 * time.Second):
		p.logger.Warn("Timeout waiting for worker to stop", "id", id)
	}

	p.mu.Lock()
	delete(p.workers, id)
	p.mu.Unlock()
	return nil
}

func (p *pool) Restart(id string) error {
	p.logger.Info("Restarting worker", "id", id)
	if err := p.Stop(id); err != nil {
		return fmt.Errorf("failed to stop worker: %w", err)
	}
	return p.Start(id)
}

func (p *pool) GetStatus(id string) *Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mw, exists := p.workers[id]
	if !exists {
		return &Info{ID: id, State: StateIdle}
	}
	return &Info{
		ID:           id,
		State:        mw.state,
		PID:          mw.worker.PID(),
		StartedAt:    mw.startedAt,
		RestartCount: mw.restartCount,
		LastError:    mw.lastError,
	}
}

func (p *pool) IsRunning(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mw, exists := p.workers[id]
	return exists && mw.state == StateRunning
}

func (p *pool) StopAll() {
	p.logger.Info("Stopping all workers")
	p.cancel()

	p.mu.RLock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		_ = p.Stop(id)
	}

	p.wg.Wait()
	p.logger.Info("All workers stopped")
}

func (p *pool) notifyStateChange(id string, oldState, newState State, err error) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(id, oldState, newState, err)
	}
}
