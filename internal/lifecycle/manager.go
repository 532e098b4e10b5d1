package lifecycle

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/moduhost/workerd/internal/detector"
	"github.com/moduhost/workerd/internal/events"
	"github.com/moduhost/workerd/internal/metrics"
	"github.com/moduhost/workerd/internal/registry"
	"github.com/moduhost/workerd/internal/signalfile"
)

// Config holds the lifecycle manager's tunables.
type Config struct {
	// DrainTimeout forces termination after this long in Draining, even
	// with requests still in flight. Zero falls back to 30s.
	DrainTimeout time.Duration

	// CheckInterval samples filesystem detection to every Nth check.
	// 0 runs detection on every check.
	CheckInterval int

	// SignalPath is the deploy signal file. Empty disables signal polling.
	SignalPath string

	// SignalTTL discards signals older than this. Zero falls back to the
	// signalfile default.
	SignalTTL time.Duration
}

func (c Config) drainTimeout() time.Duration {
	if c.DrainTimeout <= 0 {
		return 30 * time.Second
	}
	return c.DrainTimeout
}

func (c Config) signalTTL() time.Duration {
	if c.SignalTTL <= 0 {
		return signalfile.DefaultTTL
	}
	return c.SignalTTL
}

// Options wires the manager's collaborators.
type Options struct {
	Config    Config
	Detector  *detector.Detector
	Registry  registry.Registry
	Container registry.Container
	Bus       *events.Bus // optional
	Logger    *slog.Logger
}

// Manager is the per-request decision function and authoritative state
// holder for one worker process. The host request loop calls
// CheckForChanges at the top of every cycle and brackets every unit of work
// with RequestStarted / RequestFinished.
//
// All detection, signal polling and transitions happen synchronously inside
// the calling goroutine; the only wait in this component is the cooperative
// drain realized by the host polling until in-flight work reaches zero.
type Manager struct {
	cfg       Config
	detector  *detector.Detector
	registry  registry.Registry
	container registry.Container
	bus       *events.Bus
	logger    *slog.Logger

	mu          sync.Mutex
	state       WorkerState
	inflight    int
	checkCount  uint64
	drainStart  time.Time
	drainReason string
	bootedAt    time.Time

	now func() time.Time // test hook
}

// New creates a manager in the Booting state.
func New(opts *Options) *Manager {
	m := &Manager{
		cfg:       opts.Config,
		detector:  opts.Detector,
		registry:  opts.Registry,
		container: opts.Container,
		bus:       opts.Bus,
		logger:    opts.Logger,
		state:     StateBooting,
		now:       time.Now,
	}
	metrics.SetWorkerState(string(StateBooting))
	return m
}

// Boot snapshots every registered module and transitions to Ready. Modules
// whose snapshot fails are logged and left baseline-less, which the detector
// treats as requiring a restart rather than silently passing.
func (m *Manager) Boot() {
	for _, mod := range m.registry.Modules() {
		info := mod.Info()
		if err := m.detector.Snapshot(info.Code, info.Path); err != nil {
			m.logger.Warn("Module snapshot failed during boot", "module", info.Code, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootedAt = m.now()
	m.setStateLocked(StateReady, "boot complete")
}

// State returns the current lifecycle state.
func (m *Manager) State() WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InFlight returns the number of requests currently being served.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

// BootedAt returns when the worker finished booting.
func (m *Manager) BootedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootedAt
}

// DrainReason returns why the last drain began, or "".
func (m *Manager) DrainReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drainReason
}

// RequestStarted records one admitted unit of work. Call it together with
// RequestFinished around every request, whatever CheckForChanges returned.
func (m *Manager) RequestStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight++
	metrics.SetInflightRequests(m.inflight)
}

// RequestFinished records one completed unit of work. When a drain is in
// progress and this was the last in-flight request, the worker terminates.
func (m *Manager) RequestFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight > 0 {
		m.inflight--
	}
	metrics.SetInflightRequests(m.inflight)
	if m.state == StateDraining && m.inflight == 0 {
		m.terminateLocked("drain complete")
	}
}

// CheckForChanges answers "what should the request loop do right now".
// Checks run cheapest-and-most-urgent first: drain status, then the signal
// file (every call), then the container rebind ceiling, then sampled
// filesystem detection.
func (m *Manager) CheckForChanges() Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	action := m.checkLocked()
	metrics.IncCheckAction(string(action))
	return action
}

func (m *Manager) checkLocked() Action {
	metrics.SetContainerRebinds(m.container.TotalRebindCount())

	// 1. An in-progress drain either times out or keeps draining.
	if m.state == StateDraining {
		if m.now().Sub(m.drainStart) > m.cfg.drainTimeout() {
			m.logger.Warn("Drain timeout exceeded, forcing termination", "in_flight", m.inflight, "timeout", m.cfg.drainTimeout())
			m.terminateLocked("drain timeout exceeded")
			return ActionTerminate
		}
		return ActionDraining
	}

	// 2. Terminated is absorbing.
	if m.state == StateTerminated {
		return ActionTerminate
	}

	// 3. External signal channel, polled on every call.
	if act, handled := m.pollSignalLocked(); handled {
		return act
	}

	// 4. Hard ceiling on unloadable definition growth.
	if m.container.ExceedsRebindThreshold() {
		m.beginDrainLocked(fmt.Sprintf("container rebind count %d exceeds threshold", m.container.TotalRebindCount()))
		return ActionDraining
	}

	// 5. Sampled filesystem change detection.
	m.checkCount++
	if n := m.cfg.CheckInterval; n > 0 && m.checkCount%uint64(n) != 0 {
		return ActionContinue
	}
	return m.routeDetectionLocked()
}

// pollSignalLocked consumes the signal file. The file is deleted before the
// signal is acted on: at most one worker in a pool handles each signal.
func (m *Manager) pollSignalLocked() (Action, bool) {
	if m.cfg.SignalPath == "" {
		return ActionContinue, false
	}
	sig := signalfile.Check(m.cfg.SignalPath)
	if sig == nil {
		return ActionContinue, false
	}
	if err := signalfile.Clear(m.cfg.SignalPath); err != nil {
		m.logger.Warn("Failed to clear signal file", "path", m.cfg.SignalPath, "error", err)
	}

	stale := sig.IsStale(m.cfg.signalTTL())
	m.publish(events.SignalReceivedEvent{
		ID:        sig.ID,
		Action:    string(sig.Action),
		Modules:   sig.Modules,
		Reason:    sig.Reason,
		Stale:     stale,
		Timestamp: m.now().Format(time.RFC3339),
	})
	if stale {
		m.logger.Warn("Discarding stale signal", "action", sig.Action, "age", sig.Age())
		return ActionContinue, false
	}

	metrics.IncSignal(string(sig.Action))
	m.logger.Info("Deploy signal received", "action", sig.Action, "modules", sig.Modules, "reason", sig.Reason)

	switch sig.Action {
	case signalfile.ActionRestart:
		m.beginDrainLocked(signalReason("restart signal", sig.Reason))
		return ActionDraining, true

	case signalfile.ActionTerminate:
		m.terminateLocked(signalReason("terminate signal", sig.Reason))
		return ActionTerminate, true

	case signalfile.ActionSwap:
		if len(sig.Modules) > 0 {
			return m.attemptSwapLocked(sig.Modules, signalReason("swap signal", sig.Reason)), true
		}
		// An untargeted swap re-runs full detection and routes on the
		// result, exactly like a sampled pass.
		return m.routeDetectionLocked(), true
	}
	return ActionContinue, false
}

// routeDetectionLocked runs full change detection and dispatches on the
// aggregate severity.
func (m *Manager) routeDetectionLocked() Action {
	overall := m.detector.DetectOverall()
	if overall != detector.ChangeNone {
		ts := m.now().Format(time.RFC3339)
		for code, ct := range m.detector.LastChanges() {
			m.publish(events.ChangeDetectedEvent{Module: code, Change: ct.String(), Timestamp: ts})
		}
	}

	switch overall {
	case detector.ChangeNone:
		return ActionContinue

	case detector.ChangeClassFile:
		modules := m.detector.RestartRequiredModules()
		m.beginDrainLocked(fmt.Sprintf("class file change in %s", strings.Join(modules, ", ")))
		return ActionDraining

	case detector.ChangeRebindable:
		// Sweep simultaneously-changed config-only modules into the
		// same batch so their refresh is not lost.
		batch := append(m.detector.RebindableModules(), m.detector.HotSwappableModules()...)
		return m.attemptRebindLocked(batch)

	case detector.ChangeConfig:
		return m.attemptSwapLocked(m.detector.HotSwappableModules(), "config change detected")
	}
	return ActionContinue
}

// attemptRebindLocked re-includes every module in the batch in place. A
// module missing from the registry marks the batch failed but the remaining
// modules are still tried; a reload error aborts the batch immediately.
// Any failure falls back to a full drain.
func (m *Manager) attemptRebindLocked(moduleCodes []string) Action {
	m.setStateLocked(StateSwapping, "rebinding modules")

	var failure string
	for _, code := range moduleCodes {
		mod := m.registry.LoadedModule(code)
		if mod == nil {
			m.logger.Error("Rebind failed, module not loaded", "module", code)
			failure = fmt.Sprintf("module %s not loaded", code)
			continue
		}
		if !mod.ReloadFromDisk() {
			m.logger.Error("Rebind failed, reload error", "module", code)
			failure = fmt.Sprintf("module %s reload failed", code)
			break
		}
		if err := m.detector.RefreshSnapshot(code); err != nil {
			m.logger.Warn("Snapshot refresh failed after rebind", "module", code, "error", err)
		}
	}

	ts := m.now().Format(time.RFC3339)
	if failure != "" {
		metrics.IncRebind("failure")
		m.publish(events.RebindAttemptedEvent{Modules: moduleCodes, Success: false, Error: failure, Timestamp: ts})
		m.beginDrainLocked("rebind failed: " + failure)
		return ActionDraining
	}

	metrics.IncRebind("success")
	m.publish(events.RebindAttemptedEvent{Modules: moduleCodes, Success: true, Timestamp: ts})
	m.logger.Info("Modules rebound in place", "modules", moduleCodes)
	m.setStateLocked(StateReady, "rebind complete")
	return ActionRebound
}

// attemptSwapLocked refreshes module config/metadata in place and falls back
// to a drain on any failure.
func (m *Manager) attemptSwapLocked(moduleCodes []string, reason string) Action {
	m.setStateLocked(StateSwapping, reason)

	var failure string
	for _, code := range moduleCodes {
		mod := m.registry.LoadedModule(code)
		if mod == nil {
			failure = fmt.Sprintf("module %s not loaded", code)
			break
		}
		if !mod.ReloadConfig() {
			failure = fmt.Sprintf("module %s config reload failed", code)
			break
		}
	}

	ts := m.now().Format(time.RFC3339)
	if failure != "" {
		m.logger.Error("Hot-swap failed", "modules", moduleCodes, "error", failure)
		metrics.IncSwap("failure")
		m.publish(events.SwapAttemptedEvent{Modules: moduleCodes, Success: false, Error: failure, Timestamp: ts})
		m.beginDrainLocked("hot-swap failed: " + failure)
		return ActionDraining
	}

	for _, code := range moduleCodes {
		if err := m.detector.RefreshSnapshot(code); err != nil {
			m.logger.Warn("Snapshot refresh failed after swap", "module", code, "error", err)
		}
	}

	metrics.IncSwap("success")
	m.publish(events.SwapAttemptedEvent{Modules: moduleCodes, Success: true, Timestamp: ts})
	m.logger.Info("Modules hot-swapped", "modules", moduleCodes)
	m.setStateLocked(StateReady, "hot-swap complete")
	return ActionSwapped
}

func (m *Manager) beginDrainLocked(reason string) {
	m.drainStart = m.now()
	m.drainReason = reason
	metrics.IncDrain()
	m.setStateLocked(StateDraining, reason)
	m.publish(events.DrainStartedEvent{
		Reason:    reason,
		InFlight:  m.inflight,
		Timestamp: m.now().Format(time.RFC3339),
	})
	m.logger.Info("Drain started", "reason", reason, "in_flight", m.inflight)
}

func (m *Manager) terminateLocked(reason string) {
	if m.state == StateTerminated {
		return
	}
	m.setStateLocked(StateTerminated, reason)
	m.publish(events.WorkerTerminatedEvent{
		Reason:    reason,
		InFlight:  m.inflight,
		Timestamp: m.now().Format(time.RFC3339),
	})
	m.logger.Info("Worker terminated", "reason", reason, "in_flight", m.inflight)
}

func (m *Manager) setStateLocked(next WorkerState, reason string) {
	if m.state == next {
		return
	}
	prev := m.state
	m.state = next
	metrics.SetWorkerState(string(next))
	m.publish(events.StateChangedEvent{
		From:      string(prev),
		To:        string(next),
		Reason:    reason,
		Timestamp: m.now().Format(time.RFC3339),
	})
	m.logger.Debug("State transition", "from", prev, "to", next, "reason", reason)
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func signalReason(prefix, reason string) string {
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}
