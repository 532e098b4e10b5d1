// Package registry defines the module-registry and DI-container surfaces the
// lifecycle manager collaborates with, plus reference implementations used
// by the daemon and by tests. The registry and container are owned by the
// host application's boot sequence; the lifecycle manager mutates them
// through these interfaces but never owns their lifetime.
package registry

import (
	"sort"
	"sync"
)

// ModuleInfo identifies a loaded module and its source directory.
type ModuleInfo struct {
	Code string
	Path string
}

// Module is a self-contained unit of application code loaded into a running
// worker.
type Module interface {
	Info() ModuleInfo

	// ReloadFromDisk re-includes the module's controller source and
	// refreshes its bindings. Returns false when the reload failed.
	ReloadFromDisk() bool

	// ReloadConfig refreshes the module's metadata and configuration
	// without touching its code. Returns false when the refresh failed.
	ReloadConfig() bool
}

// Registry exposes the set of currently loaded modules.
type Registry interface {
	// LoadedModule returns the live module for code, or nil when the
	// module is not loaded.
	LoadedModule(code string) Module
	Modules() []Module
}

// MemoryRegistry is a map-backed Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{modules: make(map[string]Module)}
}

// Register adds or replaces a module.
func (r *MemoryRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Info().Code] = m
}

// Unregister removes a module by code.
func (r *MemoryRegistry) Unregister(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, code)
}

// LoadedModule returns the module for code, or nil.
func (r *MemoryRegistry) LoadedModule(code string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[code]
	if !ok {
		return nil
	}
	return m
}

// Modules returns all registered modules sorted by code.
func (r *MemoryRegistry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.modules))
	for code := range r.modules {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]Module, 0, len(codes))
	for _, code := range codes {
		out = append(out, r.modules[code])
	}
	return out
}

// StaticModule is a Module whose reload operations delegate to callbacks.
// Nil callbacks report success, matching a module with nothing to reload.
type StaticModule struct {
	info         ModuleInfo
	reloadDisk   func() bool
	reloadConfig func() bool
}

// NewStaticModule creates a module with the given reload hooks.
func NewStaticModule(info ModuleInfo, reloadDisk, reloadConfig func() bool) *StaticModule {
	return &StaticModule{info: info, reloadDisk: reloadDisk, reloadConfig: reloadConfig}
}

// Info returns the module identity.
func (m *StaticModule) Info() ModuleInfo { return m.info }

// ReloadFromDisk invokes the disk-reload hook.
func (m *StaticModule) ReloadFromDisk() bool {
	if m.reloadDisk == nil {
		return true
	}
	return m.reloadDisk()
}

// ReloadConfig invokes the config-reload hook.
func (m *StaticModule) ReloadConfig() bool {
	if m.reloadConfig == nil {
		return true
	}
	return m.reloadConfig()
}
