package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ModuleConfig describes one PHP module the worker serves: where its source
// tree lives and the optional shell hooks used to reload it in place.
type ModuleConfig struct {
	Code    string `toml:"code" json:"code"`
	Path    string `toml:"path" json:"path"`
	Enabled bool   `toml:"enabled" json:"enabled"`

	// ReloadCommand re-includes the module's definitions in the running
	// worker; ConfigReloadCommand refreshes metadata only. Empty commands
	// report success without doing anything, which degrades those modules
	// to drain-and-restart handling upstream.
	ReloadCommand       string `toml:"reload_command,omitempty" json:"reload_command,omitempty"`
	ConfigReloadCommand string `toml:"config_reload_command,omitempty" json:"config_reload_command,omitempty"`

	// Metadata
	CreatedAt time.Time `toml:"created_at" json:"created_at"`
	UpdatedAt time.Time `toml:"updated_at" json:"updated_at"`
}

// WorkerConfig describes one supervised PHP worker process.
type WorkerConfig struct {
	ID      string `toml:"id" json:"id"`
	Command string `toml:"command" json:"command"`
	Enabled bool   `toml:"enabled" json:"enabled"`
}

// RosterConfig is the complete module and worker inventory file.
type RosterConfig struct {
	Version int                     `toml:"version" json:"version"`
	Modules map[string]ModuleConfig `toml:"modules" json:"modules"`
	Workers map[string]WorkerConfig `toml:"workers" json:"workers"`
}

// RosterManager manages the module and worker inventory.
type RosterManager struct {
	configPath string
	config     *RosterConfig
}

// NewRosterManager creates a roster manager backed by configPath, defaulting
// to roster.toml in the working directory.
func NewRosterManager(configPath string) *RosterManager {
	if configPath == "" {
		configPath = "roster.toml"
	}
	return &RosterManager{
		configPath: configPath,
		config: &RosterConfig{
			Version: 1,
			Modules: make(map[string]ModuleConfig),
			Workers: make(map[string]WorkerConfig),
		},
	}
}

// Load reads the roster from disk. A missing file leaves the roster empty.
func (rm *RosterManager) Load() error {
	if _, err := os.Stat(rm.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(rm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}
	if err := toml.Unmarshal(data, rm.config); err != nil {
		return fmt.Errorf("failed to parse roster: %w", err)
	}

	if rm.config.Modules == nil {
		rm.config.Modules = make(map[string]ModuleConfig)
	}
	if rm.config.Workers == nil {
		rm.config.Workers = make(map[string]WorkerConfig)
	}
	if rm.config.Version == 0 {
		rm.config.Version = 1
	}
	return nil
}

// Save writes the roster back to disk.
func (rm *RosterManager) Save() error {
	dir := filepath.Dir(rm.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create roster directory: %w", err)
	}

	data, err := toml.Marshal(rm.config)
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}
	if err := os.WriteFile(rm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write roster: %w", err)
	}
	return nil
}

// AddModule adds a module to the roster and persists it.
func (rm *RosterManager) AddModule(mod ModuleConfig) error {
	if mod.Code == "" {
		return fmt.Errorf("module code cannot be empty")
	}
	if mod.Path == "" {
		return fmt.Errorf("module path cannot be empty")
	}

	now := time.Now()
	if mod.CreatedAt.IsZero() {
		mod.CreatedAt = now
	}
	mod.UpdatedAt = now
	mod.Enabled = true

	rm.config.Modules[mod.Code] = mod
	return rm.Save()
}

// RemoveModule removes a module from the roster and persists the change.
func (rm *RosterManager) RemoveModule(code string) error {
	if _, exists := rm.config.Modules[code]; !exists {
		return fmt.Errorf("module %s not found", code)
	}
	delete(rm.config.Modules, code)
	return rm.Save()
}

// GetModule retrieves a module by code.
func (rm *RosterManager) GetModule(code string) (ModuleConfig, bool) {
	mod, exists := rm.config.Modules[code]
	return mod, exists
}

// EnabledModules returns the modules the worker should load.
func (rm *RosterManager) EnabledModules() map[string]ModuleConfig {
	enabled := make(map[string]ModuleConfig)
	for code, mod := range rm.config.Modules {
		if mod.Enabled {
			enabled[code] = mod
		}
	}
	return enabled
}

// EnabledWorkers returns the worker processes the supervisor should run.
func (rm *RosterManager) EnabledWorkers() map[string]WorkerConfig {
	enabled := make(map[string]WorkerConfig)
	for id, w := range rm.config.Workers {
		if w.Enabled {
			enabled[id] = w
		}
	}
	return enabled
}

// SetModuleEnabled flips a module's enabled flag and persists it.
func (rm *RosterManager) SetModuleEnabled(code string, enabled bool) error {
	mod, exists := rm.config.Modules[code]
	if !exists {
		return fmt.Errorf("module %s not found", code)
	}
	mod.Enabled = enabled
	mod.UpdatedAt = time.Now()
	rm.config.Modules[code] = mod
	return rm.Save()
}
