// Package logging provides structured logging with per-module log level
// configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to a ring buffer served by the status API
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"detector":  "debug",  // Per-module overrides
//			"lifecycle": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("lifecycle")
//	logger.Info("Drain started", "reason", reason)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("detector").With("module", code)
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t workerd              # All workerd logs
//	journalctl -t workerd -f           # Follow live
//	journalctl -t workerd -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t workerd MODULE=lifecycle
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	detector = "debug"
//	api = "warn"
package logging
