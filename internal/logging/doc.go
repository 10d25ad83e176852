// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Keeps the most recent entries in a ring buffer served by the status API
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"session": "debug",  // Per-module overrides
//			"api":     "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("transport")
//	logger.Info("Consumer connected", "path", path)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("session").With("session_id", id)
//	logger.Info("Format negotiated")  // Includes session_id in all logs
//
// Levels can be changed while running with UpdateLevels, which the config
// watcher calls when the configuration file changes.
//
// # Viewing Logs
//
// When running under systemd or on a system with journald:
//
//	journalctl -t pwmirror -f
//	journalctl -t pwmirror MODULE=session
//	journalctl -t pwmirror SESSION_ID=<uuid>
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	session = "debug"
//	stage = "warn"
package logging
