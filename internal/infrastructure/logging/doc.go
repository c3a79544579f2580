// Package logging provides structured logging for pipresencemon.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon.
//
// # Features
//
//   - Text output for the systemd journal (default)
//   - JSON output for log shippers
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("occupancy changed", "occupied", true)
//	logger.Error("failed to launch", "error", err)
//
// # Security
//
// Never log the MQTT password or the InfluxDB token.
package logging
