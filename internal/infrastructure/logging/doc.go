// Package logging provides structured logging for Colour Lab Core.
//
// It wraps log/slog so every component logs with the same handler and
// default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	sched := scheduler.New(lab, strategies, opts, bus, logger.Component("scheduler"))
//
// Never log advisor API keys or JWT secrets.
package logging
