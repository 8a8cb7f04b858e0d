// Package logging wraps log/slog with the daemon's defaults: JSON or
// text output, level filtering, and service/version fields on every
// record.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("device started", "device", id)
//
// Never log secrets or tokens.
package logging
