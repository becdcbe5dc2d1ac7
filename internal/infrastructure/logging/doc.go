// Package logging provides the relay's structured logger, a thin layer
// over log/slog.
//
// Every entry carries service and version. Components tag themselves with
// Component so a daemon log can be filtered per subsystem:
//
//	log := logging.New(cfg.Logging, version)
//	relayLog := log.Component("relay")
//	relayLog.Info("austin ready", "run_id", id, "sampler_pid", pid)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout or a file path
//
// Sample lines are never logged above debug level; they can be large and
// arrive at the sampling rate.
package logging
