package cmdlog

import (
	"time"

	"trendpost/internal/apperr"
	"trendpost/internal/logging"
	"trendpost/internal/metrics"
)

// Run executes one bot command with metrics and a log line. fields are
// added to the log entry (request id, user id).
func Run(cmd string, fields map[string]any, f func() error) error {
	start := time.Now()
	metrics.CommandRuns.WithLabelValues(cmd).Inc()
	err := f()
	metrics.ObserveCommand(cmd, start)
	out := map[string]any{"command": cmd, "duration_ms": time.Since(start).Milliseconds()}
	for k, v := range fields {
		out[k] = v
	}
	if err != nil {
		kind := apperr.Kind(err)
		metrics.CommandErrors.WithLabelValues(cmd, kind).Inc()
		out["error"] = err.Error()
		out["kind"] = kind
		// user mistakes are expected traffic, not failures
		switch kind {
		case "usage", "state", "invalid_selection", "not_found":
			logging.Info(cmd+"_rejected", out)
		default:
			logging.Error(cmd+"_error", out)
		}
	} else {
		logging.Info(cmd+"_ok", out)
	}
	return err
}
