package observability

import (
	"context"
	"log/slog"
	"time"
)

// readinessTimeout bounds one full round of dependency checks.
const readinessTimeout = 3 * time.Second

// HealthChecker runs named dependency probes for the readiness endpoint.
// Liveness is unconditional: a running process is alive.
type HealthChecker struct {
	names  []string
	probes map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the JSON response for health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // error text on failure
}

// NewHealthChecker creates an empty checker; probes are added during wiring.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		probes: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a probe under a name. Registration order is preserved
// in log output but not significant.
func (h *HealthChecker) AddCheck(name string, probe func(ctx context.Context) error) {
	if _, exists := h.probes[name]; !exists {
		h.names = append(h.names, name)
	}
	h.probes[name] = probe
}

// CheckHealth reports liveness.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every probe and aggregates the results. The status is
// "ok" only when all probes pass and "degraded" otherwise; individual
// failures are reported per check.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.names) == 0 {
		return HealthStatus{Status: "ok"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	out := HealthStatus{Status: "ok", Checks: make(map[string]CheckResult, len(h.names))}
	for _, name := range h.names {
		err := h.probes[name](probeCtx)
		if err == nil {
			out.Checks[name] = CheckResult{Status: "ok"}
			continue
		}
		out.Status = "degraded"
		out.Checks[name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return out
}
