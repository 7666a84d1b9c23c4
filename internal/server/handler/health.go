package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness and dependency status.
type HealthHandler struct {
	mode   string
	checks map[string]HealthCheck
	stats  func() any
	now    func() time.Time
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks and stats may be nil.
func NewHealthHandler(mode string, checks map[string]HealthCheck, stats func() any, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:   mode,
		checks: checks,
		stats:  stats,
		now:    time.Now,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck responds 200 when every dependency answers and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":       "ok",
		"mode":         h.mode,
		"dependencies": deps,
		"timestamp":    h.now().UTC().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.stats != nil {
		body["invalidation"] = h.stats()
	}
	writeJSON(w, status, body)
}
