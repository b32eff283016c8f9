package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"pdf-form-drop/internal/mirror"
)

// HealthStatus is the overall verdict.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus is the state of one dependency.
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
	ComponentStatusDisabled ComponentStatus = "disabled"
)

// Health is the /health response body.
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Commit     string                     `json:"commit,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth reports a single dependency.
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

const healthTimeout = 5 * time.Second

// handleHealth reports every component. Degraded still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

// handleReady fails while submissions cannot be written or the catalog is
// unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if c := s.checkStorage(); c.Status != ComponentStatusUp {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "message": c.Message})
		return
	}
	if s.catalog != nil {
		if err := s.catalog.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "message": "catalog unavailable"})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleLive answers as long as the process serves requests.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	health := Health{
		Timestamp: time.Now().UTC(),
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
		Components: map[string]ComponentHealth{
			"storage": s.checkStorage(),
			"catalog": s.checkCatalog(ctx),
			"mirror":  s.checkMirror(ctx),
		},
	}
	health.Status = overallHealth(health.Components)
	return health
}

// checkStorage creates and removes a probe file in the uploads root.
func (s *Server) checkStorage() ComponentHealth {
	start := time.Now()
	root := s.store.Root()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "uploads dir unavailable: " + err.Error()}
	}
	f, err := os.CreateTemp(root, ".health-*")
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "uploads dir not writable: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   "uploads dir writable",
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Details:   map[string]string{"root": root},
	}
}

func (s *Server) checkCatalog(ctx context.Context) ComponentHealth {
	if s.catalog == nil {
		return ComponentHealth{Status: ComponentStatusDisabled}
	}

	start := time.Now()
	if err := s.catalog.Ping(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "catalog ping failed: " + err.Error()}
	}

	n, err := s.catalog.Count(ctx)
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "catalog query failed: " + err.Error()}
	}

	latency := time.Since(start).Milliseconds()
	status, message := ComponentStatusUp, "catalog healthy"
	if latency > 1000 {
		status, message = ComponentStatusDegraded, "catalog latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   map[string]int64{"submissions": n},
	}
}

func (s *Server) checkMirror(ctx context.Context) ComponentHealth {
	if s.mirror == nil {
		return ComponentHealth{Status: ComponentStatusDisabled}
	}

	start := time.Now()
	if err := s.mirror.Check(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "mirror check failed: " + err.Error()}
	}

	latency := time.Since(start).Milliseconds()
	status, message := ComponentStatusUp, "mirror healthy"
	if latency > 2000 {
		status, message = ComponentStatusDegraded, "mirror latency high"
	}

	var details any
	if b, ok := s.mirror.(interface{ BreakerState() mirror.State }); ok {
		state := b.BreakerState()
		details = map[string]string{"breaker": state.String()}
		if state != mirror.StateClosed {
			status, message = ComponentStatusDegraded, "mirror circuit breaker "+state.String()
		}
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   details,
	}
}

// overallHealth is unhealthy if any component is down and degraded if any
// is degraded. Disabled components do not count.
func overallHealth(components map[string]ComponentHealth) HealthStatus {
	var down, degraded int
	for _, c := range components {
		switch c.Status {
		case ComponentStatusDown:
			down++
		case ComponentStatusDegraded:
			degraded++
		}
	}

	switch {
	case down > 0:
		return HealthStatusUnhealthy
	case degraded > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
