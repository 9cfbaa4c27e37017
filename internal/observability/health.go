package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker performs health checks on system components.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.checks[name] = checkFunc
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health

		// Update overall status
		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler for health checks.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		// Set HTTP status based on health
		switch response.Status {
		case HealthStatusOK:
			w.WriteHeader(http.StatusOK)
		case HealthStatusDegraded:
			w.WriteHeader(http.StatusOK) // Still 200 but degraded
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// Common health check functions

// ServerPinger is the minimal capability a health check needs from a
// BlobStore adapter (satisfied by blobstore.Store.Ping).
type ServerPinger interface {
	Ping(ctx context.Context) error
}

// BlobStoreCheck probes one configured server's BlobStore and reports
// its reachability and latency.
func BlobStoreCheck(serverID string, store ServerPinger) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := store.Ping(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:    HealthStatusUnhealthy,
				Message:   fmt.Sprintf("server %s unreachable: %v", serverID, err),
				LatencyMS: latency,
			}
		}
		return ComponentHealth{
			Status:    HealthStatusOK,
			Message:   fmt.Sprintf("server %s reachable", serverID),
			LatencyMS: latency,
		}
	}
}

// ManifestCacheCheck checks the bbolt-backed manifest name->id cache is
// openable and responsive.
func ManifestCacheCheck(pingFunc func(ctx context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := pingFunc(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:    HealthStatusDegraded,
				Message:   fmt.Sprintf("manifest cache unavailable: %v", err),
				LatencyMS: latency,
			}
		}
		return ComponentHealth{
			Status:    HealthStatusOK,
			Message:   "manifest cache responsive",
			LatencyMS: latency,
		}
	}
}

// JournalCheck checks the SQLite operation journal's connectivity.
func JournalCheck(pingFunc func(ctx context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := pingFunc(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:    HealthStatusDegraded,
				Message:   fmt.Sprintf("operation journal unavailable: %v", err),
				LatencyMS: latency,
			}
		}

		status := HealthStatusOK
		message := "journal responsive"
		if latency > 50 {
			status = HealthStatusDegraded
			message = "journal slow"
		}
		return ComponentHealth{
			Status:    status,
			Message:   message,
			LatencyMS: latency,
		}
	}
}

// ReplicationCheck reports degraded/unhealthy status from the last
// repair/verify pass's chunk health counts.
func ReplicationCheck(countsFunc func() (healthy, degraded, critical, lost int)) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		healthy, degraded, critical, lost := countsFunc()
		switch {
		case lost > 0:
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("%d chunks lost, %d critical, %d degraded, %d healthy", lost, critical, degraded, healthy),
			}
		case critical > 0:
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("%d chunks critical, %d degraded, %d healthy", critical, degraded, healthy),
			}
		case degraded > 0:
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("%d chunks degraded, %d healthy", degraded, healthy),
			}
		default:
			return ComponentHealth{
				Status:  HealthStatusOK,
				Message: fmt.Sprintf("%d chunks healthy", healthy),
			}
		}
	}
}
