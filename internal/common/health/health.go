// Package health aggregates liveness and readiness checks and serves them
// over HTTP in the /q/health layout.
package health

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/kitemq/kite/messaging"
)

// Status represents the health status of a component
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check represents a single health check result
type Check struct {
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// HealthResponse represents the health endpoint response
type HealthResponse struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

// CheckFunc is a function that performs a health check
type CheckFunc func() Check

// Checker manages health checks for the application
type Checker struct {
	mu              sync.RWMutex
	livenessChecks  []CheckFunc
	readinessChecks []CheckFunc
}

// NewChecker creates a new health checker
func NewChecker() *Checker {
	return &Checker{}
}

// AddLivenessCheck adds a liveness check
func (c *Checker) AddLivenessCheck(check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.livenessChecks = append(c.livenessChecks, check)
}

// AddReadinessCheck adds a readiness check
func (c *Checker) AddReadinessCheck(check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks = append(c.readinessChecks, check)
}

func (c *Checker) runChecks(checks []CheckFunc) HealthResponse {
	response := HealthResponse{
		Status: StatusUp,
		Checks: make([]Check, 0, len(checks)),
	}
	for _, checkFunc := range checks {
		check := checkFunc()
		response.Checks = append(response.Checks, check)
		if check.Status == StatusDown {
			response.Status = StatusDown
		}
	}
	return response
}

// GetLiveness returns the liveness status
func (c *Checker) GetLiveness() HealthResponse {
	c.mu.RLock()
	checks := c.livenessChecks
	c.mu.RUnlock()
	return c.runChecks(checks)
}

// GetReadiness returns the readiness status
func (c *Checker) GetReadiness() HealthResponse {
	c.mu.RLock()
	checks := c.readinessChecks
	c.mu.RUnlock()
	return c.runChecks(checks)
}

// GetHealth returns the combined health status
func (c *Checker) GetHealth() HealthResponse {
	c.mu.RLock()
	all := make([]CheckFunc, 0, len(c.livenessChecks)+len(c.readinessChecks))
	all = append(all, c.livenessChecks...)
	all = append(all, c.readinessChecks...)
	c.mu.RUnlock()
	return c.runChecks(all)
}

// HandleHealth handles the /q/health endpoint
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.writeResponse(w, c.GetHealth())
}

// HandleLive handles the /q/health/live endpoint
func (c *Checker) HandleLive(w http.ResponseWriter, r *http.Request) {
	response := c.GetLiveness()
	if len(response.Checks) == 0 {
		response.Status = StatusUp
	}
	c.writeResponse(w, response)
}

// HandleReady handles the /q/health/ready endpoint
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	response := c.GetReadiness()
	if len(response.Checks) == 0 {
		response.Status = StatusUp
	}
	c.writeResponse(w, response)
}

func (c *Checker) writeResponse(w http.ResponseWriter, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// TransportCheck reports whether a transport is connected
func TransportCheck(name string, state func() messaging.TransportState) CheckFunc {
	return func() Check {
		s := state()
		if s != messaging.TransportConnected {
			return Check{
				Name:   name,
				Status: StatusDown,
				Data:   map[string]any{"state": s.String()},
			}
		}
		return Check{Name: name, Status: StatusUp}
	}
}

// StorageCheck reports whether the storage backend answers pings
func StorageCheck(name string, ping func() error) CheckFunc {
	return func() Check {
		if err := ping(); err != nil {
			return Check{
				Name:   name,
				Status: StatusDown,
				Data:   map[string]any{"error": err.Error()},
			}
		}
		return Check{Name: name, Status: StatusUp}
	}
}

// SupervisorCheck reports whether every supervised service is healthy
func SupervisorCheck(healthFn func() error) CheckFunc {
	return func() Check {
		if err := healthFn(); err != nil {
			return Check{
				Name:   "services",
				Status: StatusDown,
				Data:   map[string]any{"error": err.Error()},
			}
		}
		return Check{Name: "services", Status: StatusUp}
	}
}
