package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chainwatch/internal/core"
)

// StatusHealthy is the GetStatus value of a passing check.
const StatusHealthy = "Healthy"

var _ core.IHealthMonitor = (*HealthManager)(nil)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
	last   map[string]bool
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks: make(map[string]func() error),
		last:   make(map[string]bool),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
	hm.last[component] = true
}

// Components returns the registered component names, sorted
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	status := make(map[string]string, len(hm.checks))
	for component, check := range hm.checks {
		err := check()
		hm.noteLocked(component, err)
		if err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = StatusHealthy
		}
	}
	return status
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	healthy := true
	for component, check := range hm.checks {
		err := check()
		hm.noteLocked(component, err)
		if err != nil {
			healthy = false
		}
	}
	return healthy
}

// noteLocked logs transitions between healthy and unhealthy
func (hm *HealthManager) noteLocked(component string, err error) {
	ok := err == nil
	if hm.last[component] == ok {
		return
	}
	hm.last[component] = ok
	if hm.logger == nil {
		return
	}
	if ok {
		hm.logger.Info("Component recovered", "target", component)
	} else {
		hm.logger.Warn("Component unhealthy", "target", component, "error", err.Error())
	}
}

// FreshnessCheck fails when the time reported by lastSuccess is older than
// maxAge according to now, or when nothing has succeeded yet.
func FreshnessCheck(now, lastSuccess func() time.Time, maxAge time.Duration) func() error {
	return func() error {
		t := lastSuccess()
		if t.IsZero() {
			return fmt.Errorf("no successful update yet")
		}
		if age := now().Sub(t); age > maxAge {
			return fmt.Errorf("last update %s ago exceeds %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
