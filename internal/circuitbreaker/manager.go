package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// OrderEvents guards publishing to the order events topic.
const OrderEvents = "order-events"

// profiles tunes the breakers the portal knows by name. Other names get the
// package defaults applied by New.
var profiles = map[string]Config{
	OrderEvents: {MaxFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1},
}

// Health is one breaker as reported by the health endpoint.
type Health struct {
	State              string  `json:"state"`
	Failures           int     `json:"failures"`
	MaxFailures        int     `json:"max_failures"`
	TotalRequests      int64   `json:"total_requests"`
	TotalFailures      int64   `json:"total_failures"`
	TotalSuccesses     int64   `json:"total_successes"`
	TotalRejected      int64   `json:"total_rejected"`
	StateChanges       int64   `json:"state_changes"`
	OpenTimeoutSeconds float64 `json:"open_timeout_s"`
}

// Manager hands out the named breakers of one process. Every breaker it
// creates logs its state changes.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// Breaker returns the breaker called name, creating it from its profile on
// first use.
func (m *Manager) Breaker(name string) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	config := profiles[name]
	config.Name = name
	config.OnStateChange = m.logStateChange
	breaker := New(config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

func (m *Manager) logStateChange(name string, from, to State) {
	entry := m.logger.WithFields(logrus.Fields{
		"circuit_breaker": name,
		"from":            from.String(),
		"to":              to.String(),
	})
	if to == StateOpen {
		entry.Warn("Circuit opened, calls will fail fast")
		return
	}
	entry.Info("Circuit state changed")
}

// Health reports every breaker and whether any of them is open.
func (m *Manager) Health() (map[string]Health, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	report := make(map[string]Health, len(m.breakers))
	degraded := false
	for name, breaker := range m.breakers {
		h := breaker.health()
		if h.State == StateOpen.String() {
			degraded = true
		}
		report[name] = h
	}
	return report, degraded
}

func (cb *CircuitBreaker) health() Health {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return Health{
		State:              cb.state.String(),
		Failures:           cb.failures,
		MaxFailures:        cb.maxFailures,
		TotalRequests:      cb.totalRequests,
		TotalFailures:      cb.totalFailures,
		TotalSuccesses:     cb.totalSuccesses,
		TotalRejected:      cb.totalRejected,
		StateChanges:       cb.stateChanges,
		OpenTimeoutSeconds: cb.openTimeout.Seconds(),
	}
}
