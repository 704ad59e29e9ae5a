package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertExchangeFailureSpike AlertType = "exchange_failure_spike"
	AlertRefreshFailureSpike  AlertType = "refresh_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	// Sliding window for failed code exchanges.
	exchangeFailures  []time.Time
	exchangeWindow    time.Duration
	exchangeThreshold int

	// Sliding window for failed refresh attempts.
	refreshFailures  []time.Time
	refreshWindow    time.Duration
	refreshThreshold int

	alertFn AlertFunc
}

const (
	defaultExchangeFailureWindow    = 1 * time.Minute
	defaultExchangeFailureThreshold = 50
	defaultRefreshFailureWindow     = 5 * time.Minute
	defaultRefreshFailureThreshold  = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		exchangeWindow:    defaultExchangeFailureWindow,
		exchangeThreshold: defaultExchangeFailureThreshold,
		refreshWindow:     defaultRefreshFailureWindow,
		refreshThreshold:  defaultRefreshFailureThreshold,
		alertFn:           alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditExchangeFailure:
		m.recordExchangeFailure()
	case AuditRefreshFailure:
		m.recordRefreshFailure()
	}
}

func (m *metricsCollector) recordExchangeFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.exchangeFailures = append(m.exchangeFailures, now)
	m.exchangeFailures = trimWindow(m.exchangeFailures, now, m.exchangeWindow)

	if len(m.exchangeFailures) >= m.exchangeThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertExchangeFailureSpike,
			Message:   "code exchange failure rate exceeds threshold",
			Count:     len(m.exchangeFailures),
			Threshold: m.exchangeThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.exchangeFailures = m.exchangeFailures[:0]
	}
}

func (m *metricsCollector) recordRefreshFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.refreshFailures = append(m.refreshFailures, now)
	m.refreshFailures = trimWindow(m.refreshFailures, now, m.refreshWindow)

	if len(m.refreshFailures) >= m.refreshThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertRefreshFailureSpike,
			Message:   "refresh token failure rate exceeds threshold",
			Count:     len(m.refreshFailures),
			Threshold: m.refreshThreshold,
			Timestamp: now,
		})
		m.refreshFailures = m.refreshFailures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
