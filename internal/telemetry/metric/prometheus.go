package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabsession"

// Lock acquisition results.
const (
	LockGranted = "granted"
	LockDenied  = "denied"
	LockError   = "error"
)

// Token exchange grants and results.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds all application metrics.
type Metrics struct {
	LockAcquisitions *prometheus.CounterVec
	LockReleases     prometheus.Counter

	Exchanges        *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	BreakerChanges   *prometheus.CounterVec

	Expirations   prometheus.Counter
	Syncs         prometheus.Counter
	Authenticated prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LockAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Lock acquisition attempts by result",
		}, []string{"result"}),
		LockReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "releases_total",
			Help:      "Locks released by their holder",
		}),
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "exchanges_total",
			Help:      "Token endpoint exchanges by grant and result",
		}, []string{"grant", "result"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "exchange_duration_seconds",
			Help:      "Token endpoint exchange latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grant"}),
		BreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by target state",
		}, []string{"state"}),
		Expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expirations_total",
			Help:      "Sessions dropped because they expired",
		}),
		Syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "syncs_total",
			Help:      "Session changes adopted from other tabs",
		}),
		Authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 when this tab holds a session, 0 otherwise",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LockAcquisitions,
			m.LockReleases,
			m.Exchanges,
			m.ExchangeDuration,
			m.BreakerChanges,
			m.Expirations,
			m.Syncs,
			m.Authenticated,
		)
	}
	return m
}

// Handler returns an HTTP handler exposing the metrics in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LockAcquired records an acquisition attempt.
func (m *Metrics) LockAcquired(result string) {
	if m == nil {
		return
	}
	m.LockAcquisitions.WithLabelValues(result).Inc()
}

// LockReleased records a release.
func (m *Metrics) LockReleased() {
	if m == nil {
		return
	}
	m.LockReleases.Inc()
}

// Exchange records a finished token exchange.
func (m *Metrics) Exchange(grant string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.Exchanges.WithLabelValues(grant, result).Inc()
	m.ExchangeDuration.WithLabelValues(grant).Observe(elapsed.Seconds())
}

// BreakerChanged records a circuit breaker transition.
func (m *Metrics) BreakerChanged(to string) {
	if m == nil {
		return
	}
	m.BreakerChanges.WithLabelValues(to).Inc()
}

// Expired records a session expiry.
func (m *Metrics) Expired() {
	if m == nil {
		return
	}
	m.Expirations.Inc()
}

// Synced records a session change adopted from another tab.
func (m *Metrics) Synced() {
	if m == nil {
		return
	}
	m.Syncs.Inc()
}

// SetAuthenticated sets the authenticated gauge.
func (m *Metrics) SetAuthenticated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Authenticated.Set(1)
	} else {
		m.Authenticated.Set(0)
	}
}
