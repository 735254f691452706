package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ExpiryFunc reports the current session's expiry in Unix milliseconds,
// or ok=false when there is no session.
type ExpiryFunc func() (expiresAt int64, ok bool)

// ExpiryCollector exports the session expiry time, read at scrape time.
type ExpiryCollector struct {
	fn   ExpiryFunc
	desc *prometheus.Desc
}

var _ prometheus.Collector = (*ExpiryCollector)(nil)

// NewExpiryCollector creates a collector backed by fn.
func NewExpiryCollector(fn ExpiryFunc) *ExpiryCollector {
	return &ExpiryCollector{
		fn: fn,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "expires_at_seconds"),
			"Unix time at which the current session expires",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ExpiryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector. Nothing is emitted without a
// session.
func (c *ExpiryCollector) Collect(ch chan<- prometheus.Metric) {
	expiresAt, ok := c.fn()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(expiresAt)/1000)
}
