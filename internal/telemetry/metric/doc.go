// Package metric provides Prometheus metrics for tabsession.
//
// Metrics include:
//
//   - Lock acquisition outcomes
//   - Token exchanges by grant and result, with latency
//   - Session expirations and cross-tab syncs
//   - Whether the tab is authenticated and when its session expires
//
// A nil *Metrics is valid and records nothing, so components can take
// metrics as an optional dependency.
package metric
