// Package metrics defines Prometheus metrics for sessionctl, covering identity
// CLI invocations, cache lookups, accelerator fallbacks, corruption recovery,
// and session state transitions.
package metrics
