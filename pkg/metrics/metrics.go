package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Identity CLI invocations
	GatewayCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_gateway_calls_total",
		Help: "Total number of identity CLI invocations by command and outcome",
	}, []string{"command", "outcome"})
	GatewayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sessionctl_gateway_call_duration_seconds",
		Help:    "Duration of identity CLI invocations",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"command"})
	GatewayRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_gateway_retries_total",
		Help: "Total number of identity CLI invocations retried after a timeout",
	}, []string{"command"})

	// Token inspection
	TokenInspections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_token_inspections_total",
		Help: "Total number of token store inspections by resulting status",
	}, []string{"status"})

	// Cache lookups. The kind label is the key class (auth, orgs, projects, ...),
	// never the full key, to keep cardinality bounded.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_cache_hits_total",
		Help: "Total number of cache hits by key class",
	}, []string{"kind"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_cache_misses_total",
		Help: "Total number of cache misses by key class",
	}, []string{"kind"})
	CacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_cache_invalidations_total",
		Help: "Total number of cache invalidations by scope (key, prefix, all)",
	}, []string{"scope"})

	// Entity resolution
	EntityFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_entity_fetches_total",
		Help: "Total number of entity list fetches by entity and source (accelerator, cli)",
	}, []string{"entity", "source"})
	AcceleratorFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_accelerator_fallbacks_total",
		Help: "Total number of times an accelerator failure fell back to the identity CLI",
	}, []string{"entity"})

	// Corruption recovery
	RecoveryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionctl_recovery_attempts_total",
		Help: "Total number of token corruption recovery attempts",
	})
	RecoveryOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_recovery_outcomes_total",
		Help: "Token corruption recovery outcomes by final step and result",
	}, []string{"step", "result"})

	// Session state machine
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_session_transitions_total",
		Help: "Total number of session state transitions",
	}, []string{"from", "to"})
	SessionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionctl_session_errors_total",
		Help: "Total number of errors surfaced by the session orchestrator by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(GatewayCalls)
	prometheus.MustRegister(GatewayDuration)
	prometheus.MustRegister(GatewayRetries)
	prometheus.MustRegister(TokenInspections)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheInvalidations)
	prometheus.MustRegister(EntityFetches)
	prometheus.MustRegister(AcceleratorFallbacks)
	prometheus.MustRegister(RecoveryAttempts)
	prometheus.MustRegister(RecoveryOutcomes)
	prometheus.MustRegister(SessionTransitions)
	prometheus.MustRegister(SessionErrors)
}

// WriteTextfile writes the default registry to path in the text exposition
// format, suitable for the node exporter textfile collector. A CLI process is
// too short-lived to be scraped, so this is how its metrics leave the process.
func WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics textfile path is required")
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
