// Package metrics exports Prometheus counters for chat turns, provider calls
// and the session cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat turn outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeProviderError = "provider_error"
	OutcomeInvalid       = "invalid"
	OutcomeStoreError    = "store_error"
)

// Recorder owns a registry and the collectors registered on it.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	chatTurns        *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	titleGenerations *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

// New creates a recorder on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inara_chat_turns_total",
			Help: "Chat turns handled, by outcome.",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inara_provider_request_duration_seconds",
			Help:    "Latency of model provider calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		titleGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inara_title_generations_total",
			Help: "Automatic title generations, by result.",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inara_session_cache_lookups_total",
			Help: "Session cache lookups, by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		r.chatTurns,
		r.providerLatency,
		r.titleGenerations,
		r.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ChatTurn(outcome string) {
	if r == nil {
		return
	}
	r.chatTurns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ProviderCall(operation string, d time.Duration) {
	if r == nil {
		return
	}
	r.providerLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// TitleGeneration records "generated" or "fallback".
func (r *Recorder) TitleGeneration(result string) {
	if r == nil {
		return
	}
	r.titleGenerations.WithLabelValues(result).Inc()
}

func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
