// Package metrics exposes bar activity as prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/orchestrator"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "divebar"

// Collector is an orchestrator.Sink that updates prometheus metrics. Each
// collector owns its registry so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal         *prometheus.CounterVec
	regenerationsTotal *prometheus.CounterVec
	patternsTotal      *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	diversityScore     *prometheus.HistogramVec
	attempts           *prometheus.HistogramVec
	generationDuration *prometheus.HistogramVec
}

var _ orchestrator.Sink = (*Collector)(nil)

// NewCollector creates a collector with its metrics registered
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Finalized turns by speaker and kind",
			},
			[]string{"speaker", "kind"},
		),
		regenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regenerations_total",
				Help:      "Rejected candidates that triggered a regeneration",
			},
			[]string{"persona"},
		),
		patternsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patterns_recorded_total",
				Help:      "Pattern store writes by category",
			},
			[]string{"category"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens used by persona turns, including rejected attempts",
			},
			[]string{"persona", "type"},
		),
		diversityScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "diversity_score",
				Help:      "Diversity score of accepted persona turns",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"persona"},
		),
		attempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "regeneration_attempts",
				Help:      "Regenerations needed per accepted persona turn",
				Buckets:   []float64{0, 1, 2, 3, 5},
			},
			[]string{"persona"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_generation_seconds",
				Help:      "Wall time spent generating a persona turn",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"persona"},
		),
	}
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TurnFinalized(turn conversation.Turn) {
	c.turnsTotal.WithLabelValues(turn.Speaker, string(turn.Kind)).Inc()
	if turn.Kind != conversation.KindPersona {
		return
	}
	c.diversityScore.WithLabelValues(turn.Speaker).Observe(turn.Meta.DiversityScore)
	c.attempts.WithLabelValues(turn.Speaker).Observe(float64(turn.Meta.Attempts))
	c.generationDuration.WithLabelValues(turn.Speaker).Observe(turn.Meta.Latency.Seconds())
	c.tokensTotal.WithLabelValues(turn.Speaker, "prompt").Add(float64(turn.Meta.PromptTokens))
	c.tokensTotal.WithLabelValues(turn.Speaker, "completion").Add(float64(turn.Meta.CompletionTokens))
}

func (c *Collector) Regenerated(rec orchestrator.RegenerationRecord) {
	c.regenerationsTotal.WithLabelValues(rec.Persona).Inc()
}

func (c *Collector) PatternRecorded(up orchestrator.PatternUpsert) {
	c.patternsTotal.WithLabelValues(string(up.Pattern.Category)).Inc()
}
