package llamaglue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	grammarLoads       *prometheus.CounterVec
	grammarLoadSeconds prometheus.Histogram
	pieceRetries       prometheus.Counter
	pieceErrors        prometheus.Counter
	cacheHits          prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		grammarLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llamaglue_grammar_loads_total",
			Help: "Grammar loads by result (ok, io, parse, contract).",
		}, []string{"result"}),
		grammarLoadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "llamaglue_grammar_load_seconds",
			Help:    "Time spent reading, parsing and initialising a grammar.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		pieceRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "llamaglue_piece_retries_total",
			Help: "Token decodes that needed a second, larger buffer.",
		}),
		pieceErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "llamaglue_piece_errors_total",
			Help: "Token decodes that failed the size contract.",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "llamaglue_grammar_cache_hits_total",
			Help: "Grammar cache lookups served without reloading.",
		}),
	}
}
