package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// recordsTotal counts decoded call records.
	// Labels: outcome (known, learned, dropped)
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callsig",
		Subsystem: "server",
		Name:      "records_total",
		Help:      "Call records received, by outcome",
	}, []string{"outcome"})

	// rejectedTotal counts lines that did not produce a record.
	// Labels: reason (malformed, skipped)
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callsig",
		Subsystem: "server",
		Name:      "rejected_lines_total",
		Help:      "Input lines that did not produce a call record",
	}, []string{"reason"})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callsig",
		Subsystem: "server",
		Name:      "flushes_total",
		Help:      "Successful flushes of new learnings to storage",
	})

	flushErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callsig",
		Subsystem: "server",
		Name:      "flush_errors_total",
		Help:      "Flushes that failed; their learnings were dropped",
	})

	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "callsig",
		Subsystem: "server",
		Name:      "flush_duration_seconds",
		Help:      "Time to write one batch of learnings to storage",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "callsig",
		Subsystem: "server",
		Name:      "active_connections",
		Help:      "Agent connections currently open",
	})
)
