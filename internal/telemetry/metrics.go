// Package telemetry provides low-overhead Prometheus instrumentation for
// the transaction engine. All observe functions are safe to call from hot
// paths; they bottom out in atomic counter increments.
//
// Registration happens eagerly at init. If no /metrics endpoint is exposed
// the registration is harmless; call StartMetricsEndpoint to serve one.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	appendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gte_appends_total",
		Help: "Total append operations by storage variant and outcome",
	}, []string{"variant", "outcome"})

	appendLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gte_append_latency_ms",
		Help:    "End-to-end append latency in milliseconds, retries included",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 50, 100, 250},
	})

	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gte_cas_conflicts_total",
		Help: "CAS conflicts resolved by the retry loops, by document kind",
	}, []string{"document"})

	transientRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gte_transient_retries_total",
		Help: "Retries caused by transient store failures (not conflicts)",
	})

	orphanDetailsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gte_orphan_details_total",
		Help: "Transaction detail documents left behind after compensation failed; must stay 0 in normal runs",
	})

	readsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gte_round_reads_total",
		Help: "Round reads by outcome (ok, degraded, error)",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(appendsTotal, appendLatencyMs, conflictsTotal,
		transientRetriesTotal, orphanDetailsTotal, readsTotal)
}

// ObserveAppend records one completed append attempt (successful or not).
func ObserveAppend(variant string, success bool, ms float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	appendsTotal.WithLabelValues(variant, outcome).Inc()
	appendLatencyMs.Observe(ms)
}

// ObserveConflicts adds n resolved conflicts for the given document kind
// ("round" or "detail").
func ObserveConflicts(document string, n int) {
	if n > 0 {
		conflictsTotal.WithLabelValues(document).Add(float64(n))
	}
}

// ObserveTransients adds n transient-failure retries.
func ObserveTransients(n int) {
	if n > 0 {
		transientRetriesTotal.Add(float64(n))
	}
}

// ObserveOrphan records a detail document orphaned by failed compensation.
func ObserveOrphan() { orphanDetailsTotal.Inc() }

// ObserveRead records one round read.
func ObserveRead(outcome string) { readsTotal.WithLabelValues(outcome).Inc() }

// StartMetricsEndpoint exposes /metrics on addr in a background goroutine.
func StartMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
