package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/fuel-ledger/expense"
)

// Registered on the default registry and served at /metrics.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuel_http_requests_total",
		Help: "Total HTTP requests processed, labeled by route and status code",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fuel_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	rechargeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuel_recharge_transitions_total",
		Help: "Recharge workflow actions, labeled by action and outcome",
	}, []string{"action", "outcome"})

	importLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuel_import_lines_total",
		Help: "Imported rows, labeled by line state",
	}, []string{"state"})

	importJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuel_import_jobs_total",
		Help: "Finished import jobs, labeled by final state",
	}, []string{"state"})

	cardsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fuel_cards_expired_total",
		Help: "Cards moved to expired by the scheduler",
	})
)

func observeLine(l expense.BatchLine) {
	importLinesTotal.WithLabelValues(string(l.State)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "refused"
	}
	return "ok"
}
