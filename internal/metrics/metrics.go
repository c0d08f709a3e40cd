package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Ledger
	TransactionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transaction_requests_total",
			Help: "Transaction requests submitted by users",
		},
		[]string{"type"}, // deposit|withdrawal
	)
	TransactionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transaction_decisions_total",
			Help: "Pending requests approved or rejected",
		},
		[]string{"status"},
	)
	AdminTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_admin_transactions_total",
			Help: "Transactions created directly by administrators",
		},
		[]string{"type"},
	)

	// Batch adjustments
	BatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_batch_runs_total",
			Help: "Batch adjustment runs by final status",
		},
		[]string{"status"},
	)
	BatchUsersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_batch_users_total",
			Help: "Per-user batch adjustments by outcome",
		},
		[]string{"outcome"}, // processed|failed|skipped
	)

	// Market rates
	MarketRateWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_market_rate_writes_total",
			Help: "Market rate writes",
		},
		[]string{"operation"}, // create|update|duplicate
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	initOnce sync.Once
)

// Handler serves /metrics
var Handler = promhttp.Handler

// Init registers every collector with the default registry
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestLatency,
			TransactionRequestsTotal,
			TransactionDecisionsTotal,
			AdminTransactionsTotal,
			BatchRunsTotal,
			BatchUsersTotal,
			MarketRateWritesTotal,
			WorkerQueueDepth,
		)
	})
}
