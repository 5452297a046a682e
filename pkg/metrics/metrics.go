package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	EngineKeysTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "percokv_engine_keys_total",
			Help: "Total number of live keys held by an engine instance",
		},
		[]string{"engine"},
	)

	EngineUncompactedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "percokv_engine_uncompacted_bytes",
			Help: "Stale bytes on disk eligible for compaction",
		},
		[]string{"engine"},
	)

	EngineCompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percokv_engine_compactions_total",
			Help: "Total number of compaction passes run by an engine instance",
		},
		[]string{"engine"},
	)

	EngineCompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "percokv_engine_compaction_duration_seconds",
			Help:    "Time taken to run a single compaction pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	// Timestamp oracle metrics
	OracleTimestampsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "percokv_oracle_timestamps_issued_total",
			Help: "Total number of timestamps handed out by the oracle",
		},
	)

	OracleLastTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percokv_oracle_last_timestamp",
			Help: "Most recently issued timestamp",
		},
	)

	// Transaction metrics
	TxnCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "percokv_txn_commits_total",
			Help: "Total number of transactions committed",
		},
	)

	TxnAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percokv_txn_aborts_total",
			Help: "Total number of transactions aborted, by reason",
		},
		[]string{"reason"},
	)

	TxnLocksCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "percokv_txn_locks_cleaned_total",
			Help: "Total number of stale locks rolled forward or back by readers",
		},
	)

	TxnPrewriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "percokv_txn_prewrite_duration_seconds",
			Help:    "Time taken to prewrite a transaction's write set",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxnCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "percokv_txn_commit_duration_seconds",
			Help:    "Time taken to commit a transaction's primary and secondary keys",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft replica metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percokv_raft_is_leader",
			Help: "Whether this replica is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percokv_raft_term",
			Help: "Current Raft term observed by this replica",
		},
	)

	RaftLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percokv_raft_last_log_index",
			Help: "Last Raft log index on this replica",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percokv_raft_applied_index",
			Help: "Last Raft log index applied to the local FSM",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "percokv_raft_apply_duration_seconds",
			Help:    "Time taken for a proposed command to be applied to the FSM",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPC server metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percokv_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "percokv_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(EngineKeysTotal)
	prometheus.MustRegister(EngineUncompactedBytes)
	prometheus.MustRegister(EngineCompactionsTotal)
	prometheus.MustRegister(EngineCompactionDuration)

	prometheus.MustRegister(OracleTimestampsIssuedTotal)
	prometheus.MustRegister(OracleLastTimestamp)

	prometheus.MustRegister(TxnCommitsTotal)
	prometheus.MustRegister(TxnAbortsTotal)
	prometheus.MustRegister(TxnLocksCleanedTotal)
	prometheus.MustRegister(TxnPrewriteDuration)
	prometheus.MustRegister(TxnCommitDuration)

	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftLastLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
