/*
Package metrics provides Prometheus metrics collection and exposition for
percokv.

The metrics package defines and registers every percokv metric using the
Prometheus client library, giving observability into the storage engine,
timestamp oracle, transaction outcomes, Raft replication, and the RPC
surface. Metrics are exposed via an HTTP endpoint for scraping.

# Metrics Catalog

Engine Metrics:

percokv_engine_keys_total{engine}:
  - Type: Gauge
  - Description: Total number of live keys held by an engine instance
  - Labels: engine ("data", "lock", "write")

percokv_engine_uncompacted_bytes{engine}:
  - Type: Gauge
  - Description: Stale bytes on disk eligible for compaction

percokv_engine_compactions_total{engine}:
  - Type: Counter
  - Description: Total number of compaction passes run by an engine instance

percokv_engine_compaction_duration_seconds{engine}:
  - Type: Histogram
  - Description: Time taken to run a single compaction pass

Timestamp Oracle Metrics:

percokv_oracle_timestamps_issued_total:
  - Type: Counter
  - Description: Total number of timestamps handed out by the oracle

percokv_oracle_last_timestamp:
  - Type: Gauge
  - Description: Most recently issued timestamp

Transaction Metrics:

percokv_txn_commits_total:
  - Type: Counter
  - Description: Total number of transactions committed

percokv_txn_aborts_total{reason}:
  - Type: Counter
  - Description: Total number of transactions aborted, by reason
    ("prewrite", "commit_primary")

percokv_txn_locks_cleaned_total:
  - Type: Counter
  - Description: Total number of stale locks rolled forward or back by readers

percokv_txn_prewrite_duration_seconds:
  - Type: Histogram
  - Description: Time taken to prewrite a transaction's write set

percokv_txn_commit_duration_seconds:
  - Type: Histogram
  - Description: Time taken to commit a transaction's primary and secondary keys

Raft Replica Metrics:

percokv_raft_is_leader:
  - Type: Gauge
  - Description: Whether this replica is the Raft leader (1=leader, 0=follower)

percokv_raft_term:
  - Type: Gauge
  - Description: Current Raft term observed by this replica

percokv_raft_last_log_index:
  - Type: Gauge
  - Description: Last Raft log index on this replica

percokv_raft_applied_index:
  - Type: Gauge
  - Description: Last Raft log index applied to the local FSM

percokv_raft_apply_duration_seconds:
  - Type: Histogram
  - Description: Time taken for a proposed command to be applied to the FSM

RPC Metrics:

percokv_rpc_requests_total{method, status}:
  - Type: Counter
  - Description: Total number of RPC requests by method and status
  - Labels: method (GetTimestamp, Get, Prewrite, Commit), status (ok,
    key_not_found, not_leader, duplicated_request, timeout, aborted,
    transport_error, unknown)

percokv_rpc_request_duration_seconds{method}:
  - Type: Histogram
  - Description: RPC request duration in seconds

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/percokv/pkg/metrics"

	metrics.OracleLastTimestamp.Set(float64(ts))
	metrics.RaftIsLeader.Set(1)

Updating Counter Metrics:

	metrics.TxnCommitsTotal.Inc()
	metrics.TxnAbortsTotal.WithLabelValues("prewrite").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.TxnCommitDuration)

Exposing the Endpoint:

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", nil)

# Integration Points

This package integrates with:

  - pkg/engine, pkg/engine/boltengine: compaction and key-count gauges
  - pkg/oracle: timestamp issuance counters
  - pkg/txn: commit/abort/lock-cleanup counters and duration histograms
  - pkg/raftstore: Raft replica gauges, refreshed by Collector
  - pkg/rpc: request counters and latency histograms via MetricsInterceptor

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Labels are bounded (engine name, RPC method, abort/status reason)
  - No per-key or per-transaction labels: those are unbounded cardinality
    and belong in structured logs (pkg/log), not metric labels
*/
package metrics
