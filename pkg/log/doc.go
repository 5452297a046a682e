// Package log wraps zerolog with the small set of conventions the rest of
// percokv relies on: a single process-wide Logger, JSON or console output
// selectable at startup, and component-scoped child loggers so a log line
// can always be traced back to the subsystem (engine, oracle, mvcc, txn,
// raftstore, rpc) and, where relevant, the replica or transaction that
// produced it.
//
// Call Init once during process startup with the parsed CLI flags. Every
// package-level helper (Info, Debug, Warn, Error, Fatal) and every
// component logger obtained via WithComponent/WithReplicaID/WithClientTS
// is read off the same underlying Logger value, so re-initializing after
// startup (tests aside) is not supported.
package log
