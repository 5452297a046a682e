// Package raftstore binds the Percolator transaction engine (pkg/txn) to a
// hashicorp/raft replication group: C5, the Raft replica, and the FSM half
// of C6, the replicated transaction service. Every state-changing protocol
// step is proposed as a Command through Raft; only once a quorum has
// replicated it does the FSM execute it against the local MVCC store, so
// every replica's columns stay identical.
package raftstore

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/percokv/pkg/mvcc"
)

// Kind names the Percolator step a Command carries.
type Kind uint8

const (
	// KindAllocateTS hands out the next cluster-wide timestamp. Replicating
	// the counter itself through Raft, rather than letting each replica run
	// its own local oracle, is what keeps timestamps monotonic across a
	// leader change.
	KindAllocateTS Kind = iota
	KindGet
	KindPrewrite
	KindCommitPrimary
	KindCommitSecondary
)

func (k Kind) String() string {
	switch k {
	case KindAllocateTS:
		return "allocate_ts"
	case KindGet:
		return "get"
	case KindPrewrite:
		return "prewrite"
	case KindCommitPrimary:
		return "commit_primary"
	case KindCommitSecondary:
		return "commit_secondary"
	default:
		return "unknown"
	}
}

// Command is the Raft log payload for one Percolator step. StartTS and Seq
// together identify the request for deduplication: Seq must increase
// monotonically for a given StartTS across the lifetime of one
// transaction, assigned by the caller proposing the command.
type Command struct {
	Kind     Kind
	StartTS  uint64
	Seq      uint64
	Key      string
	Value    string
	Primary  string
	CommitTS uint64
	Op       mvcc.Op
}

func encodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("raftstore: encode command: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("raftstore: decode command: %w", err)
	}
	return cmd, nil
}

// Result is what FSM.Apply returns, retrieved by the proposer via
// raft.ApplyFuture.Response().
type Result struct {
	TS    uint64
	Value string
	Found bool
	Err   error
}
