package raftstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/metrics"
	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/txn"
)

// fsm applies committed Commands to the local Percolator engine. Every
// replica in the group runs an identical fsm over an identical log, so
// their MVCC columns converge to the same contents.
type fsm struct {
	mu      sync.Mutex
	engine  *txn.Engine
	lastSeq map[uint64]uint64 // start_ts -> highest applied seq, for check_duplicate
	nextTS  uint64            // replicated timestamp-oracle counter
}

func newFSM(engine *txn.Engine) *fsm {
	return &fsm{engine: engine, lastSeq: make(map[uint64]uint64), nextTS: 1}
}

// Apply implements raft.FSM. It is only ever invoked with log entries a
// quorum has already durably replicated.
func (f *fsm) Apply(entry *raft.Log) interface{} {
	cmd, err := decodeCommand(entry.Data)
	if err != nil {
		return &Result{Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// AllocateTS has no meaningful per-StartTS seq to dedup against, and Get
	// has no side effect to dedup in the first place: replaying a read is
	// always safe, and a retried Get should get its value back, not a
	// DuplicatedRequest error in place of one.
	if cmd.Kind != KindAllocateTS && cmd.Kind != KindGet {
		if cmd.Seq <= f.lastSeq[cmd.StartTS] {
			log.WithComponent("raftstore").Debug().Uint64("start_ts", cmd.StartTS).Uint64("seq", cmd.Seq).
				Msg("dropping already-applied command")
			return &Result{Err: txn.ErrDuplicatedRequest}
		}
		f.lastSeq[cmd.StartTS] = cmd.Seq
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	switch cmd.Kind {
	case KindAllocateTS:
		ts := f.nextTS
		f.nextTS++
		metrics.OracleTimestampsIssuedTotal.Inc()
		metrics.OracleLastTimestamp.Set(float64(ts))
		return &Result{TS: ts}
	case KindGet:
		value, found, err := f.engine.Get(cmd.Key, cmd.StartTS)
		return &Result{Value: value, Found: found, Err: err}
	case KindPrewrite:
		return &Result{Err: f.engine.Prewrite(cmd.Key, cmd.Value, cmd.Op, cmd.Primary, cmd.StartTS)}
	case KindCommitPrimary:
		return &Result{Err: f.engine.CommitPrimary(cmd.Key, cmd.StartTS, cmd.CommitTS, cmd.Op)}
	case KindCommitSecondary:
		return &Result{Err: f.engine.CommitSecondary(cmd.Key, cmd.StartTS, cmd.CommitTS, cmd.Op)}
	default:
		return &Result{Err: fmt.Errorf("raftstore: unknown command kind %d", cmd.Kind)}
	}
}

// fsmSnapshot is the gob-encoded payload handed to a raft.SnapshotSink.
type fsmSnapshot struct {
	Store   mvcc.Snapshot
	LastSeq map[uint64]uint64
	NextTS  uint64
}

// Snapshot implements raft.FSM. It captures the full MVCC column store
// plus the dedup table and oracle counter, letting a lagging or new
// replica catch up without replaying the whole log.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.engine.Store().Export()
	if err != nil {
		return nil, fmt.Errorf("raftstore: export store for snapshot: %w", err)
	}
	lastSeq := make(map[uint64]uint64, len(f.lastSeq))
	for k, v := range f.lastSeq {
		lastSeq[k] = v
	}
	return &fsmSnapshot{Store: store, LastSeq: lastSeq, NextTS: f.nextTS}, nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		return gob.NewEncoder(sink).Encode(s)
	}()
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("raftstore: persist snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// Restore implements raft.FSM. It replaces the local store's contents
// wholesale with the snapshot's.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return fmt.Errorf("raftstore: read snapshot: %w", err)
	}

	var payload fsmSnapshot
	if err := gob.NewDecoder(&buf).Decode(&payload); err != nil {
		return fmt.Errorf("raftstore: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.engine.Store().Import(payload.Store); err != nil {
		return fmt.Errorf("raftstore: import snapshot: %w", err)
	}
	f.lastSeq = payload.LastSeq
	if f.lastSeq == nil {
		f.lastSeq = make(map[uint64]uint64)
	}
	f.nextTS = payload.NextTS
	return nil
}
