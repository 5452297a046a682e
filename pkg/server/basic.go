// Package server adapts pkg/txn's protocol engine to the wire types in
// pkg/rpc, in the two modes spec.md's CLI surface names: a single-node
// "basic" mode with no Raft, and a "raft" mode replicated through
// pkg/raftstore. Both implement rpc.Service identically from the outside.
package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/oracle"
	"github.com/cuemby/percokv/pkg/rpc"
	"github.com/cuemby/percokv/pkg/txn"
)

// BasicConfig configures a single-node server with no replication.
type BasicConfig struct {
	DataDir     string
	StorageKind mvcc.Kind
	LockTTL     func() txn.Option // nil uses txn's default TTL
}

// Basic runs the Percolator protocol directly over one local engine and
// oracle, with no Raft group behind it: every RPC is served from this
// process's own disk. It still honors the wire idempotence contract via its
// own dedup table, since there is no FSM here to provide one: a Prewrite or
// Commit whose (ts, seq) was already seen is not re-executed and is answered
// OK with Code DuplicatedRequest.
type Basic struct {
	backend *txn.LocalBackend

	mu      sync.Mutex
	lastSeq map[uint64]uint64
}

// NewBasic opens local storage under dataDir/{store,oracle} and returns a
// ready-to-serve Basic.
func NewBasic(cfg BasicConfig) (*Basic, error) {
	kind := cfg.StorageKind
	if kind == "" {
		kind = mvcc.KindLog
	}
	store, err := mvcc.Open(filepath.Join(cfg.DataDir, "store"), kind)
	if err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}
	oc, err := oracle.Open(filepath.Join(cfg.DataDir, "oracle"))
	if err != nil {
		return nil, fmt.Errorf("server: open oracle: %w", err)
	}

	var opts []txn.Option
	if cfg.LockTTL != nil {
		opts = append(opts, cfg.LockTTL())
	}
	engine := txn.NewEngine(store, opts...)

	return &Basic{
		backend: txn.NewLocalBackend(engine, oc),
		lastSeq: make(map[uint64]uint64),
	}, nil
}

// Close releases the underlying storage.
func (b *Basic) Close() error {
	return b.backend.Engine.Store().Close()
}

// duplicate reports whether seq has already been applied for startTS, and
// records it if not. The zero seq (unset by callers like GetTimestamp) is
// never tracked.
func (b *Basic) duplicate(startTS, seq uint64) bool {
	if seq == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq <= b.lastSeq[startTS] {
		return true
	}
	b.lastSeq[startTS] = seq
	return false
}

func (b *Basic) GetTimestamp(ctx context.Context, req *rpc.TsRequest) (*rpc.TsReply, error) {
	ts, err := b.backend.GetTimestamp(ctx)
	if err != nil {
		code, msg := wireCode(err)
		return &rpc.TsReply{Name: req.Name, Code: code, Msg: msg}, nil
	}
	return &rpc.TsReply{Name: req.Name, TS: ts, Code: rpc.CodeOK}, nil
}

func (b *Basic) Get(ctx context.Context, req *rpc.GetRequest) (*rpc.GetReply, error) {
	val, ok, err := b.backend.Get(ctx, req.Key, req.TS)
	if err != nil {
		code, msg := wireCode(err)
		return &rpc.GetReply{TS: req.TS, Seq: req.Seq, Code: code, Msg: msg}, nil
	}
	if !ok {
		return &rpc.GetReply{TS: req.TS, Seq: req.Seq, Code: rpc.CodeKeyNotFound, Msg: "key not found"}, nil
	}
	return &rpc.GetReply{Message: val, TS: req.TS, Seq: req.Seq, Code: rpc.CodeOK}, nil
}

func (b *Basic) Prewrite(ctx context.Context, req *rpc.PrewriteRequest) (*rpc.PrewriteReply, error) {
	if b.duplicate(req.TS, req.Seq) {
		return &rpc.PrewriteReply{OK: true, TS: req.TS, Seq: req.Seq, Code: rpc.CodeDuplicatedRequest}, nil
	}
	if err := b.backend.Prewrite(ctx, req.Key, req.Value, req.Op, req.Primary, req.TS); err != nil {
		code, msg := wireCode(err)
		return &rpc.PrewriteReply{TS: req.TS, Seq: req.Seq, Code: code, Msg: msg}, nil
	}
	return &rpc.PrewriteReply{OK: true, TS: req.TS, Seq: req.Seq, Code: rpc.CodeOK}, nil
}

func (b *Basic) Commit(ctx context.Context, req *rpc.CommitRequest) (*rpc.CommitReply, error) {
	if b.duplicate(req.StartTS, req.Seq) {
		return &rpc.CommitReply{OK: true, TS: req.CommitTS, Seq: req.Seq, Code: rpc.CodeDuplicatedRequest}, nil
	}

	var err error
	if req.IsPrimary {
		err = b.backend.CommitPrimary(ctx, req.Primary, req.StartTS, req.CommitTS, req.Op)
	} else {
		err = b.backend.CommitSecondary(ctx, req.Key, req.StartTS, req.CommitTS, req.Op)
	}
	if err != nil {
		code, msg := wireCode(err)
		log.WithComponent("server").Warn().Err(err).Str("key", req.Key).Bool("primary", req.IsPrimary).
			Msg("commit rejected")
		return &rpc.CommitReply{TS: req.CommitTS, Seq: req.Seq, Code: code, Msg: msg}, nil
	}
	return &rpc.CommitReply{OK: true, TS: req.CommitTS, Seq: req.Seq, Code: rpc.CodeOK}, nil
}

var _ rpc.Service = (*Basic)(nil)

// wireCode is the one place both Basic and Raft translate a pkg/txn error
// into the (Code, message) pair every reply struct carries.
func wireCode(err error) (rpc.Code, string) {
	return rpc.CodeFor(err)
}
