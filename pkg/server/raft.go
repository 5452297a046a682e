package server

import (
	"context"

	"github.com/cuemby/percokv/pkg/raftstore"
	"github.com/cuemby/percokv/pkg/rpc"
)

// Raft runs the Percolator protocol over a replicated pkg/raftstore.Node:
// every mutation is proposed through Raft and only answered once a quorum
// has committed it and the leader has applied it. Idempotent-retry bookkeeping lives in the node's FSM, not
// here, so this type does no seq tracking of its own.
type Raft struct {
	node *raftstore.Node
}

// NewRaft wraps an already-started node.
func NewRaft(node *raftstore.Node) *Raft {
	return &Raft{node: node}
}

func (r *Raft) GetTimestamp(ctx context.Context, req *rpc.TsRequest) (*rpc.TsReply, error) {
	ts, err := r.node.AllocateTimestamp()
	if err != nil {
		code, msg := wireCode(err)
		return &rpc.TsReply{Name: req.Name, Code: code, Msg: msg}, nil
	}
	return &rpc.TsReply{Name: req.Name, TS: ts, Code: rpc.CodeOK}, nil
}

func (r *Raft) Get(ctx context.Context, req *rpc.GetRequest) (*rpc.GetReply, error) {
	val, ok, err := r.node.Get(req.Key, req.TS)
	if err != nil {
		code, msg := wireCode(err)
		return &rpc.GetReply{TS: req.TS, Seq: req.Seq, Code: code, Msg: msg}, nil
	}
	if !ok {
		return &rpc.GetReply{TS: req.TS, Seq: req.Seq, Code: rpc.CodeKeyNotFound, Msg: "key not found"}, nil
	}
	return &rpc.GetReply{Message: val, TS: req.TS, Seq: req.Seq, Code: rpc.CodeOK}, nil
}

func (r *Raft) Prewrite(ctx context.Context, req *rpc.PrewriteRequest) (*rpc.PrewriteReply, error) {
	res, err := r.node.Propose(raftstore.Command{
		Kind: raftstore.KindPrewrite, StartTS: req.TS, Seq: req.Seq,
		Key: req.Key, Value: req.Value, Op: req.Op, Primary: req.Primary,
	})
	if err != nil {
		code, msg := wireCode(err)
		return &rpc.PrewriteReply{TS: req.TS, Seq: req.Seq, Code: code, Msg: msg}, nil
	}
	return prewriteReplyFromResult(req, res), nil
}

func (r *Raft) Commit(ctx context.Context, req *rpc.CommitRequest) (*rpc.CommitReply, error) {
	kind := raftstore.KindCommitSecondary
	if req.IsPrimary {
		kind = raftstore.KindCommitPrimary
	}
	res, err := r.node.Propose(raftstore.Command{
		Kind: kind, StartTS: req.StartTS, Seq: req.Seq,
		Key: req.Key, Primary: req.Primary, CommitTS: req.CommitTS, Op: req.Op,
	})
	if err != nil {
		code, msg := wireCode(err)
		return &rpc.CommitReply{TS: req.CommitTS, Seq: req.Seq, Code: code, Msg: msg}, nil
	}
	return commitReplyFromResult(req, res), nil
}

// prewriteReplyFromResult and commitReplyFromResult both give
// DuplicatedRequest the spec §7 treatment: a replayed request that already
// took effect is reported OK, with the wire Code still distinguishing it
// from a first-time success for callers that care.
func prewriteReplyFromResult(req *rpc.PrewriteRequest, res *raftstore.Result) *rpc.PrewriteReply {
	if res.Err == nil {
		return &rpc.PrewriteReply{OK: true, TS: req.TS, Seq: req.Seq, Code: rpc.CodeOK}
	}
	code, msg := wireCode(res.Err)
	if code == rpc.CodeDuplicatedRequest {
		return &rpc.PrewriteReply{OK: true, TS: req.TS, Seq: req.Seq, Code: code}
	}
	return &rpc.PrewriteReply{TS: req.TS, Seq: req.Seq, Code: code, Msg: msg}
}

func commitReplyFromResult(req *rpc.CommitRequest, res *raftstore.Result) *rpc.CommitReply {
	if res.Err == nil {
		return &rpc.CommitReply{OK: true, TS: req.CommitTS, Seq: req.Seq, Code: rpc.CodeOK}
	}
	code, msg := wireCode(res.Err)
	if code == rpc.CodeDuplicatedRequest {
		return &rpc.CommitReply{OK: true, TS: req.CommitTS, Seq: req.Seq, Code: code}
	}
	return &rpc.CommitReply{TS: req.CommitTS, Seq: req.Seq, Code: code, Msg: msg}
}

var _ rpc.Service = (*Raft)(nil)
