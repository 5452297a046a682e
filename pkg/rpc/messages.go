// Package rpc defines the wire protocol spoken between percokv clients and
// replicas. Messages are
// plain Go structs carried over grpc using a gob encoding.Codec instead of
// protobuf (see codec.go) since no protoc-generated stubs are available in
// this tree; grpc still supplies the transport, multiplexing, and deadline
// propagation that a hand-rolled RPC layer would otherwise have to rebuild.
package rpc

import "github.com/cuemby/percokv/pkg/mvcc"

// TsRequest asks for a fresh timestamp from the oracle. Name is carried for
// symmetry with the wire format this was grounded on; it has no effect on
// which oracle answers, since every replica in a group shares one.
type TsRequest struct {
	Name string
}

// TsReply carries the freshly allocated timestamp, or a non-OK Code.
type TsReply struct {
	Name string
	TS   uint64
	Code Code
	Msg  string
}

// GetRequest reads key as of a transaction's start timestamp.
type GetRequest struct {
	Key string
	TS  uint64
	Seq uint64
}

// GetReply carries the value (Message) or an empty string with
// Code == KeyNotFound.
type GetReply struct {
	Message string
	TS      uint64
	Seq     uint64
	Code    Code
	Msg     string
}

// PrewriteRequest locks and stages one write of a transaction's write set.
type PrewriteRequest struct {
	Key     string
	Value   string
	Op      mvcc.Op
	Primary string
	TS      uint64
	Seq     uint64
}

// PrewriteReply reports whether the prewrite was granted.
type PrewriteReply struct {
	OK   bool
	TS   uint64
	Seq  uint64
	Code Code
	Msg  string
}

// CommitRequest commits one key of a transaction's write set. IsPrimary
// selects between the server's CommitPrimary and CommitSecondary paths.
type CommitRequest struct {
	IsPrimary bool
	Primary   string
	Key       string
	Op        mvcc.Op
	StartTS   uint64
	CommitTS  uint64
	Seq       uint64
}

// CommitReply reports whether the commit was applied.
type CommitReply struct {
	OK   bool
	TS   uint64
	Seq  uint64
	Code Code
	Msg  string
}
