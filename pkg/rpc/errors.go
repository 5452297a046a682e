package rpc

import (
	"fmt"

	"github.com/cuemby/percokv/pkg/txn"
)

// Code mirrors txn.Code on the wire. It is a distinct type, rather than a
// reuse of txn.Code directly, so this package's wire format does not shift
// silently if txn's internal taxonomy ever grows a value RPC clients don't
// need to see.
type Code int

const (
	CodeOK Code = iota
	CodeKeyNotFound
	CodeNotLeader
	CodeDuplicatedRequest
	CodeTimeout
	CodeAborted
	CodeUnknown
)

// CodeFor translates a server-side error into its wire Code plus a message,
// the pair every reply type above carries instead of a Go error value.
// pkg/server calls this when turning a txn.Engine/raftstore.Node error into
// a reply.
func CodeFor(err error) (Code, string) {
	if err == nil {
		return CodeOK, ""
	}
	switch txn.CodeOf(err) {
	case txn.CodeKeyNotFound:
		return CodeKeyNotFound, err.Error()
	case txn.CodeNotLeader:
		return CodeNotLeader, err.Error()
	case txn.CodeDuplicatedRequest:
		return CodeDuplicatedRequest, err.Error()
	case txn.CodeTimeout:
		return CodeTimeout, err.Error()
	case txn.CodeAborted:
		return CodeAborted, err.Error()
	default:
		return CodeUnknown, err.Error()
	}
}

// ErrorFor rebuilds a client-side error from a reply's Code and Msg, the
// inverse of CodeFor, so pkg/client can hand txn.CodeOf-compatible errors
// back to a Transaction without the wire format leaking into it.
func ErrorFor(code Code, msg string) error {
	switch code {
	case CodeOK:
		return nil
	case CodeKeyNotFound:
		return txn.ErrKeyNotFound
	case CodeNotLeader:
		return txn.ErrNotLeader
	case CodeDuplicatedRequest:
		return txn.ErrDuplicatedRequest
	case CodeTimeout:
		return txn.ErrTimeout
	case CodeAborted:
		return txn.Abortf("%s", msg)
	default:
		return fmt.Errorf("rpc: %s", msg)
	}
}
