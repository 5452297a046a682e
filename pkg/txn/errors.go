package txn

import (
	"errors"
	"fmt"
)

// Code is the error taxonomy surfaced to clients (§6, §7). RPC replies
// carry it explicitly so callers can branch without string matching.
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

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeKeyNotFound:
		return "KeyNotFound"
	case CodeNotLeader:
		return "NotLeader"
	case CodeDuplicatedRequest:
		return "DuplicatedRequest"
	case CodeTimeout:
		return "Timeout"
	case CodeAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

var (
	// ErrKeyNotFound is the normal negative result for reads and removes.
	ErrKeyNotFound = errors.New("txn: key not found")
	// ErrNotLeader means the addressed replica is not the Raft leader; the
	// client should rotate to another peer.
	ErrNotLeader = errors.New("txn: not leader")
	// ErrDuplicatedRequest signals that an earlier attempt with the same
	// (client_ts, seq) already took effect.
	ErrDuplicatedRequest = errors.New("txn: duplicated request")
	// ErrTimeout means no apply signal arrived within the RPC deadline.
	ErrTimeout = errors.New("txn: timeout")
)

// AbortError is a protocol-conflict abort: prewrite lost a race, or the
// primary lock vanished before commit. The client retries the whole
// transaction from Begin.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string { return fmt.Sprintf("txn: aborted: %s", e.Reason) }

func Abortf(format string, args ...any) error {
	return &AbortError{Reason: fmt.Sprintf(format, args...)}
}

// CodeOf classifies err into the wire taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return CodeKeyNotFound
	case errors.Is(err, ErrNotLeader):
		return CodeNotLeader
	case errors.Is(err, ErrDuplicatedRequest):
		return CodeDuplicatedRequest
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		return CodeAborted
	}
	return CodeUnknown
}
