package txn

import (
	"context"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/metrics"
	"github.com/cuemby/percokv/pkg/mvcc"
)

// Backend is everything a Transaction needs from the replica(s) holding
// the store: a timestamp source and the four Percolator steps. pkg/client
// implements it over RPC; LocalBackend implements it in-process.
type Backend interface {
	GetTimestamp(ctx context.Context) (uint64, error)
	Get(ctx context.Context, key string, startTS uint64) (string, bool, error)
	Prewrite(ctx context.Context, key, value string, op mvcc.Op, primary string, startTS uint64) error
	CommitPrimary(ctx context.Context, primary string, startTS, commitTS uint64, op mvcc.Op) error
	CommitSecondary(ctx context.Context, key string, startTS, commitTS uint64, op mvcc.Op) error
}

// WriteEntry is one buffered mutation of an in-flight Transaction.
type WriteEntry struct {
	Key, Value string
	Op         mvcc.Op
}

// Transaction accumulates reads and writes under a single start timestamp
// and commits them all atomically, or not at all, following the client
// side of the Percolator protocol (§4.4).
//
// A Transaction is not safe for concurrent use.
type Transaction struct {
	backend Backend
	startTS uint64
	seq     uint64
	writes  []WriteEntry
}

// Begin fetches a start timestamp and opens a new transaction.
func Begin(ctx context.Context, backend Backend) (*Transaction, error) {
	ts, err := backend.GetTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{backend: backend, startTS: ts}, nil
}

// StartTS returns the snapshot timestamp this transaction reads at.
func (t *Transaction) StartTS() uint64 { return t.startTS }

// Get reads key as of the transaction's snapshot. It always goes to the
// backend, even for a key this same transaction has already buffered a
// write for: snapshot isolation reads the committed snapshot, not a
// transaction's own uncommitted writes, so reading back key1 right after
// setting it returns whatever was last committed for key1, not the
// buffered value.
func (t *Transaction) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok, err := t.backend.Get(ctx, key, t.startTS)
	if err != nil && CodeOf(err) == CodeKeyNotFound {
		return "", false, nil
	}
	return val, ok, err
}

// Set buffers a put, replacing any earlier buffered write of the same key.
func (t *Transaction) Set(key, value string) {
	t.bufferWrite(WriteEntry{Key: key, Value: value, Op: mvcc.OpPut})
}

// Remove buffers a delete.
func (t *Transaction) Remove(key string) {
	t.bufferWrite(WriteEntry{Key: key, Op: mvcc.OpDelete})
}

func (t *Transaction) bufferWrite(e WriteEntry) {
	for i := range t.writes {
		if t.writes[i].Key == e.Key {
			t.writes[i] = e
			return
		}
	}
	t.writes = append(t.writes, e)
}

// Commit runs the full two-phase commit: prewrite every buffered key with
// the first as primary, fetch a commit timestamp, commit the primary, then
// commit the remaining keys best-effort.
//
// If any prewrite aborts, none of the transaction's writes become visible:
// the already-prewritten keys are left locked. A later reader's Get rolls
// them back once the primary's lock TTL has expired; until then other
// transactions that prewrite those keys abort on the lock.
func (t *Transaction) Commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	primary := t.writes[0].Key

	prewriteTimer := metrics.NewTimer()
	for _, w := range t.writes {
		if err := t.backend.Prewrite(ctx, w.Key, w.Value, w.Op, primary, t.startTS); err != nil {
			metrics.TxnAbortsTotal.WithLabelValues("prewrite").Inc()
			return err
		}
	}
	prewriteTimer.ObserveDuration(metrics.TxnPrewriteDuration)

	commitTS, err := t.backend.GetTimestamp(ctx)
	if err != nil {
		return err
	}

	commitTimer := metrics.NewTimer()
	if err := t.backend.CommitPrimary(ctx, primary, t.startTS, commitTS, t.writes[0].Op); err != nil {
		metrics.TxnAbortsTotal.WithLabelValues("commit_primary").Inc()
		return err
	}

	for _, w := range t.writes[1:] {
		if err := t.backend.CommitSecondary(ctx, w.Key, t.startTS, commitTS, w.Op); err != nil {
			log.WithComponent("txn").Warn().Err(err).Str("key", w.Key).Uint64("start_ts", t.startTS).
				Msg("secondary commit failed, will be rolled forward lazily by a later reader")
		}
	}
	commitTimer.ObserveDuration(metrics.TxnCommitDuration)
	return nil
}
