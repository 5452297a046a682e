// Package txn implements the Percolator two-phase-commit protocol (C4):
// server-side handlers that execute one protocol step atomically against
// the MVCC column store, and a client-side Transaction type that drives a
// sequence of those steps into an all-or-nothing commit.
package txn

import (
	"time"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/metrics"
	"github.com/cuemby/percokv/pkg/mvcc"
)

// DefaultLockTTL is how long a lock is honored before a reader is allowed
// to treat its transaction as abandoned and roll it back.
const DefaultLockTTL = 3 * time.Second

const maxGetRetries = 5

var (
	retryBackoff = 5 * time.Millisecond
	sleepFunc    = time.Sleep
	nowFunc      = func() int64 { return time.Now().UnixNano() }
)

// Engine executes Percolator protocol steps against a Store. Every method
// is a single atomic step; a Transaction (client.go) sequences them.
type Engine struct {
	store *mvcc.Store
	ttl   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) { e.ttl = d }
}

// NewEngine builds a Percolator engine over store.
func NewEngine(store *mvcc.Store, opts ...Option) *Engine {
	e := &Engine{store: store, ttl: DefaultLockTTL}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying column store, for snapshotting by a
// replication layer.
func (e *Engine) Store() *mvcc.Store { return e.store }

// Get performs a snapshot read of key as of startTS (§4.4 txn_get).
//
// If a lock covers the read, it is not simply treated as a conflict: the
// reader attempts to resolve it (roll the blocking transaction forward or
// back) and retries, exactly as a Percolator reader would.
func (e *Engine) Get(key string, startTS uint64) (string, bool, error) {
	for attempt := 0; attempt < maxGetRetries; attempt++ {
		lockKey, lv, locked, err := e.store.ReadLock(key, mvcc.MinTS, startTS)
		if err != nil {
			return "", false, err
		}
		if locked {
			if err := e.BackOffOrCleanUp(key, lockKey.TS, lv.Primary); err != nil {
				if CodeOf(err) != CodeAborted {
					return "", false, err
				}
			}
			sleepFunc(retryBackoff)
			continue
		}

		_, wv, found, err := e.store.ReadWrite(key, mvcc.MinTS, startTS)
		if err != nil {
			return "", false, err
		}
		if !found || wv.Op == mvcc.OpDelete {
			return "", false, ErrKeyNotFound
		}
		_, dv, ok, err := e.store.ReadData(key, wv.StartTS, wv.StartTS)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, ErrKeyNotFound
		}
		return dv.Value, true, nil
	}
	return "", false, Abortf("get(%s): lock on key did not clear after %d attempts", key, maxGetRetries)
}

// Prewrite locks and buffers one write of a transaction (§4.4 Prewrite). It
// aborts if a newer write already exists (write-write conflict) or if any
// lock, foreign or our own from a previous failed attempt, already sits on
// the key.
func (e *Engine) Prewrite(key, value string, op mvcc.Op, primary string, startTS uint64) error {
	if _, _, found, err := e.store.ReadWrite(key, startTS, mvcc.MaxTS); err != nil {
		return err
	} else if found {
		return Abortf("prewrite(%s): a write committed after start_ts=%d", key, startTS)
	}
	if _, _, found, err := e.store.ReadLock(key, mvcc.MinTS, mvcc.MaxTS); err != nil {
		return err
	} else if found {
		return Abortf("prewrite(%s): key is already locked", key)
	}

	if err := e.store.WriteData(key, startTS, value); err != nil {
		return err
	}
	if err := e.store.WriteLock(key, startTS, primary, op); err != nil {
		return err
	}
	if key != primary {
		if err := e.store.UpdateLock(primary, startTS); err != nil {
			return err
		}
	}
	return nil
}

// CommitPrimary commits the primary key: the point at which the whole
// transaction becomes visible. It aborts if the primary's own lock has
// disappeared, meaning some other reader already rolled this transaction
// back as abandoned.
func (e *Engine) CommitPrimary(primary string, startTS, commitTS uint64, op mvcc.Op) error {
	if _, _, found, err := e.store.ReadLock(primary, startTS, startTS); err != nil {
		return err
	} else if !found {
		return Abortf("commit(%s): primary lock missing at start_ts=%d", primary, startTS)
	}
	if err := e.store.WriteWrite(primary, commitTS, startTS, op); err != nil {
		return err
	}
	if err := e.store.EraseLock(primary, commitTS); err != nil {
		return err
	}
	metrics.TxnCommitsTotal.Inc()
	return nil
}

// CommitSecondary commits a non-primary key. It is best-effort: once the
// primary is committed the transaction as a whole is durable, and any
// secondary left locked will be rolled forward by the next reader that
// touches it via BackOffOrCleanUp.
func (e *Engine) CommitSecondary(key string, startTS, commitTS uint64, op mvcc.Op) error {
	if err := e.store.WriteWrite(key, commitTS, startTS, op); err != nil {
		return err
	}
	return e.store.EraseLock(key, commitTS)
}

// BackOffOrCleanUp resolves a lock found on key, written at ts, whose
// transaction's primary key is primary (§4.4). Exactly one of four things
// happens:
//
//   - the primary already committed: roll this key forward to match.
//   - the primary's lock is gone and it never committed: roll this key back.
//   - the primary's lock is still present but its TTL has expired: roll
//     back both this key and the primary.
//   - the primary's lock is still live and fresh: leave everything alone
//     and report an abort so the caller backs off and retries later.
func (e *Engine) BackOffOrCleanUp(key string, ts uint64, primary string) error {
	_, plv, primaryLocked, err := e.store.ReadLock(primary, ts, ts)
	if err != nil {
		return err
	}

	if !primaryLocked {
		metrics.TxnLocksCleanedTotal.Inc()
		wk, wv, committed, err := e.store.ReadWrite(primary, ts, mvcc.MaxTS)
		if err != nil {
			return err
		}
		if committed && wv.StartTS == ts {
			return e.rollForward(key, ts, wk.TS, wv.Op)
		}
		return e.rollBack(key, ts)
	}

	if e.lockExpired(plv) {
		metrics.TxnLocksCleanedTotal.Inc()
		if key != primary {
			if err := e.rollBack(key, ts); err != nil {
				return err
			}
		}
		return e.rollBack(primary, ts)
	}

	return Abortf("primary lock on %s (for %s) still live, back off", primary, key)
}

func (e *Engine) rollForward(key string, startTS, commitTS uint64, primaryOp mvcc.Op) error {
	op := primaryOp
	if _, lv, ok, err := e.store.ReadLock(key, startTS, startTS); err != nil {
		return err
	} else if ok {
		op = lv.Op
	}
	if err := e.store.WriteWrite(key, commitTS, startTS, op); err != nil {
		return err
	}
	log.WithComponent("txn").Debug().Str("key", key).Uint64("start_ts", startTS).Uint64("commit_ts", commitTS).Msg("rolled lock forward")
	return e.store.EraseLock(key, commitTS)
}

func (e *Engine) rollBack(key string, ts uint64) error {
	if err := e.store.EraseLock(key, ts); err != nil {
		return err
	}
	log.WithComponent("txn").Debug().Str("key", key).Uint64("ts", ts).Msg("rolled lock back")
	return e.store.EraseData(key, ts)
}

func (e *Engine) lockExpired(lv mvcc.LockValue) bool {
	return nowFunc()-lv.TTLUnixNanos > int64(e.ttl)
}
