package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/oracle"
)

func newTestBackend(t *testing.T, opts ...Option) *LocalBackend {
	t.Helper()
	store, err := mvcc.Open(t.TempDir(), mvcc.KindLog)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	oc, err := oracle.Open(t.TempDir())
	require.NoError(t, err)

	return NewLocalBackend(NewEngine(store, opts...), oc)
}

// A single transaction writing two keys and a later one reading them both
// back (§8 scenario 1: plain round trip).
func TestScenarioSingleTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	w, err := Begin(ctx, backend)
	require.NoError(t, err)
	w.Set("a", "1")
	w.Set("b", "2")
	require.NoError(t, w.Commit(ctx))

	r, err := Begin(ctx, backend)
	require.NoError(t, err)
	va, ok, err := r.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", va)

	vb, ok, err := r.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", vb)
}

// Reading a key within the same uncommitted transaction that wrote it does
// not see the buffered write: snapshot isolation reads the committed
// snapshot as of start_ts, and an uncommitted write has not joined that
// snapshot yet (§8 scenario 1: read-your-writes is not required).
func TestScenarioUncommittedOwnWriteIsNotVisibleToOwnRead(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	w, err := Begin(ctx, backend)
	require.NoError(t, err)
	w.Set("key1", "100")
	w.Set("key2", "200")

	_, ok, err := w.Get(ctx, "key1")
	require.NoError(t, err)
	require.False(t, ok)
}

// Two transactions read-modify-write the same key; the second to prewrite
// loses the race and aborts rather than silently overwriting the first's
// commit (§8 scenario 2: lost update is prevented, not permitted).
func TestScenarioLostUpdateIsPrevented(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	seed, err := Begin(ctx, backend)
	require.NoError(t, err)
	seed.Set("counter", "0")
	require.NoError(t, seed.Commit(ctx))

	t1, err := Begin(ctx, backend)
	require.NoError(t, err)
	t2, err := Begin(ctx, backend)
	require.NoError(t, err)

	v1, ok, err := t1.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0", v1)

	v2, ok, err := t2.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0", v2)

	t1.Set("counter", "1")
	t2.Set("counter", "2")

	require.NoError(t, t1.Commit(ctx))

	err = t2.Commit(ctx)
	require.Error(t, err)
	require.Equal(t, CodeAborted, CodeOf(err))

	final, err := Begin(ctx, backend)
	require.NoError(t, err)
	v, ok, err := final.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v, "only the first committer's write should be visible")
}

// A long-running reader must see both of a pair's keys as they stood at its
// own start_ts, even though a concurrent writer commits a change to one of
// them partway through (§8 scenario 3: no read skew across a transaction's
// own reads).
func TestScenarioNoReadSkewWithinATransaction(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	seed, err := Begin(ctx, backend)
	require.NoError(t, err)
	seed.Set("a", "1")
	seed.Set("b", "1")
	require.NoError(t, seed.Commit(ctx))

	reader, err := Begin(ctx, backend)
	require.NoError(t, err)
	va, ok, err := reader.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", va)

	writer, err := Begin(ctx, backend)
	require.NoError(t, err)
	writer.Set("a", "2")
	writer.Set("b", "2")
	require.NoError(t, writer.Commit(ctx))

	vb, ok, err := reader.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", vb, "reader's snapshot predates the writer's commit")
}

// Two transactions each read both of a pair of keys but write only one, and
// neither key is shared between their write sets: per-key conflict
// detection lets both commit even though their combined effect might
// violate an invariant over the pair (§8 scenario 4: write skew is possible
// under Percolator's snapshot isolation, by design, not a defect).
func TestScenarioWriteSkewIsPossibleAcrossDisjointKeys(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	seed, err := Begin(ctx, backend)
	require.NoError(t, err)
	seed.Set("on-call-alice", "true")
	seed.Set("on-call-bob", "true")
	require.NoError(t, seed.Commit(ctx))

	t1, err := Begin(ctx, backend)
	require.NoError(t, err)
	t2, err := Begin(ctx, backend)
	require.NoError(t, err)

	_, _, _ = t1.Get(ctx, "on-call-bob")
	_, _, _ = t2.Get(ctx, "on-call-alice")

	t1.Set("on-call-alice", "false")
	t2.Set("on-call-bob", "false")

	require.NoError(t, t1.Commit(ctx))
	require.NoError(t, t2.Commit(ctx))

	final, err := Begin(ctx, backend)
	require.NoError(t, err)
	va, _, _ := final.Get(ctx, "on-call-alice")
	vb, _, _ := final.Get(ctx, "on-call-bob")
	require.Equal(t, "false", va)
	require.Equal(t, "false", vb)
}

// A commit that crashes after the primary record was committed but before
// every secondary got its CommitSecondary call must still make the whole
// transaction visible: the next reader of the stranded secondary rolls it
// forward instead of seeing a half-applied transaction (§8 scenario 5).
func TestScenarioCrashAfterPrimaryCommitRollsForward(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	startTS, err := backend.GetTimestamp(ctx)
	require.NoError(t, err)

	require.NoError(t, backend.Prewrite(ctx, "primary", "pv", mvcc.OpPut, "primary", startTS))
	require.NoError(t, backend.Prewrite(ctx, "secondary", "sv", mvcc.OpPut, "primary", startTS))

	commitTS, err := backend.GetTimestamp(ctx)
	require.NoError(t, err)
	require.NoError(t, backend.CommitPrimary(ctx, "primary", startTS, commitTS, mvcc.OpPut))
	// simulated crash: CommitSecondary for "secondary" never runs.

	reader, err := Begin(ctx, backend)
	require.NoError(t, err)
	v, ok, err := reader.Get(ctx, "secondary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sv", v)
}

// A commit that crashes before the primary is ever committed leaves behind
// a lock with no record that the transaction happened. Once its TTL
// expires, the next reader rolls it back rather than waiting forever
// (§8 scenario 6).
func TestScenarioCrashBeforePrimaryCommitRollsBackAfterTTL(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, WithLockTTL(0))

	startTS, err := backend.GetTimestamp(ctx)
	require.NoError(t, err)

	require.NoError(t, backend.Prewrite(ctx, "primary", "pv", mvcc.OpPut, "primary", startTS))
	require.NoError(t, backend.Prewrite(ctx, "secondary", "sv", mvcc.OpPut, "primary", startTS))
	// simulated crash: CommitPrimary never runs.

	nowFunc = func() int64 { return time.Now().UnixNano() + int64(time.Hour) }
	defer func() { nowFunc = func() int64 { return time.Now().UnixNano() } }()

	reader, err := Begin(ctx, backend)
	require.NoError(t, err)
	_, ok, err := reader.Get(ctx, "secondary")
	require.NoError(t, err)
	require.False(t, ok)
}
