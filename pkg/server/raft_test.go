package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/raftstore"
	"github.com/cuemby/percokv/pkg/rpc"
)

func newTestRaft(t *testing.T) *Raft {
	t.Helper()
	node, err := raftstore.New(raftstore.Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, node.Bootstrap())
	t.Cleanup(func() { node.Shutdown() })
	require.Eventually(t, node.IsLeader, 5*time.Second, 10*time.Millisecond, "node never became leader")
	return NewRaft(node)
}

func TestRaftGetTimestampIsMonotonic(t *testing.T) {
	r := newTestRaft(t)
	ctx := context.Background()

	r1, err := r.GetTimestamp(ctx, &rpc.TsRequest{Name: "x"})
	require.NoError(t, err)
	r2, err := r.GetTimestamp(ctx, &rpc.TsRequest{Name: "x"})
	require.NoError(t, err)
	require.Less(t, r1.TS, r2.TS)
}

func TestRaftPrewriteThenCommitMakesKeyVisible(t *testing.T) {
	r := newTestRaft(t)
	ctx := context.Background()

	startTS, err := r.node.AllocateTimestamp()
	require.NoError(t, err)

	pre, err := r.Prewrite(ctx, &rpc.PrewriteRequest{Key: "k", Value: "v", Op: mvcc.OpPut, Primary: "k", TS: startTS, Seq: 1})
	require.NoError(t, err)
	require.True(t, pre.OK)

	commitTS, err := r.node.AllocateTimestamp()
	require.NoError(t, err)

	commit, err := r.Commit(ctx, &rpc.CommitRequest{
		IsPrimary: true, Primary: "k", Key: "k", Op: mvcc.OpPut, StartTS: startTS, CommitTS: commitTS, Seq: 2,
	})
	require.NoError(t, err)
	require.True(t, commit.OK)

	get, err := r.Get(ctx, &rpc.GetRequest{Key: "k", TS: commitTS + 1})
	require.NoError(t, err)
	require.Equal(t, rpc.CodeOK, get.Code)
	require.Equal(t, "v", get.Message)
}

func TestRaftDuplicateCommitIsTreatedAsSuccess(t *testing.T) {
	r := newTestRaft(t)
	ctx := context.Background()

	startTS, err := r.node.AllocateTimestamp()
	require.NoError(t, err)
	_, err = r.Prewrite(ctx, &rpc.PrewriteRequest{Key: "k", Value: "v", Op: mvcc.OpPut, Primary: "k", TS: startTS, Seq: 1})
	require.NoError(t, err)

	commitTS, err := r.node.AllocateTimestamp()
	require.NoError(t, err)
	req := &rpc.CommitRequest{IsPrimary: true, Primary: "k", Key: "k", Op: mvcc.OpPut, StartTS: startTS, CommitTS: commitTS, Seq: 2}

	first, err := r.Commit(ctx, req)
	require.NoError(t, err)
	require.True(t, first.OK)
	require.Equal(t, rpc.CodeOK, first.Code)

	second, err := r.Commit(ctx, req)
	require.NoError(t, err)
	require.True(t, second.OK)
	require.Equal(t, rpc.CodeDuplicatedRequest, second.Code)
}
