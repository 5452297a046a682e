package client

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/cuemby/percokv/pkg/rpc"
	"github.com/cuemby/percokv/pkg/server"
	"github.com/cuemby/percokv/pkg/txn"
)

// startBasicServer runs a pkg/server.Basic behind a real grpc.Server on a
// loopback port, returning the address to dial and a cleanup func.
func startBasicServer(t *testing.T) string {
	t.Helper()

	basic, err := server.NewBasic(server.BasicConfig{DataDir: t.TempDir()})
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	rpc.RegisterService(grpcServer, basic)
	go grpcServer.Serve(lis)

	t.Cleanup(func() {
		grpcServer.Stop()
		basic.Close()
	})
	return lis.Addr().String()
}

func TestClientSingleTransactionRoundTrip(t *testing.T) {
	addr := startBasicServer(t)
	c, err := Dial([]string{addr})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()

	tx, err := txn.Begin(ctx, c)
	require.NoError(t, err)
	tx.Set("key1", "100")
	tx.Set("key2", "200")

	// Reads see the committed snapshot, not this transaction's own
	// buffered writes: key1 has nothing committed yet.
	_, ok, err := tx.Get(ctx, "key1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tx.Commit(ctx))

	tx2, err := txn.Begin(ctx, c)
	require.NoError(t, err)
	v1, ok, err := tx2.Get(ctx, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", v1)

	v2, ok, err := tx2.Get(ctx, "key2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "200", v2)
}

func TestClientGetMissingKeyReturnsNotFound(t *testing.T) {
	addr := startBasicServer(t)
	c, err := Dial([]string{addr})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	tx, err := txn.Begin(ctx, c)
	require.NoError(t, err)
	_, ok, err := tx.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClientRejectsEmptyAddressList(t *testing.T) {
	_, err := Dial(nil)
	require.Error(t, err)
}
