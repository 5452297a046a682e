package txn

import (
	"context"

	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/oracle"
)

// LocalBackend implements Backend directly against an Engine and Oracle in
// the same process, with no RPC and no replication. It is used by tests
// and by the single-node server mode that runs the protocol straight over
// local storage.
type LocalBackend struct {
	Engine *Engine
	Oracle *oracle.Oracle
}

// NewLocalBackend builds a Backend over a local Engine and Oracle pair.
func NewLocalBackend(engine *Engine, oc *oracle.Oracle) *LocalBackend {
	return &LocalBackend{Engine: engine, Oracle: oc}
}

func (b *LocalBackend) GetTimestamp(ctx context.Context) (uint64, error) {
	return b.Oracle.Next()
}

func (b *LocalBackend) Get(ctx context.Context, key string, startTS uint64) (string, bool, error) {
	return b.Engine.Get(key, startTS)
}

func (b *LocalBackend) Prewrite(ctx context.Context, key, value string, op mvcc.Op, primary string, startTS uint64) error {
	return b.Engine.Prewrite(key, value, op, primary, startTS)
}

func (b *LocalBackend) CommitPrimary(ctx context.Context, primary string, startTS, commitTS uint64, op mvcc.Op) error {
	return b.Engine.CommitPrimary(primary, startTS, commitTS, op)
}

func (b *LocalBackend) CommitSecondary(ctx context.Context, key string, startTS, commitTS uint64, op mvcc.Op) error {
	return b.Engine.CommitSecondary(key, startTS, commitTS, op)
}
