// Package client is a Go client library for percokv: it implements
// pkg/txn.Backend over pkg/rpc, so a pkg/txn.Transaction can drive a
// three-replica cluster exactly the way it drives an in-process
// pkg/txn.LocalBackend in tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/rpc"
	"github.com/cuemby/percokv/pkg/txn"
)

// defaultTimeout is the per-attempt RPC deadline (§6: "each RPC carries a
// deadline (default 3 s)").
const defaultTimeout = 3 * time.Second

// defaultRetries bounds how many times the client cycles through every
// known server before giving up, mirroring the original's
// KvRaftClientBuilder default of three retries across the server list.
const defaultRetries = 3

// Option configures a Client at construction.
type Option func(*Client)

// WithTimeout overrides the per-attempt RPC deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries overrides how many passes the client makes over the server
// list before returning an error.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// Client implements txn.Backend by calling out to a set of percokv
// replicas, retrying against the rest of the list when one is unreachable
// or reports it is not the leader. It is not safe for concurrent use by
// multiple goroutines issuing calls on the same in-flight transaction, but
// the underlying connections are safe to share across transactions.
type Client struct {
	conns []*grpc.ClientConn
	stubs []*rpc.Client

	mu      sync.Mutex
	leader  int // index into stubs this client last heard was the leader
	seq     uint64
	timeout time.Duration
	retries int
}

// Dial connects to every address in addrs (lazily; grpc.NewClient does not
// block on connection establishment) and returns a Client ready to use as a
// txn.Backend.
func Dial(addrs []string, opts ...Option) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: at least one server address is required")
	}

	c := &Client{timeout: defaultTimeout, retries: defaultRetries}
	for _, opt := range opts {
		opt(c)
	}

	for _, addr := range addrs {
		conn, err := grpc.NewClient(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(rpc.Codec()),
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("client: dial %s: %w", addr, err)
		}
		c.conns = append(c.conns, conn)
		c.stubs = append(c.stubs, rpc.NewClient(conn))
	}
	return c, nil
}

// Close tears down every connection the client holds.
func (c *Client) Close() error {
	var first error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Client) nextSeq() uint64 {
	return atomic.AddUint64(&c.seq, 1)
}

// order returns the stub indices to try, starting from the last-known
// leader and wrapping around the rest of the list.
func (c *Client) order() []int {
	c.mu.Lock()
	start := c.leader
	c.mu.Unlock()

	n := len(c.stubs)
	order := make([]int, n)
	for i := range order {
		order[i] = (start + i) % n
	}
	return order
}

func (c *Client) rememberLeader(i int) {
	c.mu.Lock()
	c.leader = i
	c.mu.Unlock()
}

// attempt runs fn against each server in leader-first order, for up to
// retries passes, rotating away from a server that answers NotLeader or
// fails outright. fn returns done=true once it has a reply worth keeping
// (success, or a definitive non-retryable error such as KeyNotFound or
// Aborted).
func (c *Client) attempt(ctx context.Context, fn func(ctx context.Context, stub *rpc.Client) (done bool, err error)) error {
	var lastErr error
	for pass := 0; pass < c.retries; pass++ {
		for _, i := range c.order() {
			attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
			done, err := fn(attemptCtx, c.stubs[i])
			cancel()

			if err == nil {
				c.rememberLeader(i)
				return nil
			}
			lastErr = err
			if done {
				return err
			}
			log.WithComponent("client").Debug().Int("server", i).Err(err).Msg("rpc attempt failed, trying next server")
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("client: no servers configured")
	}
	return lastErr
}

// nonRetryable reports whether code represents a definitive answer rather
// than a transient failure worth retrying against another server.
func nonRetryable(code rpc.Code) bool {
	switch code {
	case rpc.CodeKeyNotFound, rpc.CodeAborted, rpc.CodeDuplicatedRequest:
		return true
	default:
		return false
	}
}

func (c *Client) GetTimestamp(ctx context.Context) (uint64, error) {
	var ts uint64
	err := c.attempt(ctx, func(ctx context.Context, stub *rpc.Client) (bool, error) {
		reply, rpcErr := stub.GetTimestamp(ctx, &rpc.TsRequest{Name: "percokv"})
		if rpcErr != nil {
			return false, rpcErr
		}
		if reply.Code != rpc.CodeOK {
			return nonRetryable(reply.Code), rpc.ErrorFor(reply.Code, reply.Msg)
		}
		ts = reply.TS
		return true, nil
	})
	return ts, err
}

func (c *Client) Get(ctx context.Context, key string, startTS uint64) (string, bool, error) {
	var value string
	var found bool
	seq := c.nextSeq()
	err := c.attempt(ctx, func(ctx context.Context, stub *rpc.Client) (bool, error) {
		reply, rpcErr := stub.Get(ctx, &rpc.GetRequest{Key: key, TS: startTS, Seq: seq})
		if rpcErr != nil {
			return false, rpcErr
		}
		if reply.Code == rpc.CodeKeyNotFound {
			found = false
			return true, txn.ErrKeyNotFound
		}
		if reply.Code != rpc.CodeOK {
			return nonRetryable(reply.Code), rpc.ErrorFor(reply.Code, reply.Msg)
		}
		value, found = reply.Message, true
		return true, nil
	})
	if errors.Is(err, txn.ErrKeyNotFound) {
		return "", false, nil
	}
	return value, found, err
}

func (c *Client) Prewrite(ctx context.Context, key, value string, op mvcc.Op, primary string, startTS uint64) error {
	seq := c.nextSeq()
	return c.attempt(ctx, func(ctx context.Context, stub *rpc.Client) (bool, error) {
		reply, rpcErr := stub.Prewrite(ctx, &rpc.PrewriteRequest{
			Key: key, Value: value, Op: op, Primary: primary, TS: startTS, Seq: seq,
		})
		if rpcErr != nil {
			return false, rpcErr
		}
		if reply.Code != rpc.CodeOK && reply.Code != rpc.CodeDuplicatedRequest {
			return nonRetryable(reply.Code), rpc.ErrorFor(reply.Code, reply.Msg)
		}
		return true, nil
	})
}

func (c *Client) CommitPrimary(ctx context.Context, primary string, startTS, commitTS uint64, op mvcc.Op) error {
	return c.commit(ctx, rpc.CommitRequest{
		IsPrimary: true, Primary: primary, Key: primary, Op: op, StartTS: startTS, CommitTS: commitTS,
	})
}

func (c *Client) CommitSecondary(ctx context.Context, key string, startTS, commitTS uint64, op mvcc.Op) error {
	return c.commit(ctx, rpc.CommitRequest{
		IsPrimary: false, Key: key, Op: op, StartTS: startTS, CommitTS: commitTS,
	})
}

func (c *Client) commit(ctx context.Context, req rpc.CommitRequest) error {
	req.Seq = c.nextSeq()
	return c.attempt(ctx, func(ctx context.Context, stub *rpc.Client) (bool, error) {
		reply, rpcErr := stub.Commit(ctx, &req)
		if rpcErr != nil {
			return false, rpcErr
		}
		if reply.Code != rpc.CodeOK && reply.Code != rpc.CodeDuplicatedRequest {
			return nonRetryable(reply.Code), rpc.ErrorFor(reply.Code, reply.Msg)
		}
		return true, nil
	})
}

var _ txn.Backend = (*Client)(nil)
