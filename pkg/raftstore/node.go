package raftstore

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/metrics"
	"github.com/cuemby/percokv/pkg/mvcc"
	"github.com/cuemby/percokv/pkg/txn"
)

// Config configures a replicated node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	StorageKind mvcc.Kind
	LockTTL     time.Duration
	// MaxRaftState bounds how many log entries accumulate before Raft
	// triggers a snapshot. It is the entry-count analogue of a byte-size
	// maxraftstate threshold: hashicorp/raft snapshots on log length, not
	// log bytes, so this is sized generously relative to a byte budget
	// rather than translated 1:1.
	MaxRaftState uint64
}

func (c Config) withDefaults() Config {
	if c.StorageKind == "" {
		c.StorageKind = mvcc.KindLog
	}
	if c.LockTTL == 0 {
		c.LockTTL = txn.DefaultLockTTL
	}
	if c.MaxRaftState == 0 {
		c.MaxRaftState = 1024
	}
	return c
}

// Node is one replica of a percokv Raft group: a local MVCC store and
// Percolator engine, fronted by a hashicorp/raft log that orders and
// durably replicates every mutating request before the engine executes it.
type Node struct {
	cfg Config

	raft   *raft.Raft
	fsm    *fsm
	engine *txn.Engine
}

// New opens local storage and builds the FSM, but does not start Raft;
// call Bootstrap or Join next.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("raftstore: create data dir: %w", err)
	}

	store, err := mvcc.Open(filepath.Join(cfg.DataDir, "store"), cfg.StorageKind)
	if err != nil {
		return nil, fmt.Errorf("raftstore: open store: %w", err)
	}
	engine := txn.NewEngine(store, txn.WithLockTTL(cfg.LockTTL))

	return &Node{cfg: cfg, engine: engine, fsm: newFSM(engine)}, nil
}

func (n *Node) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(n.cfg.NodeID)
	// Tuned for LAN replicas rather than hashicorp/raft's WAN-conservative
	// defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.SnapshotThreshold = n.cfg.MaxRaftState
	return config
}

func (n *Node) buildRaft() (*raft.Raft, raft.Configuration, error) {
	config := n.raftConfig()

	addr, err := net.ResolveTCPAddr("tcp", n.cfg.BindAddr)
	if err != nil {
		return nil, raft.Configuration{}, fmt.Errorf("raftstore: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(n.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, raft.Configuration{}, fmt.Errorf("raftstore: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, raft.Configuration{}, fmt.Errorf("raftstore: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, raft.Configuration{}, fmt.Errorf("raftstore: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, raft.Configuration{}, fmt.Errorf("raftstore: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, raft.Configuration{}, fmt.Errorf("raftstore: create raft: %w", err)
	}

	return r, raft.Configuration{Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}}}, nil
}

// Bootstrap starts Raft as the sole member of a brand-new single-node
// cluster. Other nodes join it afterward via Join plus AddVoter on this
// node.
func (n *Node) Bootstrap() error {
	r, bootConfig, err := n.buildRaft()
	if err != nil {
		return err
	}
	n.raft = r

	if err := n.raft.BootstrapCluster(bootConfig).Error(); err != nil {
		return fmt.Errorf("raftstore: bootstrap cluster: %w", err)
	}
	log.WithReplicaID(n.cfg.NodeID).Info().Str("addr", n.cfg.BindAddr).Msg("bootstrapped raft cluster")
	return nil
}

// Join starts Raft for a node that expects to be added to an existing
// cluster by its leader. The caller is responsible for getting the leader
// to call AddVoter(n.ID(), n.BindAddr()) on itself; neither this package nor
// the pkg/rpc service issues that call.
func (n *Node) Join() error {
	r, _, err := n.buildRaft()
	if err != nil {
		return err
	}
	n.raft = r
	log.WithReplicaID(n.cfg.NodeID).Info().Str("addr", n.cfg.BindAddr).Msg("started raft, waiting to be added to a cluster")
	return nil
}

// AddVoter adds a new member to the cluster. Only the leader may call this.
func (n *Node) AddVoter(nodeID, addr string) error {
	if !n.IsLeader() {
		return txn.ErrNotLeader
	}
	return n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// RemoveServer removes a member from the cluster. Only the leader may call
// this.
func (n *Node) RemoveServer(nodeID string) error {
	if !n.IsLeader() {
		return txn.ErrNotLeader
	}
	return n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

// ID returns this node's Raft server ID.
func (n *Node) ID() string { return n.cfg.NodeID }

// BindAddr returns this node's Raft transport address.
func (n *Node) BindAddr() string { return n.cfg.BindAddr }

// IsLeader reports whether this node currently believes it is the leader.
func (n *Node) IsLeader() bool { return n.raft != nil && n.raft.State() == raft.Leader }

// LeaderAddr returns the address of the replica this node currently
// believes is the leader, empty if unknown.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	return string(n.raft.Leader())
}

// Stats reports a snapshot of Raft's internal counters (raft.Stats), or nil
// before Raft has been started.
func (n *Node) Stats() map[string]string {
	if n.raft == nil {
		return nil
	}
	return n.raft.Stats()
}

const defaultApplyTimeout = 5 * time.Second

// Propose replicates cmd through Raft and returns once a quorum has
// committed it and this leader's FSM has applied it. It returns ErrNotLeader immediately without touching the log
// if this node is not currently the leader, so callers can fail fast and
// redirect instead of waiting out the full apply timeout.
func (n *Node) Propose(cmd Command) (*Result, error) {
	if !n.IsLeader() {
		return nil, txn.ErrNotLeader
	}
	data, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	future := n.raft.Apply(data, defaultApplyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrLeadershipLost) || errors.Is(err, raft.ErrNotLeader) {
			return nil, txn.ErrNotLeader
		}
		return nil, txn.ErrTimeout
	}

	result, ok := future.Response().(*Result)
	if !ok {
		return nil, fmt.Errorf("raftstore: unexpected apply response type %T", future.Response())
	}
	return result, nil
}

// AllocateTimestamp replicates a timestamp-oracle increment and returns the
// freshly issued value. Routing timestamp issuance through Raft, instead of
// each replica keeping its own local counter, is what keeps timestamps
// strictly increasing across a leader change.
func (n *Node) AllocateTimestamp() (uint64, error) {
	res, err := n.Propose(Command{Kind: KindAllocateTS})
	if err != nil {
		return 0, err
	}
	return res.TS, res.Err
}

// Get reads key as of startTS by proposing it through Raft like any other
// Percolator step, so it only executes once ordered against every write
// already in the log and is refused with ErrNotLeader by a follower the
// same way a write would be, guaranteeing linearizability rather than
// just the weaker read-from-own-applied-log guarantee a local read gives.
func (n *Node) Get(key string, startTS uint64) (string, bool, error) {
	res, err := n.Propose(Command{Kind: KindGet, Key: key, StartTS: startTS})
	if err != nil {
		return "", false, err
	}
	return res.Value, res.Found, res.Err
}

// Shutdown stops Raft and closes local storage.
func (n *Node) Shutdown() error {
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("raftstore: shutdown raft: %w", err)
		}
	}
	return n.engine.Store().Close()
}

// ReportMetrics refreshes the package-level Raft gauges from this node's
// current state. Intended to be called on a short ticker by whatever
// process embeds this node.
func (n *Node) ReportMetrics() {
	if n.raft == nil {
		return
	}
	if n.IsLeader() {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
	metrics.RaftLastLogIndex.Set(float64(n.raft.LastIndex()))
	metrics.RaftAppliedIndex.Set(float64(n.raft.AppliedIndex()))
	if term, err := strconv.ParseUint(n.raft.Stats()["term"], 10, 64); err == nil {
		metrics.RaftTerm.Set(float64(term))
	}
}
