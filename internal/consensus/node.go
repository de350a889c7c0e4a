package consensus

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	boltdb "github.com/hashicorp/raft-boltdb/v2"
)

// RaftConfig carries the tuning knobs the original openraft deployment
// used; defaults are preserved exactly.
type RaftConfig struct {
	HeartbeatInterval  time.Duration
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	MaxPayloadEntries  uint64
	SnapshotChunkSize  uint64
}

func DefaultRaftConfig() RaftConfig {
	return RaftConfig{
		HeartbeatInterval:  150 * time.Millisecond,
		ElectionTimeoutMin: 300 * time.Millisecond,
		ElectionTimeoutMax: 600 * time.Millisecond,
		MaxPayloadEntries:  300,
		SnapshotChunkSize:  1024 * 1024,
	}
}

// Node wraps a hashicorp/raft instance replicating ClusterState, the Go
// equivalent of the original per-node openraft actor.
type Node struct {
	NodeID string
	raft   *raft.Raft
	fsm    *FSM
}

// Open starts (or rejoins) a Raft node persisting its log and snapshots
// under dataDir, listening for consensus RPCs on bindAddr.
func Open(nodeID, bindAddr, dataDir string, cfg RaftConfig, bootstrap bool) (*Node, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raft data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(nodeID)
	raftCfg.HeartbeatTimeout = cfg.HeartbeatInterval
	raftCfg.ElectionTimeout = cfg.ElectionTimeoutMax
	raftCfg.LeaderLeaseTimeout = cfg.HeartbeatInterval

	fsm := newFSM()

	logStorePath := filepath.Join(dataDir, "raft-log.boltdb")
	logStore, err := boltdb.NewBoltStore(logStorePath)
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}

	stableStorePath := filepath.Join(dataDir, "raft-stable.boltdb")
	stableStore, err := boltdb.NewBoltStore(stableStorePath)
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(dataDir, 3, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("start raft: %w", err)
	}

	if bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
		if err != nil {
			return nil, err
		}
		if !hasState {
			configuration := raft.Configuration{
				Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
			}
			if err := r.BootstrapCluster(configuration).Error(); err != nil {
				return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
			}
		}
	}

	return &Node{NodeID: nodeID, raft: r, fsm: fsm}, nil
}

// Join adds a voting member to the cluster; call on the current leader.
func (n *Node) Join(nodeID, addr string) error {
	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// Leave removes a member from the cluster.
func (n *Node) Leave(nodeID string) error {
	return n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

func (n *Node) LeaderAddr() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

func (n *Node) State() *ClusterState { return n.fsm.state }

// Apply proposes req to the log, blocking until it has been committed
// (or timeout elapses). Must be called on the leader.
func (n *Node) Apply(req StateRequest, timeout time.Duration) error {
	data, err := req.encode()
	if err != nil {
		return err
	}
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return err
	}
	if applyErr, ok := future.Response().(error); ok && applyErr != nil {
		return applyErr
	}
	return nil
}

func (n *Node) Shutdown() error {
	return n.raft.Shutdown().Error()
}
