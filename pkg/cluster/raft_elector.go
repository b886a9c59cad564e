package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// raftElector backs the "raft" consensus algorithm with hashicorp/raft.
// Timeouts replace the library defaults (HeartbeatTimeout=1s,
// ElectionTimeout=1s) with the node's configured heartbeat and election
// values so failover tracks the cluster's own heartbeat cadence.
type raftElector struct {
	r     *raft.Raft
	state *State
	fsm   *fsm
}

func newRaftElector(cfg Config, state *State) (*raftElector, error) {
	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.NodeName)
	rc.HeartbeatTimeout = cfg.HeartbeatInterval
	rc.ElectionTimeout = cfg.ElectionTimeout
	rc.LeaderLeaseTimeout = cfg.HeartbeatInterval

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve bind address: %v", ferrors.ErrConfig, err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddress, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raft snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("raft stable store: %w", err)
	}

	f := newFSM(state)
	r, err := raft.NewRaft(rc, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("start raft: %w", err)
	}

	if cfg.IsInitialNode {
		bootstrap := raft.Configuration{
			Servers: []raft.Server{{ID: rc.LocalID, Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(bootstrap).Error(); err != nil {
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	return &raftElector{r: r, state: state, fsm: f}, nil
}

// Campaign blocks until ctx is canceled, mirroring leadership state into
// State as hashicorp/raft's internal election loop drives it.
func (e *raftElector) Campaign(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, leaderID := e.r.LeaderWithID()
			e.state.SetLeader(string(leaderID), e.Term())
		}
	}
}

func (e *raftElector) IsLeader() bool { return e.r.State() == raft.Leader }

func (e *raftElector) LeaderID() string {
	_, id := e.r.LeaderWithID()
	return string(id)
}

func (e *raftElector) Term() uint64 {
	term, _ := strconv.ParseUint(e.r.Stats()["term"], 10, 64)
	return term
}

func (e *raftElector) Propose(ctx context.Context, cmd Command) error {
	if !e.IsLeader() {
		return ferrors.ErrNotLeader
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	future := e.r.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	return nil
}

// AddVoter admits a new member to the raft configuration. Only valid on the
// current leader; mirrors the teacher's Manager.AddVoter.
func (e *raftElector) AddVoter(id, address string) error {
	if !e.IsLeader() {
		return ferrors.ErrNotLeader
	}
	return e.r.AddVoter(raft.ServerID(id), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer evicts a member from the raft configuration.
func (e *raftElector) RemoveServer(id string) error {
	if !e.IsLeader() {
		return ferrors.ErrNotLeader
	}
	return e.r.RemoveServer(raft.ServerID(id), 0, 10*time.Second).Error()
}

func (e *raftElector) Shutdown() error {
	return e.r.Shutdown().Error()
}
