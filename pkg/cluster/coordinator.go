package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// PeerClient is the outgoing half of the cluster RPC, implemented by
// pkg/clusterrpc's client wrapper. Coordinator depends only on this small
// interface so pkg/cluster never imports the transport package.
type PeerClient interface {
	Heartbeat(ctx context.Context, addr string, self *NodeRecord) (leaderID string, term uint64, err error)
	Close() error
}

// Dialer opens a PeerClient to a peer's bind address.
type Dialer func(addr string) (PeerClient, error)

// Coordinator drives one node's participation in the cluster: heartbeats
// to peers, failure detection, leader election (via Elector), and
// CoordinationEvent emission. One Coordinator exists per running node;
// it owns the node's own State, Elector and EventBroker. Modeled on the
// teacher's HealthMonitor.monitorLoop ticker/stopCh goroutine shape,
// generalized from per-container health checks to per-peer heartbeats.
type Coordinator struct {
	cfg    Config
	self   *NodeRecord
	state  *State
	broker *EventBroker
	elect  Elector
	dial   Dialer

	mu     sync.Mutex
	dialed map[string]PeerClient

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCoordinator assembles a Coordinator for cfg. dial is used to open RPC
// clients to peers discovered via gossip/bootstrap; pass a nil dial for
// tests that only exercise local state transitions.
func NewCoordinator(cfg Config, dial Dialer) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	state := newState(cfg.ClusterName)
	self := &NodeRecord{ID: newNodeID(), Name: cfg.NodeName, BindAddress: cfg.BindAddress, Status: NodeActive}
	state.Upsert(self)

	var elect Elector
	var err error
	switch cfg.ConsensusAlgorithm {
	case AlgorithmRaft:
		elect, err = newRaftElector(cfg, state)
	case AlgorithmSimple:
		elect = newSimpleElector(self.ID, state, cfg.ElectionTimeout, cfg.HeartbeatInterval)
	default:
		err = fmt.Errorf("%w: unsupported consensus algorithm %q", ferrors.ErrConfig, cfg.ConsensusAlgorithm)
	}
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:    cfg,
		self:   self,
		state:  state,
		broker: NewEventBroker(),
		elect:  elect,
		dial:   dial,
		dialed: make(map[string]PeerClient),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Self returns the local node's record.
func (c *Coordinator) Self() *NodeRecord { return c.self }

// State returns the coordinator's membership view.
func (c *Coordinator) State() *State { return c.state }

// Events returns the coordinator's event broker for subscribers.
func (c *Coordinator) Events() *EventBroker { return c.broker }

// Run starts the coordinator's background loops and blocks until ctx is
// canceled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) error {
	c.broker.Start()
	defer c.broker.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.elect.Campaign(gctx) })
	g.Go(func() error {
		c.heartbeatLoop(gctx)
		return nil
	})

	select {
	case <-ctx.Done():
	case <-c.stopCh:
		cancel()
	}
	err := g.Wait()
	close(c.doneCh)
	return err
}

// Stop signals the coordinator's loops to exit and closes dialed peer
// connections.
func (c *Coordinator) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.dialed {
		client.Close()
	}
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.heartbeatPeers(ctx)
			c.detectFailures()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) heartbeatPeers(ctx context.Context) {
	snap := c.state.Snapshot()
	for id, member := range snap.Members {
		if id == c.self.ID || c.dial == nil {
			continue
		}
		client, err := c.client(member.BindAddress)
		if err != nil {
			continue
		}
		leaderID, term, err := client.Heartbeat(ctx, member.BindAddress, c.self)
		if err != nil {
			c.recordMiss(id)
			continue
		}
		c.resetMisses(id)
		c.state.SetLeader(leaderID, term)
	}
}

func (c *Coordinator) client(addr string) (PeerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.dialed[addr]; ok {
		return client, nil
	}
	client, err := c.dial(addr)
	if err != nil {
		return nil, err
	}
	c.dialed[addr] = client
	return client, nil
}

func (c *Coordinator) recordMiss(id string) {
	c.state.mu.Lock()
	node, ok := c.state.members[id]
	if !ok {
		c.state.mu.Unlock()
		return
	}
	node.missedHeartbeats++
	missed := node.missedHeartbeats
	status := node.Status
	c.state.mu.Unlock()

	if missed >= c.cfg.MaxMissedHeartbeats && status == NodeActive {
		c.state.MarkStatus(id, NodeSuspect)
		c.broker.Publish(&CoordinationEvent{Type: EventMembershipChanged, NodeID: id, Message: "marked suspect after missed heartbeats"})
	}
}

func (c *Coordinator) resetMisses(id string) {
	c.state.mu.Lock()
	node, ok := c.state.members[id]
	if !ok {
		c.state.mu.Unlock()
		return
	}
	wasSuspectOrFailed := node.Status != NodeActive
	node.missedHeartbeats = 0
	node.Status = NodeActive
	c.state.mu.Unlock()

	if wasSuspectOrFailed {
		c.broker.Publish(&CoordinationEvent{Type: EventMembershipChanged, NodeID: id, Message: "recovered"})
	}
}

// detectFailures promotes long-suspect nodes to failed once suspicion_timeout
// worth of missed heartbeats has elapsed, per spec.md §4.10.
func (c *Coordinator) detectFailures() {
	failedTicks := int(c.cfg.SuspicionTimeout / c.cfg.HeartbeatInterval)
	if failedTicks < 1 {
		failedTicks = 1
	}

	c.state.mu.Lock()
	var toFail []string
	for id, n := range c.state.members {
		if n.Status == NodeSuspect && n.missedHeartbeats >= c.cfg.MaxMissedHeartbeats+failedTicks {
			toFail = append(toFail, id)
		}
	}
	c.state.mu.Unlock()

	for _, id := range toFail {
		c.state.MarkStatus(id, NodeFailed)
		c.broker.Publish(&CoordinationEvent{Type: EventNodeFailed, NodeID: id, Message: "no heartbeat reply within suspicion timeout"})
	}
}

// Join admits a remote node record into the local membership view, as the
// receiving side of a cluster RPC Join call, and returns the resulting
// snapshot. Quorum is not checked: joins are always accepted, since quorum
// only gates state-changing configuration operations per spec.md §4.10.
func (c *Coordinator) Join(node *NodeRecord) Snapshot {
	c.state.Upsert(node)
	c.broker.Publish(&CoordinationEvent{Type: EventNodeJoined, NodeID: node.ID, Message: "joined via RPC"})
	c.broker.Publish(&CoordinationEvent{Type: EventMembershipChanged, NodeID: node.ID})
	return c.state.Snapshot()
}

// Leave removes id from the local membership view.
func (c *Coordinator) Leave(id string) {
	c.state.Remove(id)
	c.broker.Publish(&CoordinationEvent{Type: EventNodeLeft, NodeID: id})
	c.broker.Publish(&CoordinationEvent{Type: EventMembershipChanged, NodeID: id})
}

// RequireQuorum returns ferrors.ErrNoQuorum unless at least a strict
// majority of known members are active, per spec.md §4.10's quorum rule.
func (c *Coordinator) RequireQuorum() error {
	total := c.state.TotalCount()
	active := c.state.ActiveCount()
	if total == 0 || active < total/2+1 {
		return ferrors.ErrNoQuorum
	}
	return nil
}
