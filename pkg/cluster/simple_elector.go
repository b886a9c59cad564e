package cluster

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// simpleElector implements the "simple" consensus algorithm: a bully-lite
// scheme where the node with the lexicographically smallest id among
// currently active members wins leadership. No log replication occurs;
// Propose applies directly to the shared State, since a single leader
// serializes all calls to it by construction (only the leader's Propose
// calls succeed, per the Elector contract).
type simpleElector struct {
	localID   string
	state     *State
	election  time.Duration
	heartbeat time.Duration

	mu       sync.Mutex
	term     uint64
	isLeader bool
}

func newSimpleElector(localID string, state *State, election, heartbeat time.Duration) *simpleElector {
	return &simpleElector{
		localID:   localID,
		state:     state,
		election:  election,
		heartbeat: heartbeat,
	}
}

// Campaign runs the election loop: on each tick it checks whether a leader
// is known; if not, it computes the smallest live id among active members
// and claims leadership if that id is the local one, bumping the term.
func (e *simpleElector) Campaign(ctx context.Context) error {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *simpleElector) tick() {
	leaderID, term := e.state.Leader()
	if leaderID != "" {
		if leader, ok := e.state.Get(leaderID); ok && leader.Status == NodeActive {
			e.mu.Lock()
			e.isLeader = leaderID == e.localID
			e.term = term
			e.mu.Unlock()
			return
		}
	}

	// No live leader known: the smallest active id among members (including
	// self) wins, per spec.md §4.10's "Simple mode elects the node with the
	// lexicographically smallest id among active members."
	snap := e.state.Snapshot()
	smallest := e.localID
	for id, n := range snap.Members {
		if n.Status == NodeActive && id < smallest {
			smallest = id
		}
	}

	// jittered backoff before claiming, so two nodes racing on the same
	// tick don't both immediately self-declare for the same term
	time.Sleep(jitter(e.election))

	newTerm := snap.Term + 1
	if e.state.SetLeader(smallest, newTerm) {
		e.mu.Lock()
		e.term = newTerm
		e.isLeader = smallest == e.localID
		e.mu.Unlock()
	}
}

func jitter(base time.Duration) time.Duration {
	// 150-300% of base, per spec.md §4.10's split-vote retry window
	factor := 1.5 + rand.Float64()*1.5
	return time.Duration(float64(base) * factor)
}

func (e *simpleElector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *simpleElector) LeaderID() string {
	id, _ := e.state.Leader()
	return id
}

func (e *simpleElector) Term() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term
}

func (e *simpleElector) Propose(ctx context.Context, cmd Command) error {
	if !e.IsLeader() {
		return ferrors.ErrNotLeader
	}
	apply(e.state, cmd)
	return nil
}

func (e *simpleElector) Shutdown() error {
	return nil
}
