package cluster

import "context"

// Elector runs one consensus strategy over a shared State. Two
// implementations exist: raftElector (algorithm=raft) and simpleElector
// (algorithm=simple, a lexicographically-smallest-id bully-lite).
type Elector interface {
	// Campaign runs the elector's background loop until ctx is canceled.
	Campaign(ctx context.Context) error
	// IsLeader reports whether the local node currently holds leadership.
	IsLeader() bool
	// LeaderID returns the currently known leader id, or "" if none.
	LeaderID() string
	// Term returns the current term.
	Term() uint64
	// Propose submits a membership mutation for consensus. Only the
	// leader may successfully propose; followers return ferrors.ErrNotLeader.
	Propose(ctx context.Context, cmd Command) error
	// Shutdown releases the elector's resources.
	Shutdown() error
}
