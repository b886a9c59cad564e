package cluster

import "github.com/google/uuid"

// NodeStatus is a member's last-known liveness state.
type NodeStatus string

const (
	NodeActive  NodeStatus = "active"
	NodeSuspect NodeStatus = "suspect"
	NodeFailed  NodeStatus = "failed"
)

// NodeRecord is one cluster member as seen by the local node.
type NodeRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	BindAddress string     `json:"bind_address"`
	Status      NodeStatus `json:"status"`

	missedHeartbeats int
}

// newNodeID mints a fresh UUID for a process start, per spec.md §4.10 ("a
// freshly minted UUID per process start, reused across reconnects within
// the same process").
func newNodeID() string {
	return uuid.NewString()
}

func (n *NodeRecord) clone() *NodeRecord {
	c := *n
	return &c
}
