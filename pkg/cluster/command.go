package cluster

// Command is a state mutation applied to a State, either directly by the
// local node (algorithm=simple) or via a committed Raft log entry
// (algorithm=raft). Mirrors the teacher's poc/raft/fsm.go Command shape:
// a tagged op plus a JSON payload, so the same type doubles as the Raft
// FSM's log entry.
type Command struct {
	Op     string      `json:"op"`
	Node   *NodeRecord `json:"node,omitempty"`
	NodeID string      `json:"node_id,omitempty"`
	Status NodeStatus  `json:"status,omitempty"`
	Leader string      `json:"leader,omitempty"`
	Term   uint64      `json:"term,omitempty"`
}

const (
	OpUpsertNode = "upsert_node"
	OpRemoveNode = "remove_node"
	OpMarkStatus = "mark_status"
	OpSetLeader  = "set_leader"
)

// apply applies cmd to state directly, bypassing consensus. Used by both
// the Raft FSM (after a log entry commits) and the simple elector (which
// has no log — every accepted mutation applies immediately).
func apply(state *State, cmd Command) {
	switch cmd.Op {
	case OpUpsertNode:
		if cmd.Node != nil {
			state.Upsert(cmd.Node)
		}
	case OpRemoveNode:
		state.Remove(cmd.NodeID)
	case OpMarkStatus:
		state.MarkStatus(cmd.NodeID, cmd.Status)
	case OpSetLeader:
		state.SetLeader(cmd.Leader, cmd.Term)
	}
}
