package cluster

import "sync"

// State is the cluster membership and term/version view a single node
// holds. Exactly one active leader exists at a given term; at most one
// node holds a given bind address — both enforced by the mutators below.
// Reads are snapshot-clones; writes are brief (term/membership swap), per
// spec.md §5's shared-resource policy.
type State struct {
	mu sync.RWMutex

	name    string
	members map[string]*NodeRecord
	leader  string
	term    uint64
	version uint64
}

// newState builds an empty State for clusterName.
func newState(clusterName string) *State {
	return &State{
		name:    clusterName,
		members: make(map[string]*NodeRecord),
	}
}

// Snapshot is a read-only copy of State, safe to hold after the lock is
// released.
type Snapshot struct {
	Name    string
	Members map[string]*NodeRecord
	Leader  string
	Term    uint64
	Version uint64
}

// Snapshot returns a deep-cloned view of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make(map[string]*NodeRecord, len(s.members))
	for id, n := range s.members {
		members[id] = n.clone()
	}
	return Snapshot{Name: s.name, Members: members, Leader: s.leader, Term: s.term, Version: s.version}
}

// ActiveCount returns the number of members currently marked active,
// including the local node.
func (s *State) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.members {
		if m.Status == NodeActive {
			n++
		}
	}
	return n
}

// TotalCount returns the number of known members, regardless of status.
func (s *State) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Upsert inserts node into the membership set, replacing any record with
// the same id. Any other member holding the same bind address is evicted.
func (s *State) Upsert(node *NodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.members {
		if id != node.ID && existing.BindAddress == node.BindAddress {
			delete(s.members, id) // the new record supersedes a stale bind-address holder
		}
	}
	s.members[node.ID] = node.clone()
	s.version++
}

// Remove drops id from the membership set.
func (s *State) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, id)
	s.version++
}

// MarkStatus transitions id's liveness status.
func (s *State) MarkStatus(id string, status NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[id]; ok {
		m.Status = status
	}
}

// Get returns a cloned record for id, if known.
func (s *State) Get(id string) (*NodeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// Leader returns the current leader id and term.
func (s *State) Leader() (id string, term uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader, s.term
}

// SetLeader records a new leader for term, provided term is not older than
// the state's current term — the (term, version) conflict-resolution rule
// spec.md §4.10 describes for reconciling concurrent membership views.
func (s *State) SetLeader(id string, term uint64) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if term < s.term {
		return false
	}
	changed = s.leader != id || s.term != term
	s.leader = id
	s.term = term
	return changed
}

// MergeFrom reconciles a remote peer's membership view into this state,
// keeping the remote copy only if its (term, version) is strictly greater
// — spec.md §4.10's gossip conflict resolution.
func (s *State) MergeFrom(remote Snapshot) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remote.Term < s.term || (remote.Term == s.term && remote.Version <= s.version) {
		return false
	}
	s.term = remote.Term
	s.version = remote.Version
	if remote.Leader != "" {
		s.leader = remote.Leader
	}
	for id, n := range remote.Members {
		s.members[id] = n.clone()
	}
	return true
}
