package cluster

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
)

// fsm adapts State to raft.FSM: Apply decodes a committed log entry into a
// Command and applies it to state; Snapshot/Restore persist and reload the
// full membership view. Modeled on poc/raft/fsm.go's Apply/Snapshot/Restore
// shape, generalized from key-value commands to membership/leader commands.
type fsm struct {
	state *State
}

func newFSM(state *State) *fsm {
	return &fsm{state: state}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	apply(f.state, cmd)
	return nil
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{snap: f.state.Snapshot()}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.leader = snap.Leader
	f.state.term = snap.Term
	f.state.version = snap.Version
	f.state.members = make(map[string]*NodeRecord, len(snap.Members))
	for id, n := range snap.Members {
		f.state.members[id] = n.clone()
	}
	return nil
}

type fsmSnapshot struct {
	snap Snapshot
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		b, err := json.Marshal(s.snap)
		if err != nil {
			return err
		}
		if _, err := sink.Write(b); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
