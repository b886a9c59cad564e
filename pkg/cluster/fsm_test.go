package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
)

func TestFSMApplyDecodesAndAppliesCommand(t *testing.T) {
	state := newState("test")
	f := newFSM(state)

	cmd := Command{Op: OpUpsertNode, Node: &NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive}}
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if result := f.Apply(&raft.Log{Data: data}); result != nil {
		t.Fatalf("Apply returned unexpected error: %v", result)
	}
	if _, ok := state.Get("a"); !ok {
		t.Fatal("expected node a to be applied")
	}
}

func TestFSMApplyReturnsErrorOnMalformedLog(t *testing.T) {
	f := newFSM(newState("test"))
	result := f.Apply(&raft.Log{Data: []byte("not json")})
	if result == nil {
		t.Fatal("expected an error result for malformed log data")
	}
	if _, ok := result.(error); !ok {
		t.Fatalf("expected result to be an error, got %T", result)
	}
}

type discardSink struct {
	bytes.Buffer
}

func (discardSink) ID() string      { return "snap-1" }
func (discardSink) Cancel() error   { return nil }
func (s *discardSink) Close() error { return nil }

func TestFSMSnapshotAndRestoreRoundTrip(t *testing.T) {
	state := newState("test")
	state.Upsert(&NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive})
	state.SetLeader("a", 3)
	f := newFSM(state)

	snap, err := f.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	sink := &discardSink{}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	restored := newFSM(newState("test"))
	if err := restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, ok := restored.state.Get("a"); !ok {
		t.Fatal("expected restored state to contain node a")
	}
	if id, term := restored.state.Leader(); id != "a" || term != 3 {
		t.Fatalf("restored leader = %s@%d, want a@3", id, term)
	}
}
