package cluster

import "testing"

func TestUpsertEvictsStaleBindAddressHolder(t *testing.T) {
	s := newState("test")
	s.Upsert(&NodeRecord{ID: "a", BindAddress: "10.0.0.1:7000", Status: NodeActive})
	s.Upsert(&NodeRecord{ID: "b", BindAddress: "10.0.0.1:7000", Status: NodeActive})

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected stale holder a to be evicted")
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatal("expected b to hold the bind address")
	}
	if s.TotalCount() != 1 {
		t.Fatalf("total = %d, want 1", s.TotalCount())
	}
}

func TestSetLeaderRejectsOlderTerm(t *testing.T) {
	s := newState("test")
	s.SetLeader("a", 5)
	if changed := s.SetLeader("b", 3); changed {
		t.Fatal("expected older term to be rejected")
	}
	id, term := s.Leader()
	if id != "a" || term != 5 {
		t.Fatalf("leader = %s@%d, want a@5", id, term)
	}
}

func TestSetLeaderAcceptsNewerTerm(t *testing.T) {
	s := newState("test")
	s.SetLeader("a", 5)
	if changed := s.SetLeader("b", 6); !changed {
		t.Fatal("expected newer term to be accepted")
	}
	id, term := s.Leader()
	if id != "b" || term != 6 {
		t.Fatalf("leader = %s@%d, want b@6", id, term)
	}
}

func TestMergeFromAppliesOnlyStrictlyNewer(t *testing.T) {
	s := newState("test")
	s.Upsert(&NodeRecord{ID: "a", BindAddress: "10.0.0.1:7000", Status: NodeActive})

	stale := Snapshot{Term: 0, Version: 0, Members: map[string]*NodeRecord{}}
	if applied := s.MergeFrom(stale); applied {
		t.Fatal("expected stale snapshot to be rejected")
	}

	fresh := Snapshot{
		Term:    1,
		Version: 1,
		Leader:  "b",
		Members: map[string]*NodeRecord{"b": {ID: "b", BindAddress: "10.0.0.2:7000", Status: NodeActive}},
	}
	if applied := s.MergeFrom(fresh); !applied {
		t.Fatal("expected newer snapshot to be applied")
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatal("expected b to be merged in")
	}
	if id, term := s.Leader(); id != "b" || term != 1 {
		t.Fatalf("leader after merge = %s@%d, want b@1", id, term)
	}
}

func TestActiveAndTotalCount(t *testing.T) {
	s := newState("test")
	s.Upsert(&NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive})
	s.Upsert(&NodeRecord{ID: "b", BindAddress: "2:2", Status: NodeSuspect})
	s.Upsert(&NodeRecord{ID: "c", BindAddress: "3:3", Status: NodeFailed})

	if s.TotalCount() != 3 {
		t.Fatalf("total = %d, want 3", s.TotalCount())
	}
	if s.ActiveCount() != 1 {
		t.Fatalf("active = %d, want 1", s.ActiveCount())
	}
}

func TestSnapshotIsIndependentOfState(t *testing.T) {
	s := newState("test")
	s.Upsert(&NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive})

	snap := s.Snapshot()
	s.MarkStatus("a", NodeFailed)

	if snap.Members["a"].Status != NodeActive {
		t.Fatal("snapshot should not observe later mutation")
	}
}
