package cluster

import "testing"

func TestApplyUpsertNode(t *testing.T) {
	s := newState("test")
	apply(s, Command{Op: OpUpsertNode, Node: &NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive}})

	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected node a to be upserted")
	}
}

func TestApplyRemoveNode(t *testing.T) {
	s := newState("test")
	s.Upsert(&NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive})
	apply(s, Command{Op: OpRemoveNode, NodeID: "a"})

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected node a to be removed")
	}
}

func TestApplyMarkStatus(t *testing.T) {
	s := newState("test")
	s.Upsert(&NodeRecord{ID: "a", BindAddress: "1:1", Status: NodeActive})
	apply(s, Command{Op: OpMarkStatus, NodeID: "a", Status: NodeSuspect})

	n, _ := s.Get("a")
	if n.Status != NodeSuspect {
		t.Fatalf("status = %s, want suspect", n.Status)
	}
}

func TestApplySetLeader(t *testing.T) {
	s := newState("test")
	apply(s, Command{Op: OpSetLeader, Leader: "a", Term: 2})

	id, term := s.Leader()
	if id != "a" || term != 2 {
		t.Fatalf("leader = %s@%d, want a@2", id, term)
	}
}

func TestApplyUnknownOpIsNoop(t *testing.T) {
	s := newState("test")
	apply(s, Command{Op: "bogus"})

	if s.TotalCount() != 0 {
		t.Fatalf("expected no state change, got %d members", s.TotalCount())
	}
}
