package clusterrpc

import (
	"context"
	"testing"

	"github.com/meridianvpn/fleet/pkg/cluster"
)

type fakeClusterServer struct {
	joinCalled bool
	lastJoin   *JoinRequest
}

func (f *fakeClusterServer) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	f.joinCalled = true
	f.lastJoin = req
	return &JoinResponse{Success: true, Message: "ok"}, nil
}

func (f *fakeClusterServer) Leave(ctx context.Context, req *LeaveRequest) (*LeaveResponse, error) {
	return &LeaveResponse{Success: true}, nil
}

func (f *fakeClusterServer) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	return &HeartbeatResponse{Success: true, LeaderID: "leader-x", Term: 9}, nil
}

func (f *fakeClusterServer) GetStatus(ctx context.Context, req *GetStatusRequest) (*GetStatusResponse, error) {
	return &GetStatusResponse{State: cluster.Snapshot{Name: "test"}}, nil
}

func decodeInto(v interface{}) func(interface{}) error {
	return func(out interface{}) error {
		switch dst := out.(type) {
		case *JoinRequest:
			*dst = *(v.(*JoinRequest))
		case *LeaveRequest:
			*dst = *(v.(*LeaveRequest))
		case *HeartbeatRequest:
			*dst = *(v.(*HeartbeatRequest))
		case *GetStatusRequest:
			*dst = *(v.(*GetStatusRequest))
		}
		return nil
	}
}

func TestJoinHandlerDispatchesToServer(t *testing.T) {
	srv := &fakeClusterServer{}
	req := &JoinRequest{ClusterName: "test", Node: testNode("a", "1:1")}

	resp, err := joinHandler(srv, context.Background(), decodeInto(req), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !srv.joinCalled {
		t.Fatal("expected Join to be invoked")
	}
	if resp.(*JoinResponse).Message != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHeartbeatHandlerDispatchesToServer(t *testing.T) {
	srv := &fakeClusterServer{}
	req := &HeartbeatRequest{NodeID: "a"}

	resp, err := heartbeatHandler(srv, context.Background(), decodeInto(req), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := resp.(*HeartbeatResponse)
	if out.LeaderID != "leader-x" || out.Term != 9 {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestGetStatusHandlerDispatchesToServer(t *testing.T) {
	srv := &fakeClusterServer{}
	req := &GetStatusRequest{}

	resp, err := getStatusHandler(srv, context.Background(), decodeInto(req), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.(*GetStatusResponse).State.Name != "test" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
