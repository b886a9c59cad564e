package clusterrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianvpn/fleet/pkg/cluster"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

// startTestServer boots a Coordinator-backed Server on an OS-assigned
// loopback port and returns the dialable address plus a cleanup func.
func startTestServer(t *testing.T) (addr string, coord *cluster.Coordinator, stop func()) {
	t.Helper()

	cfg := cluster.Config{
		ClusterName:        "itest",
		NodeName:           "node-a",
		BindAddress:        "127.0.0.1:0",
		StorageBackend:     cluster.StorageMemory,
		ConsensusAlgorithm: cluster.AlgorithmSimple,
		IsInitialNode:      true,
	}
	coord, err := cluster.NewCoordinator(cfg, func(string) (cluster.PeerClient, error) {
		return nil, context.DeadlineExceeded
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(coord, noopLogger())

	go func() { _ = srv.grpc.Serve(lis) }()

	return lis.Addr().String(), coord, func() { srv.Stop() }
}

func TestClientServerJoinHeartbeatGetStatusRoundTrip(t *testing.T) {
	addr, coord, stop := startTestServer(t)
	defer stop()

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := &cluster.NodeRecord{ID: "node-b", Name: "node-b", BindAddress: "127.0.0.1:9", Status: cluster.NodeActive}
	snap, err := client.Join(ctx, peer, "itest")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, ok := snap.Members["node-b"]; !ok {
		t.Fatalf("expected joined node in snapshot: %+v", snap)
	}
	if _, ok := coord.State().Get("node-b"); !ok {
		t.Fatal("expected coordinator state to reflect joined peer")
	}

	leaderID, _, err := client.Heartbeat(ctx, addr, peer)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	_ = leaderID

	status, err := client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Name != "itest" {
		t.Fatalf("unexpected cluster name: %+v", status)
	}

	if err := client.Leave(ctx, "node-b"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := coord.State().Get("node-b"); ok {
		t.Fatal("expected node-b to be removed after leave")
	}
}
