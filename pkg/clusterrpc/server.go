package clusterrpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/rs/zerolog"

	"github.com/meridianvpn/fleet/pkg/cluster"
)

// Server adapts a *cluster.Coordinator to ClusterServer and owns the
// listening grpc.Server. Grounded on cuemby-warren/pkg/api/server.go's
// Server{manager, grpc}/Start/Stop shape, minus mTLS: the cluster RPC has
// no mTLS requirement in spec.md §6, and per-user key material already
// carries its own authority model elsewhere in this system.
type Server struct {
	coord *cluster.Coordinator
	grpc  *grpc.Server
	log   zerolog.Logger
}

func NewServer(coord *cluster.Coordinator, logger zerolog.Logger) *Server {
	s := &Server{coord: coord, log: logger}
	s.grpc = grpc.NewServer()
	RegisterClusterServer(s.grpc, s)
	return s
}

// Serve listens on addr and blocks serving the cluster RPC until the
// server is stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("clusterrpc: listen: %w", err)
	}
	s.log.Info().Str("addr", addr).Msg("cluster rpc listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	node := req.Node
	snap := s.coord.Join(&node)
	return &JoinResponse{Success: true, Message: "joined", State: &snap}, nil
}

func (s *Server) Leave(ctx context.Context, req *LeaveRequest) (*LeaveResponse, error) {
	s.coord.Leave(req.NodeID)
	return &LeaveResponse{Success: true, Message: "left"}, nil
}

func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	leaderID, term := s.coord.State().Leader()
	return &HeartbeatResponse{
		Success:    true,
		ServerTime: time.Now().UnixMilli(),
		LeaderID:   leaderID,
		Term:       term,
	}, nil
}

func (s *Server) GetStatus(ctx context.Context, req *GetStatusRequest) (*GetStatusResponse, error) {
	return &GetStatusResponse{State: s.coord.State().Snapshot()}, nil
}
