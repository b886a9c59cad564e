package clusterrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/meridianvpn/fleet/pkg/cluster"
)

// Client dials a peer's cluster RPC endpoint. It implements
// cluster.PeerClient so a Coordinator can use it directly as a Dialer
// target without pkg/cluster importing this package.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a peer's cluster bind address. Grounded on
// cuemby-warren/pkg/client/client.go's NewClient, minus mTLS (see server.go).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// DialPeer adapts Dial to cluster.Dialer's signature for wiring into
// cluster.NewCoordinator.
func DialPeer(addr string) (cluster.PeerClient, error) {
	return Dial(addr)
}

func (c *Client) Join(ctx context.Context, self *cluster.NodeRecord, clusterName string) (*cluster.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := &JoinRequest{Node: *self, ClusterName: clusterName}
	resp := new(JoinResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Join", req, resp); err != nil {
		return nil, fmt.Errorf("clusterrpc: join: %w", err)
	}
	return resp.State, nil
}

func (c *Client) Leave(ctx context.Context, nodeID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := &LeaveRequest{NodeID: nodeID}
	resp := new(LeaveResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Leave", req, resp); err != nil {
		return fmt.Errorf("clusterrpc: leave: %w", err)
	}
	return nil
}

// Heartbeat satisfies cluster.PeerClient.
func (c *Client) Heartbeat(ctx context.Context, _ string, self *cluster.NodeRecord) (string, uint64, error) {
	req := &HeartbeatRequest{NodeID: self.ID}
	resp := new(HeartbeatResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Heartbeat", req, resp); err != nil {
		return "", 0, fmt.Errorf("clusterrpc: heartbeat: %w", err)
	}
	return resp.LeaderID, resp.Term, nil
}

func (c *Client) GetStatus(ctx context.Context) (*cluster.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := new(GetStatusRequest)
	resp := new(GetStatusResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/GetStatus", req, resp); err != nil {
		return nil, fmt.Errorf("clusterrpc: get status: %w", err)
	}
	return &resp.State, nil
}
