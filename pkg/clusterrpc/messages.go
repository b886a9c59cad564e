package clusterrpc

import "github.com/meridianvpn/fleet/pkg/cluster"

// JoinRequest is sent by a node contacting a bootstrap peer to join its
// cluster, per spec.md §6's Join row.
type JoinRequest struct {
	Node        cluster.NodeRecord `json:"node"`
	ClusterName string             `json:"cluster_name"`
}

type JoinResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	State   *cluster.Snapshot `json:"state,omitempty"`
}

// LeaveRequest notifies a peer the caller is departing the cluster.
type LeaveRequest struct {
	NodeID string `json:"node_id"`
}

type LeaveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HeartbeatRequest carries the caller's id and a resource snapshot; the
// resource snapshot is left as opaque key/value pairs since spec.md §6
// doesn't pin its schema beyond "resource snapshot".
type HeartbeatRequest struct {
	NodeID   string            `json:"node_id"`
	Resource map[string]string `json:"resource,omitempty"`
}

type HeartbeatResponse struct {
	Success    bool   `json:"success"`
	ServerTime int64  `json:"server_time_unix_ms"`
	LeaderID   string `json:"leader_id"`
	Term       uint64 `json:"term"`
}

// GetStatusRequest has no fields; it exists for a uniform method
// signature across the service.
type GetStatusRequest struct{}

type GetStatusResponse struct {
	State cluster.Snapshot `json:"state"`
}
