package clusterrpc

import "github.com/meridianvpn/fleet/pkg/cluster"

func testNode(id, addr string) cluster.NodeRecord {
	return cluster.NodeRecord{ID: id, Name: id, BindAddress: addr, Status: cluster.NodeActive}
}
