package clusterrpc

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	req := JoinRequest{ClusterName: "test", Node: testNode("a", "1:1")}

	data, err := c.Marshal(&req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out JoinRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ClusterName != req.ClusterName || out.Node.ID != req.Node.ID {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestJSONCodecIsRegistered(t *testing.T) {
	if encoding.GetCodec(codecName) == nil {
		t.Fatal("expected json codec to be registered")
	}
}
