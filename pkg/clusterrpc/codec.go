// Package clusterrpc carries the cluster coordination RPC (Join, Leave,
// Heartbeat, GetStatus) over google.golang.org/grpc. No .proto/.pb.go
// pair backs this service — the ServiceDesc below is hand-registered,
// the same shape protoc-gen-go-grpc itself emits, and messages travel
// as JSON rather than a generated protobuf type.
package clusterrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec. Selected on
// a call via grpc.CallContentSubtype("json"); the server side negotiates
// the same codec automatically from the request's content-subtype header.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("clusterrpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
