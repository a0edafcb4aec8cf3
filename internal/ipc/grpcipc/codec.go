package grpcipc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as the gRPC content-subtype this module speaks.
// See the "gRPC-without-protoc design note" in DESIGN.md: the role-to-role
// RoleService is a real google.golang.org/grpc service, but its message
// bodies are plain Go structs marshaled with encoding/json
// rather than protobuf wire format, since no .pb.go sources were
// available to regenerate and this task does not invoke protoc.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
