// Package protobuf describes the internal gRPC services between the mempool,
// the bundle builder and the JSON-RPC façade. Payloads travel as JSON inside
// protobuf well-known wrappers so no generated message types are needed.
// uopool.proto and builder.proto define the services; the descriptors in
// *_grpc.go follow them.
package protobuf

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

// UserOperationRequest carries one operation and the entry point it targets.
type UserOperationRequest struct {
	UserOperation *userop.UserOperation `json:"user_operation"`
	EntryPoint    common.Address        `json:"entry_point"`
}

type SortedOpsRequest struct {
	EntryPoint common.Address `json:"entry_point"`
	Max        int            `json:"max"`
}

type RemoveRequest struct {
	EntryPoint common.Address `json:"entry_point"`
	Hashes     []common.Hash  `json:"hashes"`
}

// EncodeJSON wraps v into a BytesValue.
func EncodeJSON(v interface{}) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot encode payload: %w", err)
	}
	return wrapperspb.Bytes(b), nil
}

// DecodeJSON unwraps a BytesValue produced by EncodeJSON into v.
func DecodeJSON(in *wrapperspb.BytesValue, v interface{}) error {
	if in == nil {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(in.GetValue(), v); err != nil {
		return fmt.Errorf("cannot decode payload: %w", err)
	}
	return nil
}
