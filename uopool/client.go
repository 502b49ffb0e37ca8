package uopool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/protobuf"
)

// Client talks to a remote pool over gRPC and implements Mempool.
type Client struct {
	conn *grpc.ClientConn
	rpc  protobuf.UoPoolClient
}

var _ Mempool = (*Client)(nil)
var _ Mempool = (*Pool)(nil)

// Dial connects to the pool service at addr. The connection is lazy, the
// first call establishes it.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("cannot dial uopool at %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection. Close closes conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, rpc: protobuf.NewUoPoolClient(conn)}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Add(ctx context.Context, op *userop.UserOperation, ep common.Address) (common.Hash, error) {
	in, err := protobuf.EncodeJSON(&protobuf.UserOperationRequest{UserOperation: op, EntryPoint: ep})
	if err != nil {
		return common.Hash{}, err
	}

	out, err := c.rpc.Add(ctx, in)
	if err != nil {
		return common.Hash{}, FromGRPCError(err)
	}
	return common.HexToHash(out.GetValue()), nil
}

func (c *Client) Estimate(ctx context.Context, op *userop.UserOperation, ep common.Address) (*bundler.GasEstimation, error) {
	in, err := protobuf.EncodeJSON(&protobuf.UserOperationRequest{UserOperation: op, EntryPoint: ep})
	if err != nil {
		return nil, err
	}

	out, err := c.rpc.Estimate(ctx, in)
	if err != nil {
		return nil, FromGRPCError(err)
	}

	var est bundler.GasEstimation
	if err := protobuf.DecodeJSON(out, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

func (c *Client) GetSortedOps(ctx context.Context, ep common.Address, max int) ([]*userop.UserOperation, error) {
	in, err := protobuf.EncodeJSON(&protobuf.SortedOpsRequest{EntryPoint: ep, Max: max})
	if err != nil {
		return nil, err
	}

	out, err := c.rpc.GetSortedOps(ctx, in)
	if err != nil {
		return nil, FromGRPCError(err)
	}

	var ops []*userop.UserOperation
	if err := protobuf.DecodeJSON(out, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (c *Client) Remove(ctx context.Context, ep common.Address, hashes []common.Hash) error {
	in, err := protobuf.EncodeJSON(&protobuf.RemoveRequest{EntryPoint: ep, Hashes: hashes})
	if err != nil {
		return err
	}

	_, err = c.rpc.Remove(ctx, in)
	return FromGRPCError(err)
}

func (c *Client) GetByHash(ctx context.Context, hash common.Hash) (*bundler.UserOperationByHash, error) {
	out, err := c.rpc.GetByHash(ctx, wrapperspb.String(hash.Hex()))
	if err != nil {
		return nil, FromGRPCError(err)
	}

	var found *bundler.UserOperationByHash
	if err := protobuf.DecodeJSON(out, &found); err != nil {
		return nil, err
	}
	return found, nil
}

func (c *Client) GetReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error) {
	out, err := c.rpc.GetReceipt(ctx, wrapperspb.String(hash.Hex()))
	if err != nil {
		return nil, FromGRPCError(err)
	}

	var receipt *bundler.UserOperationReceipt
	if err := protobuf.DecodeJSON(out, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *Client) Clear(ctx context.Context) error {
	_, err := c.rpc.Clear(ctx, &emptypb.Empty{})
	return FromGRPCError(err)
}

func (c *Client) Dump(ctx context.Context, ep common.Address) ([]*userop.UserOperation, error) {
	out, err := c.rpc.Dump(ctx, wrapperspb.String(ep.Hex()))
	if err != nil {
		return nil, FromGRPCError(err)
	}

	var ops []*userop.UserOperation
	if err := protobuf.DecodeJSON(out, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	out, err := c.rpc.ChainId(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, FromGRPCError(err)
	}
	return new(big.Int).SetUint64(out.GetValue()), nil
}

func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	out, err := c.rpc.SupportedEntryPoints(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, FromGRPCError(err)
	}

	var eps []common.Address
	if err := protobuf.DecodeJSON(out, &eps); err != nil {
		return nil, err
	}
	return eps, nil
}
