package uopool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/protobuf"
)

// RpcServer exposes a Mempool as the uopool.UoPool gRPC service.
type RpcServer struct {
	protobuf.UnimplementedUoPoolServer

	pool Mempool
}

func NewRpcServer(pool Mempool) *RpcServer {
	return &RpcServer{pool: pool}
}

// toStatus keeps ValidationError codes intact and turns everything else into
// an internal error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.GRPCStatus().Err()
	}
	if errors.Is(err, ErrUnsupportedEntryPoint) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if errors.Is(err, ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func parseHash(in *wrapperspb.StringValue) (common.Hash, error) {
	s := in.GetValue()
	if len(s) != 66 {
		return common.Hash{}, status.Errorf(codes.InvalidArgument, "invalid user operation hash %q", s)
	}
	return common.HexToHash(s), nil
}

func parseAddress(in *wrapperspb.StringValue) (common.Address, error) {
	s := in.GetValue()
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func (r *RpcServer) decodeOpRequest(in *wrapperspb.BytesValue) (*protobuf.UserOperationRequest, error) {
	var req protobuf.UserOperationRequest
	if err := protobuf.DecodeJSON(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.UserOperation == nil {
		return nil, status.Error(codes.InvalidArgument, "missing user operation")
	}
	return &req, nil
}

func (r *RpcServer) Add(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	req, err := r.decodeOpRequest(in)
	if err != nil {
		return nil, err
	}

	hash, err := r.pool.Add(ctx, req.UserOperation, req.EntryPoint)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(hash.Hex()), nil
}

func (r *RpcServer) Estimate(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := r.decodeOpRequest(in)
	if err != nil {
		return nil, err
	}

	est, err := r.pool.Estimate(ctx, req.UserOperation, req.EntryPoint)
	if err != nil {
		return nil, toStatus(err)
	}
	return protobuf.EncodeJSON(est)
}

func (r *RpcServer) GetSortedOps(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var req protobuf.SortedOpsRequest
	if err := protobuf.DecodeJSON(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ops, err := r.pool.GetSortedOps(ctx, req.EntryPoint, req.Max)
	if err != nil {
		return nil, toStatus(err)
	}
	return protobuf.EncodeJSON(ops)
}

func (r *RpcServer) Remove(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var req protobuf.RemoveRequest
	if err := protobuf.DecodeJSON(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := r.pool.Remove(ctx, req.EntryPoint, req.Hashes); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (r *RpcServer) GetByHash(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	hash, err := parseHash(in)
	if err != nil {
		return nil, err
	}

	found, err := r.pool.GetByHash(ctx, hash)
	if err != nil {
		return nil, toStatus(err)
	}
	return protobuf.EncodeJSON(found)
}

func (r *RpcServer) GetReceipt(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	hash, err := parseHash(in)
	if err != nil {
		return nil, err
	}

	receipt, err := r.pool.GetReceipt(ctx, hash)
	if err != nil {
		return nil, toStatus(err)
	}
	return protobuf.EncodeJSON(receipt)
}

func (r *RpcServer) Clear(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := r.pool.Clear(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (r *RpcServer) Dump(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	ep, err := parseAddress(in)
	if err != nil {
		return nil, err
	}

	ops, err := r.pool.Dump(ctx, ep)
	if err != nil {
		return nil, toStatus(err)
	}
	return protobuf.EncodeJSON(ops)
}

func (r *RpcServer) ChainId(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	id, err := r.pool.ChainID(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.UInt64(id.Uint64()), nil
}

func (r *RpcServer) SupportedEntryPoints(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	eps, err := r.pool.SupportedEntryPoints(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return protobuf.EncodeJSON(eps)
}

// Service runs the pool gRPC server on a TCP address.
type Service struct {
	addr   string
	server *grpc.Server
	logger logger.Logger

	mu  sync.Mutex
	lis net.Listener
}

func NewService(addr string, pool Mempool, lgr logger.Logger) *Service {
	s := grpc.NewServer()
	protobuf.RegisterUoPoolServer(s, NewRpcServer(pool))
	reflection.Register(s)

	return &Service{
		addr:   addr,
		server: s,
		logger: logger.EnsureLogger(lgr),
	}
}

func (s *Service) Name() string { return "uopool" }

// Listen binds the address so clients can dial before Serve runs.
func (s *Service) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("uopool cannot listen on %s: %w", s.addr, err)
	}
	s.lis = lis
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lis == nil {
		return s.addr
	}
	return s.lis.Addr().String()
}

// Serve blocks until Stop.
func (s *Service) Serve() error {
	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()
	if lis == nil {
		return errors.New("uopool: Serve called before Listen")
	}

	s.logger.Info("uopool grpc server listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls and forces the server down once ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	return GracefulStop(ctx, s.server)
}

// GracefulStop is shared with the builder service.
func GracefulStop(ctx context.Context, server *grpc.Server) error {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		server.Stop()
		<-done
		return ctx.Err()
	}
}
