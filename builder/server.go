package builder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/protobuf"
	"github.com/AvaProtocol/ethuo/uopool"
)

// RpcServer exposes a Builder as the builder.Bundler gRPC service.
type RpcServer struct {
	protobuf.UnimplementedBundlerServer

	builder *Builder
}

func (r *RpcServer) SendBundleNow(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	hash, err := r.builder.SendBundle(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(hash.Hex()), nil
}

func (r *RpcServer) SetBundlingMode(_ context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	mode, err := ParseBundlingMode(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r.builder.SetBundlingMode(mode)
	return &emptypb.Empty{}, nil
}

func (r *RpcServer) RelayEndpoints(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return protobuf.EncodeJSON(r.builder.RelayEndpoints())
}

// Service runs the builder and its gRPC server.
type Service struct {
	addr    string
	builder *Builder
	server  *grpc.Server
	logger  logger.Logger

	mu  sync.Mutex
	lis net.Listener
}

func NewService(addr string, b *Builder, lgr logger.Logger) *Service {
	s := grpc.NewServer()
	protobuf.RegisterBundlerServer(s, &RpcServer{builder: b})
	reflection.Register(s)

	return &Service{
		addr:    addr,
		builder: b,
		server:  s,
		logger:  logger.EnsureLogger(lgr),
	}
}

func (s *Service) Name() string { return "builder" }

// Listen binds the address and starts the bundle scheduler.
func (s *Service) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("builder cannot listen on %s: %w", s.addr, err)
	}
	if err := s.builder.Start(); err != nil {
		lis.Close()
		return err
	}
	s.lis = lis
	return nil
}

func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lis == nil {
		return s.addr
	}
	return s.lis.Addr().String()
}

func (s *Service) Serve() error {
	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()
	if lis == nil {
		return errors.New("builder: Serve called before Listen")
	}

	s.logger.Info("builder grpc server listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	stopErr := uopool.GracefulStop(ctx, s.server)
	return errors.Join(stopErr, s.builder.Stop())
}

// Client is the façade's handle on a remote builder.
type Client struct {
	conn *grpc.ClientConn
	rpc  protobuf.BundlerClient
}

func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("cannot dial builder at %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, rpc: protobuf.NewBundlerClient(conn)}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) SendBundleNow(ctx context.Context) (common.Hash, error) {
	out, err := c.rpc.SendBundleNow(ctx, &emptypb.Empty{})
	if err != nil {
		return common.Hash{}, fromStatus(err)
	}
	return common.HexToHash(out.GetValue()), nil
}

func (c *Client) SetBundlingMode(ctx context.Context, mode string) error {
	_, err := c.rpc.SetBundlingMode(ctx, wrapperspb.String(mode))
	return fromStatus(err)
}

func (c *Client) RelayEndpoints(ctx context.Context) ([]string, error) {
	out, err := c.rpc.RelayEndpoints(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fromStatus(err)
	}

	var relays []string
	if err := protobuf.DecodeJSON(out, &relays); err != nil {
		return nil, err
	}
	return relays, nil
}

// fromStatus unwraps the status message so callers see the builder's error
// text rather than the gRPC envelope.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if st.Code() == codes.InvalidArgument {
		return &uopool.ValidationError{Code: uopool.InvalidFields, Message: st.Message()}
	}
	return errors.New(st.Message())
}
