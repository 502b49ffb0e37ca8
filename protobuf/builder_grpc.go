package protobuf

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	Bundler_ServiceName                    = "builder.Bundler"
	Bundler_SendBundleNow_FullMethodName   = "/builder.Bundler/SendBundleNow"
	Bundler_SetBundlingMode_FullMethodName = "/builder.Bundler/SetBundlingMode"
	Bundler_RelayEndpoints_FullMethodName  = "/builder.Bundler/RelayEndpoints"
)

// BundlerClient is the client API for the Bundler service.
type BundlerClient interface {
	// SendBundleNow builds and submits a bundle immediately and returns its transaction hash.
	SendBundleNow(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	// SetBundlingMode takes "auto" or "manual".
	SetBundlingMode(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	// RelayEndpoints returns the JSON list of private relays in use.
	RelayEndpoints(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type bundlerClient struct {
	cc grpc.ClientConnInterface
}

func NewBundlerClient(cc grpc.ClientConnInterface) BundlerClient {
	return &bundlerClient{cc}
}

func (c *bundlerClient) SendBundleNow(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, Bundler_SendBundleNow_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bundlerClient) SetBundlingMode(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Bundler_SetBundlingMode_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bundlerClient) RelayEndpoints(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, Bundler_RelayEndpoints_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// BundlerServer is the server API for the Bundler service.
type BundlerServer interface {
	SendBundleNow(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	SetBundlingMode(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	RelayEndpoints(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// UnimplementedBundlerServer can be embedded to have forward compatible implementations.
type UnimplementedBundlerServer struct{}

func (UnimplementedBundlerServer) SendBundleNow(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendBundleNow not implemented")
}
func (UnimplementedBundlerServer) SetBundlingMode(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SetBundlingMode not implemented")
}
func (UnimplementedBundlerServer) RelayEndpoints(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RelayEndpoints not implemented")
}

func RegisterBundlerServer(s grpc.ServiceRegistrar, srv BundlerServer) {
	s.RegisterService(&Bundler_ServiceDesc, srv)
}

// Bundler_ServiceDesc is the grpc.ServiceDesc for the Bundler service.
var Bundler_ServiceDesc = grpc.ServiceDesc{
	ServiceName: Bundler_ServiceName,
	HandlerType: (*BundlerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendBundleNow",
			Handler: unary(Bundler_SendBundleNow_FullMethodName, newEmpty, func(srv interface{}, ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error) {
				return srv.(BundlerServer).SendBundleNow(ctx, in)
			}),
		},
		{
			MethodName: "SetBundlingMode",
			Handler: unary(Bundler_SetBundlingMode_FullMethodName, newString, func(srv interface{}, ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
				return srv.(BundlerServer).SetBundlingMode(ctx, in)
			}),
		},
		{
			MethodName: "RelayEndpoints",
			Handler: unary(Bundler_RelayEndpoints_FullMethodName, newEmpty, func(srv interface{}, ctx context.Context, in *emptypb.Empty) (*wrapperspb.BytesValue, error) {
				return srv.(BundlerServer).RelayEndpoints(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "builder.proto",
}
