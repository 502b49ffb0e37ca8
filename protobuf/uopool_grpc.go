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
	UoPool_ServiceName                         = "uopool.UoPool"
	UoPool_Add_FullMethodName                  = "/uopool.UoPool/Add"
	UoPool_Estimate_FullMethodName             = "/uopool.UoPool/Estimate"
	UoPool_GetSortedOps_FullMethodName         = "/uopool.UoPool/GetSortedOps"
	UoPool_Remove_FullMethodName               = "/uopool.UoPool/Remove"
	UoPool_GetByHash_FullMethodName            = "/uopool.UoPool/GetByHash"
	UoPool_GetReceipt_FullMethodName           = "/uopool.UoPool/GetReceipt"
	UoPool_Clear_FullMethodName                = "/uopool.UoPool/Clear"
	UoPool_Dump_FullMethodName                 = "/uopool.UoPool/Dump"
	UoPool_ChainId_FullMethodName              = "/uopool.UoPool/ChainId"
	UoPool_SupportedEntryPoints_FullMethodName = "/uopool.UoPool/SupportedEntryPoints"
)

// UoPoolClient is the client API for the UoPool service.
type UoPoolClient interface {
	// Add takes a JSON UserOperationRequest and returns the user operation hash.
	Add(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	// Estimate takes a JSON UserOperationRequest and returns a JSON gas estimation.
	Estimate(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	GetSortedOps(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Remove(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetByHash(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	GetReceipt(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Clear(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	// Dump takes an entry point address and returns every pooled operation for it.
	Dump(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	ChainId(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error)
	SupportedEntryPoints(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type uoPoolClient struct {
	cc grpc.ClientConnInterface
}

func NewUoPoolClient(cc grpc.ClientConnInterface) UoPoolClient {
	return &uoPoolClient{cc}
}

func (c *uoPoolClient) Add(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, UoPool_Add_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) Estimate(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, UoPool_Estimate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) GetSortedOps(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, UoPool_GetSortedOps_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) Remove(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, UoPool_Remove_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) GetByHash(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, UoPool_GetByHash_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) GetReceipt(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, UoPool_GetReceipt_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) Clear(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, UoPool_Clear_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) Dump(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, UoPool_Dump_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) ChainId(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, UoPool_ChainId_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *uoPoolClient) SupportedEntryPoints(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, UoPool_SupportedEntryPoints_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// UoPoolServer is the server API for the UoPool service.
type UoPoolServer interface {
	Add(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Estimate(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	GetSortedOps(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Remove(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	GetByHash(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	GetReceipt(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Clear(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Dump(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	ChainId(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
	SupportedEntryPoints(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// UnimplementedUoPoolServer can be embedded to have forward compatible implementations.
type UnimplementedUoPoolServer struct{}

func (UnimplementedUoPoolServer) Add(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Add not implemented")
}
func (UnimplementedUoPoolServer) Estimate(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Estimate not implemented")
}
func (UnimplementedUoPoolServer) GetSortedOps(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetSortedOps not implemented")
}
func (UnimplementedUoPoolServer) Remove(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Remove not implemented")
}
func (UnimplementedUoPoolServer) GetByHash(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetByHash not implemented")
}
func (UnimplementedUoPoolServer) GetReceipt(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetReceipt not implemented")
}
func (UnimplementedUoPoolServer) Clear(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Clear not implemented")
}
func (UnimplementedUoPoolServer) Dump(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Dump not implemented")
}
func (UnimplementedUoPoolServer) ChainId(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ChainId not implemented")
}
func (UnimplementedUoPoolServer) SupportedEntryPoints(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SupportedEntryPoints not implemented")
}

func RegisterUoPoolServer(s grpc.ServiceRegistrar, srv UoPoolServer) {
	s.RegisterService(&UoPool_ServiceDesc, srv)
}

// unary adapts a typed server method into a grpc.MethodDesc handler.
func unary[Req any, Resp any](fullMethod string, newReq func() Req, call func(srv interface{}, ctx context.Context, in Req) (Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func newBytes() *wrapperspb.BytesValue   { return new(wrapperspb.BytesValue) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }

// UoPool_ServiceDesc is the grpc.ServiceDesc for the UoPool service.
var UoPool_ServiceDesc = grpc.ServiceDesc{
	ServiceName: UoPool_ServiceName,
	HandlerType: (*UoPoolServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Add",
			Handler: unary(UoPool_Add_FullMethodName, newBytes, func(srv interface{}, ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
				return srv.(UoPoolServer).Add(ctx, in)
			}),
		},
		{
			MethodName: "Estimate",
			Handler: unary(UoPool_Estimate_FullMethodName, newBytes, func(srv interface{}, ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
				return srv.(UoPoolServer).Estimate(ctx, in)
			}),
		},
		{
			MethodName: "GetSortedOps",
			Handler: unary(UoPool_GetSortedOps_FullMethodName, newBytes, func(srv interface{}, ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
				return srv.(UoPoolServer).GetSortedOps(ctx, in)
			}),
		},
		{
			MethodName: "Remove",
			Handler: unary(UoPool_Remove_FullMethodName, newBytes, func(srv interface{}, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
				return srv.(UoPoolServer).Remove(ctx, in)
			}),
		},
		{
			MethodName: "GetByHash",
			Handler: unary(UoPool_GetByHash_FullMethodName, newString, func(srv interface{}, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
				return srv.(UoPoolServer).GetByHash(ctx, in)
			}),
		},
		{
			MethodName: "GetReceipt",
			Handler: unary(UoPool_GetReceipt_FullMethodName, newString, func(srv interface{}, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
				return srv.(UoPoolServer).GetReceipt(ctx, in)
			}),
		},
		{
			MethodName: "Clear",
			Handler: unary(UoPool_Clear_FullMethodName, newEmpty, func(srv interface{}, ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
				return srv.(UoPoolServer).Clear(ctx, in)
			}),
		},
		{
			MethodName: "Dump",
			Handler: unary(UoPool_Dump_FullMethodName, newString, func(srv interface{}, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
				return srv.(UoPoolServer).Dump(ctx, in)
			}),
		},
		{
			MethodName: "ChainId",
			Handler: unary(UoPool_ChainId_FullMethodName, newEmpty, func(srv interface{}, ctx context.Context, in *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
				return srv.(UoPoolServer).ChainId(ctx, in)
			}),
		},
		{
			MethodName: "SupportedEntryPoints",
			Handler: unary(UoPool_SupportedEntryPoints_FullMethodName, newEmpty, func(srv interface{}, ctx context.Context, in *emptypb.Empty) (*wrapperspb.BytesValue, error) {
				return srv.(UoPoolServer).SupportedEntryPoints(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "uopool.proto",
}
