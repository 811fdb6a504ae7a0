// Package adminpb declares the leasekeeper.admin.v1.LeaseAdmin gRPC service.
// Messages are protobuf well-known types, so the service needs no generated
// code: the descriptor, server interface and client stub below mirror what
// protoc-gen-go-grpc would emit.
package adminpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "leasekeeper.admin.v1.LeaseAdmin"

const (
	MethodLogin                = "Login"
	MethodEndLease             = "EndLease"
	MethodBlockResource        = "BlockResource"
	MethodUnblockResource      = "UnblockResource"
	MethodGetResource          = "GetResource"
	MethodRunSweep             = "RunSweep"
	MethodClearReclaimBackoff  = "ClearReclaimBackoff"
	MethodGrantSubscription    = "GrantSubscription"
	MethodPurchaseSubscription = "PurchaseSubscription"
	MethodExportSnapshot       = "ExportSnapshot"
)

// FullMethod returns the wire name of a LeaseAdmin method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// LeaseAdminServer is the operator API.
type LeaseAdminServer interface {
	// Login exchanges the operator password for an access token.
	Login(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	EndLease(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	BlockResource(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	UnblockResource(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	GetResource(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	RunSweep(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ClearReclaimBackoff(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	// GrantSubscription takes {telegram_id, days}.
	GrantSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// PurchaseSubscription takes {telegram_id, plan}.
	PurchaseSubscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportSnapshot(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp any](name string, call func(LeaseAdminServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(LeaseAdminServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(PReq))
			})
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for LeaseAdmin.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LeaseAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodLogin, LeaseAdminServer.Login),
		unary(MethodEndLease, LeaseAdminServer.EndLease),
		unary(MethodBlockResource, LeaseAdminServer.BlockResource),
		unary(MethodUnblockResource, LeaseAdminServer.UnblockResource),
		unary(MethodGetResource, LeaseAdminServer.GetResource),
		unary(MethodRunSweep, LeaseAdminServer.RunSweep),
		unary(MethodClearReclaimBackoff, LeaseAdminServer.ClearReclaimBackoff),
		unary(MethodGrantSubscription, LeaseAdminServer.GrantSubscription),
		unary(MethodPurchaseSubscription, LeaseAdminServer.PurchaseSubscription),
		unary(MethodExportSnapshot, LeaseAdminServer.ExportSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leasekeeper/admin/v1/admin.proto",
}

func RegisterLeaseAdminServer(s grpc.ServiceRegistrar, srv LeaseAdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// LeaseAdminClient is the client stub for LeaseAdmin.
type LeaseAdminClient struct {
	cc grpc.ClientConnInterface
}

func NewLeaseAdminClient(cc grpc.ClientConnInterface) *LeaseAdminClient {
	return &LeaseAdminClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LeaseAdminClient) Login(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, MethodLogin, in, opts...)
}

func (c *LeaseAdminClient) EndLease(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodEndLease, in, opts...)
}

func (c *LeaseAdminClient) BlockResource(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodBlockResource, in, opts...)
}

func (c *LeaseAdminClient) UnblockResource(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodUnblockResource, in, opts...)
}

func (c *LeaseAdminClient) GetResource(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodGetResource, in, opts...)
}

func (c *LeaseAdminClient) RunSweep(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodRunSweep, in, opts...)
}

func (c *LeaseAdminClient) ClearReclaimBackoff(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodClearReclaimBackoff, in, opts...)
}

func (c *LeaseAdminClient) GrantSubscription(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodGrantSubscription, in, opts...)
}

func (c *LeaseAdminClient) PurchaseSubscription(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodPurchaseSubscription, in, opts...)
}

func (c *LeaseAdminClient) ExportSnapshot(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, MethodExportSnapshot, in, opts...)
}
