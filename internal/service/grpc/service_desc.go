package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса синхронизации.
const ServiceName = "posync.v1.SyncService"

// Методы сервиса.
const (
	MethodGetStatus             = "GetStatus"
	MethodDrain                 = "Drain"
	MethodListPendingOperations = "ListPendingOperations"
	MethodRefresh               = "Refresh"
	MethodListOrders            = "ListOrders"
	MethodCreateOrder           = "CreateOrder"
	MethodUpdateOrderStatus     = "UpdateOrderStatus"
)

// SyncServiceServer — серверная сторона posync.v1.SyncService.
// Запросы и ответы передаются как google.protobuf.Struct.
type SyncServiceServer interface {
	GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Drain(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListPendingOperations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv SyncServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SyncServiceDesc описывает сервис для grpc.Server.RegisterService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodGetStatus, SyncServiceServer.GetStatus),
		unaryMethod(MethodDrain, SyncServiceServer.Drain),
		unaryMethod(MethodListPendingOperations, SyncServiceServer.ListPendingOperations),
		unaryMethod(MethodRefresh, SyncServiceServer.Refresh),
		unaryMethod(MethodListOrders, SyncServiceServer.ListOrders),
		unaryMethod(MethodCreateOrder, SyncServiceServer.CreateOrder),
		unaryMethod(MethodUpdateOrderStatus, SyncServiceServer.UpdateOrderStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "posync/v1/sync.proto",
}

// RegisterSyncServiceServer регистрирует реализацию на сервере.
func RegisterSyncServiceServer(registrar grpc.ServiceRegistrar, srv SyncServiceServer) {
	registrar.RegisterService(&SyncServiceDesc, srv)
}

// SyncServiceClient — клиент posync.v1.SyncService.
type SyncServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSyncServiceClient создаёт клиента поверх соединения.
func NewSyncServiceClient(cc grpc.ClientConnInterface) *SyncServiceClient {
	return &SyncServiceClient{cc: cc}
}

// Call вызывает метод сервиса. Пустой req отправляется как пустой Struct.
func (c *SyncServiceClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
