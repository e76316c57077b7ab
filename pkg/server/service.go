// pkg/server/service.go
package server

import (
	"context"

	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/storage"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nexusmem.v1.Memtable"

type UpdateRequest struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

type KeyRequest struct {
	Key []byte `json:"key"`
}

type Empty struct{}

// MemtableServer is the server API of the Memtable service.
type MemtableServer interface {
	Update(context.Context, *UpdateRequest) (*Empty, error)
	Delete(context.Context, *KeyRequest) (*Empty, error)
	Query(context.Context, *KeyRequest) (*memtable.Result, error)
	PrepareFlush(context.Context, *Empty) (*storage.FlushBatch, error)
	FinalizeFlush(context.Context, *Empty) (*Empty, error)
	Clear(context.Context, *Empty) (*Empty, error)
	Stats(context.Context, *Empty) (*storage.Stats, error)
}

// ServiceDesc describes the Memtable service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MemtableServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Update", MemtableServer.Update),
		unary("Delete", MemtableServer.Delete),
		unary("Query", MemtableServer.Query),
		unary("PrepareFlush", MemtableServer.PrepareFlush),
		unary("FinalizeFlush", MemtableServer.FinalizeFlush),
		unary("Clear", MemtableServer.Clear),
		unary("Stats", MemtableServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nexusmem/v1/memtable",
}

func RegisterMemtableServer(s grpc.ServiceRegistrar, srv MemtableServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(MemtableServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MemtableServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(method),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MemtableServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
