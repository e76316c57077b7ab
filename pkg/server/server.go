// pkg/server/server.go

// Package server exposes a storage engine over gRPC. Messages are JSON
// encoded through a registered codec, so no generated stubs are involved.
package server

import (
	"context"
	"time"

	"github.com/imReese/NexusMem/pkg/health"
	"github.com/imReese/NexusMem/pkg/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const maxMsgSize = 64 << 20 // 64MB, a full flush batch travels in one message

// New returns a gRPC server carrying the Memtable and health services.
func New(engine storage.Engine, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ConnectionTimeout(30*time.Second),
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)),
	)
	RegisterMemtableServer(srv, NewService(engine))
	grpc_health_v1.RegisterHealthServer(srv, health.NewHealthServer(engine, ServiceName))
	return srv
}

// LoggingInterceptor logs every failed call at warn and the rest at debug.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			logger.Warn("RPC failed", append(fields,
				zap.Stringer("code", status.Code(err)),
				zap.Error(err))...)
		} else {
			logger.Debug("RPC served", fields...)
		}
		return resp, err
	}
}
