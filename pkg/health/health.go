// pkg/health/health.go
package health

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Lifecycle is the part of the storage engine the health check looks at.
type Lifecycle interface {
	Closed() bool
}

// HealthServer reports SERVING until the engine is closed. The empty service
// name and every name in services are known; anything else is NotFound.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	engine   Lifecycle
	services map[string]struct{}
}

func NewHealthServer(engine Lifecycle, services ...string) *HealthServer {
	known := map[string]struct{}{"": {}}
	for _, s := range services {
		known[s] = struct{}{}
	}
	return &HealthServer{engine: engine, services: known}
}

func (s *HealthServer) Check(ctx context.Context,
	req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if _, ok := s.services[req.GetService()]; !ok {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &grpc_health_v1.HealthCheckResponse{Status: s.Status()}, nil
}

// Status is the serving status shared by every known service.
func (s *HealthServer) Status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.engine.Closed() {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}
