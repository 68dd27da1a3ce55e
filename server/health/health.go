package health

import (
	"context"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Checker serves the gRPC health protocol for the engine.
type Checker struct {
	grpcHealth.UnimplementedHealthServer
	status atomic.Int32
}

// New creates a Checker reporting NOT_SERVING.
func New() *Checker {
	c := &Checker{}
	c.SetStatus(grpcHealth.HealthCheckResponse_NOT_SERVING)
	return c
}

// SetStatus changes the reported status.
func (c *Checker) SetStatus(s grpcHealth.HealthCheckResponse_ServingStatus) {
	c.status.Store(int32(s))
}

// GetStatus returns the reported status.
func (c *Checker) GetStatus() grpcHealth.HealthCheckResponse_ServingStatus {
	return grpcHealth.HealthCheckResponse_ServingStatus(c.status.Load())
}

// Check returns the current status of the engine.
func (c *Checker) Check(_ context.Context, _ *grpcHealth.HealthCheckRequest) (*grpcHealth.HealthCheckResponse, error) {
	return &grpcHealth.HealthCheckResponse{Status: c.GetStatus()}, nil
}

// Watch is not supported.
func (c *Checker) Watch(_ *grpcHealth.HealthCheckRequest, _ grpcHealth.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not implemented")
}
