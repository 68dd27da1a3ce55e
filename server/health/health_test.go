package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
)

func TestChecker(t *testing.T) {
	c := New()
	res, err := c.Check(context.Background(), &grpcHealth.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_NOT_SERVING, res.Status)

	c.SetStatus(grpcHealth.HealthCheckResponse_SERVING)
	res, err = c.Check(context.Background(), &grpcHealth.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_SERVING, res.Status)
	assert.Error(t, c.Watch(nil, nil))
}
