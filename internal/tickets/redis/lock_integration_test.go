package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"unievent-ticketing/internal/logger"
)

// TestLockIntegration runs the ticket lock against a real Redis container.
func TestLockIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Connect(ctx, host+":"+port.Port(), "", 0, logger.Discard())
	require.NoError(t, err)
	defer client.Close()

	locks := NewRedis(client, 5*time.Second, 200*time.Millisecond, logger.Discard())

	release, err := locks.Lock(ctx, "ticket-1")
	require.NoError(t, err)

	_, err = locks.Lock(ctx, "ticket-1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	locked, err := locks.IsLocked(ctx, "ticket-1")
	require.NoError(t, err)
	assert.False(t, locked)

	release, err = locks.Lock(ctx, "ticket-1")
	require.NoError(t, err)
	release()
}
