package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/eventbus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisBus(tb testing.TB) *RedisEventBus {
	tb.Helper()
	if testing.Short() || !dockerIsReachable() {
		tb.Skip("docker is not reachable")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(tb, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	bus, err := NewWithRedis(client, testRegistry, nil, &RedisEventBusConfig{Group: "test", BlockTime: 200 * time.Millisecond})
	require.NoError(tb, err)
	tb.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
	})
	return bus
}

func TestRedisBus_HandlerReceivesEvent(t *testing.T) {
	bus := setupRedisBus(t)

	received := make(chan string, 1)
	bus.Register(pix.EventTypeStatusChanged, func(ctx context.Context, e eventbus.Event) error {
		received <- e.(*pix.StatusChanged).Txid
		return nil
	})

	require.NoError(t, bus.Emit(context.Background(), &pix.StatusChanged{Txid: "hello"}))

	select {
	case txid := <-received:
		require.Equal(t, "hello", txid)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not receive event in time")
	}
}

func TestRedisBus_FailedHandlerGoesToDLQ(t *testing.T) {
	bus := setupRedisBus(t)
	bus.Register(pix.EventTypeStatusChanged, func(context.Context, eventbus.Event) error {
		return errors.New("simulated failure")
	})

	ctx := context.Background()
	require.NoError(t, bus.Emit(ctx, &pix.StatusChanged{Txid: "dlq"}))

	require.Eventually(t, func() bool {
		n, err := bus.client.XLen(ctx, dlqStreamName(pix.EventTypeStatusChanged)).Result()
		return err == nil && n == 1
	}, 5*time.Second, 100*time.Millisecond)
}
