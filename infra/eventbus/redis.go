package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/amirasaad/pixflow/pkg/eventbus"
	"github.com/redis/go-redis/v9"
)

// RedisEventBusConfig configures the Redis Streams bus.
type RedisEventBusConfig struct {
	Group     string
	BlockTime time.Duration
	MaxLen    int64
}

// DefaultRedisEventBusConfig returns the defaults used when nil is passed.
func DefaultRedisEventBusConfig() *RedisEventBusConfig {
	return &RedisEventBusConfig{
		Group:     "pixflow",
		BlockTime: 5 * time.Second,
		MaxLen:    10000,
	}
}

// RedisEventBus publishes events to one Redis stream per event type and
// consumes them through a consumer group. Failed deliveries go to a DLQ stream.
type RedisEventBus struct {
	client   *redis.Client
	registry eventbus.Registry
	config   *RedisEventBusConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWithRedis creates a Redis-backed event bus on an existing client.
func NewWithRedis(client *redis.Client, registry eventbus.Registry, logger *slog.Logger, config *RedisEventBusConfig) (*RedisEventBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis event bus: client is required")
	}
	if config == nil {
		config = DefaultRedisEventBusConfig()
	}
	if config.Group == "" {
		config.Group = "pixflow"
	}
	if config.BlockTime <= 0 {
		config.BlockTime = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis event bus: connection failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client:   client,
		registry: registry,
		config:   config,
		logger:   logger.With("bus", "redis"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Emit appends the event to its stream.
func (b *RedisEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return fmt.Errorf("redis event bus: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: streamNameFor(event.Type()),
		Values: map[string]any{"event": string(data)},
	}
	if b.config.MaxLen > 0 {
		args.MaxLen = b.config.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		b.logger.Error("failed to emit event", "type", event.Type(), "error", err)
		return fmt.Errorf("redis event bus: emit failed: %w", err)
	}
	return nil
}

// Register starts a consumer goroutine for eventType.
func (b *RedisEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	stream := streamNameFor(eventType)
	group := groupNameFor(b.config.Group, eventType)
	host, _ := os.Hostname()
	consumer := fmt.Sprintf("%s-%d", host, time.Now().UnixNano())

	err := b.client.XGroupCreateMkStream(b.ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		b.logger.Error("failed to create consumer group", "stream", stream, "group", group, "error", err)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(stream, group, consumer, handler)
	}()
	b.logger.Info("handler registered", "event_type", eventType, "stream", stream, "consumer", consumer)
}

func (b *RedisEventBus) consume(stream, group, consumer string, handler eventbus.HandlerFunc) {
	for {
		res, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    b.config.BlockTime,
		}).Result()
		if b.ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				b.logger.Error("error reading from stream", "stream", stream, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				b.handle(stream, group, msg, handler)
			}
		}
	}
}

func (b *RedisEventBus) handle(stream, group string, msg redis.XMessage, handler eventbus.HandlerFunc) {
	raw, _ := msg.Values["event"].(string)
	eventType, evt, err := decodeEnvelope([]byte(raw), b.registry)
	if err != nil {
		b.logger.Error("dropping undecodable message", "stream", stream, "msg_id", msg.ID, "error", err)
		b.pushToDLQ(eventType, msg.Values)
	} else if err := b.invoke(handler, evt); err != nil {
		b.logger.Error("handler failed", "type", eventType, "msg_id", msg.ID, "error", err)
		b.pushToDLQ(eventType, msg.Values)
	}
	if err := b.client.XAck(b.ctx, stream, group, msg.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message", "msg_id", msg.ID, "error", err)
	}
}

func (b *RedisEventBus) invoke(handler eventbus.HandlerFunc, evt eventbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(b.ctx, evt)
}

func (b *RedisEventBus) pushToDLQ(eventType string, values map[string]any) {
	if eventType == "" {
		eventType = "unknown"
	}
	dlq := dlqStreamName(eventType)
	if err := b.client.XAdd(b.ctx, &redis.XAddArgs{Stream: dlq, Values: values}).Err(); err != nil {
		b.logger.Error("failed to push to DLQ", "stream", dlq, "error", err)
		return
	}
	b.logger.Warn("event pushed to DLQ", "stream", dlq)
}

// Close stops all consumers. The client is owned by the caller.
func (b *RedisEventBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

var _ eventbus.Bus = (*RedisEventBus)(nil)
