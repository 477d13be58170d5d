package initializer

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	infraeventbus "github.com/amirasaad/pixflow/infra/eventbus"
	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/eventbus"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
)

// initEventBus builds the configured bus. An unreachable broker falls back to
// the in-memory bus so the service still starts; a missing address or an
// unknown driver is a configuration error. The returned closer may be nil.
func initEventBus(cfg *config.App, logger *slog.Logger) (eventbus.Bus, io.Closer, error) {
	driver := ""
	if cfg.EventBus != nil {
		driver = strings.ToLower(strings.TrimSpace(cfg.EventBus.Driver))
	}
	registry := pixsvc.EventRegistry()

	switch driver {
	case "", "memory":
		logger.Info("Using in-memory event bus")
		return infraeventbus.NewWithMemory(logger), nil, nil

	case "redis":
		if cfg.Redis == nil || cfg.Redis.URL == "" {
			return nil, nil, fmt.Errorf("event bus: driver redis requires REDIS_URL")
		}
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			logger.Warn("Redis event bus unavailable, falling back to in-memory", "error", err)
			return infraeventbus.NewWithMemory(logger), nil, nil
		}
		bus, err := infraeventbus.NewWithRedis(client, registry, logger, &infraeventbus.RedisEventBusConfig{
			Group: strings.TrimSuffix(cfg.Redis.KeyPrefix, ":"),
		})
		if err != nil {
			_ = client.Close()
			logger.Warn("Redis event bus unavailable, falling back to in-memory", "error", err)
			return infraeventbus.NewWithMemory(logger), nil, nil
		}
		logger.Info("Using Redis Streams event bus")
		return bus, closers{bus, client}, nil

	case "kafka":
		if cfg.Kafka == nil || strings.TrimSpace(cfg.Kafka.Brokers) == "" {
			return nil, nil, fmt.Errorf("event bus: driver kafka requires KAFKA_BROKERS")
		}
		bus, err := infraeventbus.NewWithKafka(cfg.Kafka.Brokers, registry, logger, &infraeventbus.KafkaEventBusConfig{
			GroupID:       cfg.Kafka.GroupID,
			TopicPrefix:   cfg.Kafka.TopicPrefix,
			SASLUsername:  cfg.Kafka.SASLUsername,
			SASLPassword:  cfg.Kafka.SASLPassword,
			TLSEnabled:    cfg.Kafka.TLSEnabled,
			TLSCAFile:     cfg.Kafka.TLSCAFile,
			TLSSkipVerify: cfg.Kafka.TLSSkipVerify,
		})
		if err != nil {
			logger.Warn("Kafka event bus unavailable, falling back to in-memory", "error", err)
			return infraeventbus.NewWithMemory(logger), nil, nil
		}
		logger.Info("Using Kafka event bus")
		return bus, bus, nil
	}
	return nil, nil, fmt.Errorf("event bus: unsupported driver %q", driver)
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
