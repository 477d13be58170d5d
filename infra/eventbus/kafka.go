package eventbus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/amirasaad/pixflow/pkg/eventbus"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const defaultTopicPrefix = "pixflow.events"

// KafkaEventBusConfig holds configuration for the Kafka event bus.
type KafkaEventBusConfig struct {
	GroupID       string
	TopicPrefix   string
	SASLUsername  string
	SASLPassword  string
	TLSEnabled    bool
	TLSCAFile     string
	TLSSkipVerify bool
}

// DefaultKafkaEventBusConfig returns default configuration for KafkaEventBus.
func DefaultKafkaEventBusConfig() *KafkaEventBusConfig {
	return &KafkaEventBusConfig{GroupID: "pixflow", TopicPrefix: defaultTopicPrefix}
}

// KafkaEventBus publishes each event type to its own topic, keyed by the
// event type, and runs one consumer-group reader per registered type.
type KafkaEventBus struct {
	brokers  []string
	registry eventbus.Registry
	writer   *kafka.Writer
	dialer   *kafka.Dialer
	config   *KafkaEventBusConfig
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]eventbus.HandlerFunc
	readers  map[string]*kafka.Reader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWithKafka creates a Kafka-backed event bus.
// brokers is a comma separated list such as "localhost:9092,localhost:9093".
func NewWithKafka(brokers string, registry eventbus.Registry, logger *slog.Logger, config *KafkaEventBusConfig) (*KafkaEventBus, error) {
	parsed := parseBrokers(brokers)
	if len(parsed) == 0 {
		return nil, fmt.Errorf("kafka event bus: brokers are required")
	}
	if config == nil {
		config = DefaultKafkaEventBusConfig()
	}
	if config.GroupID == "" {
		config.GroupID = "pixflow"
	}
	if strings.TrimSpace(config.TopicPrefix) == "" {
		config.TopicPrefix = defaultTopicPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer, transport, err := newKafkaDialer(config)
	if err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(parsed...),
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
	}
	if transport != nil {
		writer.Transport = transport
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &KafkaEventBus{
		brokers:  parsed,
		registry: registry,
		writer:   writer,
		dialer:   dialer,
		config:   config,
		logger:   logger.With("bus", "kafka"),
		handlers: make(map[string][]eventbus.HandlerFunc),
		readers:  make(map[string]*kafka.Reader),
		ctx:      ctx,
		cancel:   cancel,
	}

	conn, err := dialer.DialContext(ctx, "tcp", parsed[0])
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("kafka event bus: connection failed: %w", err)
	}
	_ = conn.Close()

	b.logger.Info("kafka event bus initialized",
		"group_id", config.GroupID,
		"brokers", parsed,
		"tls_enabled", dialer.TLS != nil,
		"sasl_enabled", dialer.SASLMechanism != nil,
	)
	return b, nil
}

// Emit publishes the event to its topic.
func (b *KafkaEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return fmt.Errorf("kafka event bus: %w", err)
	}
	msg := kafka.Message{
		Topic: topicNameFor(b.config.TopicPrefix, event.Type()),
		Key:   []byte(event.Type()),
		Value: data,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka event bus: publish failed: %w", err)
	}
	return nil
}

// Register adds a handler and starts the reader for eventType on first use.
func (b *KafkaEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	if _, ok := b.readers[eventType]; ok {
		return
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     b.config.GroupID,
		Topic:       topicNameFor(b.config.TopicPrefix, eventType),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		Dialer:      b.dialer,
	})
	b.readers[eventType] = reader

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(eventType, reader)
	}()
}

func (b *KafkaEventBus) consume(eventType string, reader *kafka.Reader) {
	for {
		msg, err := reader.FetchMessage(b.ctx)
		if err != nil {
			if isClosed(err) || b.ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka consume error", "event_type", eventType, "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := b.process(eventType, msg); err != nil {
			b.logger.Error("kafka message processing failed; will retry", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := reader.CommitMessages(b.ctx, msg); err != nil {
			b.logger.Error("kafka commit error", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// process returns an error only when the message must not be committed.
func (b *KafkaEventBus) process(eventType string, msg kafka.Message) error {
	_, evt, err := decodeEnvelope(msg.Value, b.registry)
	if err != nil {
		b.logger.Error("dropping undecodable message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}

	b.mu.RLock()
	handlers := append([]eventbus.HandlerFunc(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	failed := false
	for _, h := range handlers {
		if err := h(b.ctx, evt); err != nil {
			failed = true
			b.logger.Error("handler error", "event_type", eventType, "offset", msg.Offset, "error", err)
		}
	}
	if !failed {
		return nil
	}
	return b.publishToDLQ(eventType, msg.Value)
}

func (b *KafkaEventBus) publishToDLQ(eventType string, raw []byte) error {
	topic := dlqTopicNameFor(b.config.TopicPrefix, eventType)
	if err := b.writer.WriteMessages(b.ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(eventType),
		Value: raw,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("kafka event bus: dlq publish failed: %w", err)
	}
	b.logger.Warn("message sent to DLQ", "event_type", eventType, "dlq_topic", topic)
	return nil
}

// Close stops readers and flushes the writer.
func (b *KafkaEventBus) Close() error {
	b.cancel()
	b.mu.Lock()
	for _, r := range b.readers {
		_ = r.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return b.writer.Close()
}

func newKafkaDialer(config *KafkaEventBusConfig) (*kafka.Dialer, *kafka.Transport, error) {
	tlsConfig, err := buildKafkaTLSConfig(config)
	if err != nil {
		return nil, nil, err
	}
	mechanism, err := buildKafkaSASLMechanism(config)
	if err != nil {
		return nil, nil, err
	}
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, TLS: tlsConfig, SASLMechanism: mechanism}
	if tlsConfig == nil && mechanism == nil {
		return dialer, nil, nil
	}
	return dialer, &kafka.Transport{TLS: tlsConfig, SASL: mechanism}, nil
}

func buildKafkaTLSConfig(config *KafkaEventBusConfig) (*tls.Config, error) {
	if !config.TLSEnabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.TLSSkipVerify, //nolint:gosec
	}
	if caFile := strings.TrimSpace(config.TLSCAFile); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("kafka event bus: read tls ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("kafka event bus: invalid tls ca file")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

func buildKafkaSASLMechanism(config *KafkaEventBusConfig) (sasl.Mechanism, error) {
	user := strings.TrimSpace(config.SASLUsername)
	pass := strings.TrimSpace(config.SASLPassword)
	if user == "" && pass == "" {
		return nil, nil
	}
	if user == "" || pass == "" {
		return nil, fmt.Errorf("kafka event bus: sasl username and password are required")
	}
	return plain.Mechanism{Username: user, Password: pass}, nil
}

func parseBrokers(brokers string) []string {
	var out []string
	for _, p := range strings.Split(brokers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func topicNameFor(prefix, eventType string) string {
	return prefix + "." + strings.ToLower(eventType)
}

func dlqTopicNameFor(prefix, eventType string) string {
	return prefix + ".dlq." + strings.ToLower(eventType)
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

var _ eventbus.Bus = (*KafkaEventBus)(nil)
