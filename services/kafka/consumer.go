package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"trust-payments/config"
	"trust-payments/logger"
)

// Handler processes the raw value of one event.
type Handler func(ctx context.Context, value []byte) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads events from one topic and routes them by their "event"
// field. Messages that cannot be handled go to the DLQ.
type Consumer struct {
	topic  string
	reader messageReader
	dlq    *DLQ

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
}

// NewConsumer returns nil when Kafka is disabled.
func NewConsumer(cfg config.KafkaConfig, topic string, dlq *DLQ) *Consumer {
	if !cfg.Enabled() {
		logger.Info("[KAFKA] Consumer is disabled (KAFKA_BROKERS is empty)")
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          cfg.Brokers,
		Topic:            topic,
		GroupID:          cfg.GroupID,
		StartOffset:      kafka.LastOffset,
		CommitInterval:   time.Second,
		MaxBytes:         10e6,
		SessionTimeout:   20 * time.Second,
		ReadBackoffMin:   100 * time.Millisecond,
		ReadBackoffMax:   time.Second,
		QueueCapacity:    100,
		RebalanceTimeout: 60 * time.Second,
	})
	logger.Info("[KAFKA] Consumer initialized. Brokers=%v, Topic=%s, Group=%s", cfg.Brokers, topic, cfg.GroupID)
	return newConsumer(topic, reader, dlq)
}

func newConsumer(topic string, reader messageReader, dlq *DLQ) *Consumer {
	c := &Consumer{topic: topic, reader: reader, dlq: dlq, handlers: make(map[string]Handler)}
	if dlq != nil {
		dlq.reprocess = c.Reprocess
		dlq.consumerTopic = topic
	}
	return c
}

// Register routes events named event to fn.
func (c *Consumer) Register(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
	logger.Info("[KAFKA] Handler registered for %s", event)
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		logger.Warn("[KAFKA] Consumer already running")
		return
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logger.Info("[KAFKA] Consumer started on %s", c.topic)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("[KAFKA] Consumer on %s stopped", c.topic)
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if strings.Contains(err.Error(), "Group Coordinator Not Available") {
				sleep(ctx, 500*time.Millisecond)
				continue
			}
			logger.Warn("[KAFKA] Read error on %s: %v", c.topic, err)
			sleep(ctx, time.Second)
			continue
		}
		c.handle(ctx, msg)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Running reports whether Run is active.
func (c *Consumer) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	if err := c.process(ctx, msg.Value); err != nil {
		logger.Error("[KAFKA] %v", err)
		if c.dlq != nil {
			_ = c.dlq.Send(ctx, msg.Topic, string(msg.Key), msg.Value, err.Error())
		}
	}
}

// Reprocess runs value through the registered handlers without touching the
// DLQ. It is what DLQ retries call.
func (c *Consumer) Reprocess(ctx context.Context, value []byte) error {
	return c.process(ctx, value)
}

func (c *Consumer) process(ctx context.Context, value []byte) error {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if envelope.Event == "" {
		return fmt.Errorf("message does not contain valid event type")
	}

	c.mu.RLock()
	fn, ok := c.handlers[envelope.Event]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown event type: %s", envelope.Event)
	}
	if err := fn(ctx, value); err != nil {
		return fmt.Errorf("handler error for %s: %w", envelope.Event, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.reader.Close()
}
