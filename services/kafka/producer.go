package kafka

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"trust-payments/config"
	apperr "trust-payments/errors"
	"trust-payments/logger"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON events. With no brokers configured it is disabled
// and Publish is a no-op.
type Producer struct {
	brokers  []string
	topics   []string
	attempts int
	backoff  time.Duration

	mu        sync.Mutex
	writer    messageWriter
	connected atomic.Bool
	dlq       DLQStore
}

// NewProducer builds a producer for cfg. dlq, if non-nil, receives messages
// that could not be written after all attempts.
func NewProducer(cfg config.KafkaConfig, dlq DLQStore, topics ...string) *Producer {
	p := &Producer{
		brokers:  cfg.Brokers,
		topics:   topics,
		attempts: 3,
		backoff:  time.Second,
		dlq:      dlq,
	}
	if !cfg.Enabled() {
		logger.Info("[KAFKA] Kafka is disabled (KAFKA_BROKERS is empty)")
		return p
	}
	if t := strings.TrimSpace(cfg.DLQTopic); t != "" {
		p.topics = appendUnique(p.topics, t)
	}
	p.writer = newWriter(p.brokers, "")
	p.connected.Store(true)
	logger.Info("[KAFKA] Producer initialized. Brokers=%v", p.brokers)
	return p
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        false,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// Enabled reports whether brokers are configured.
func (p *Producer) Enabled() bool {
	return len(p.brokers) > 0
}

// EnsureTopics creates the producer's topics in the background, retrying
// with exponential backoff while the broker comes up.
func (p *Producer) EnsureTopics(ctx context.Context) {
	if !p.Enabled() || len(p.topics) == 0 {
		return
	}
	go func() {
		const maxRetries = 5
		for attempt := 0; attempt < maxRetries; attempt++ {
			wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
			if err != nil {
				if attempt == maxRetries-1 {
					logger.Warn("[KAFKA] Could not reach broker for topic creation after %d attempts: %v", maxRetries, err)
				}
				continue
			}

			ok := 0
			for _, topic := range p.topics {
				err := conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
				if err == nil || strings.Contains(err.Error(), "already exists") {
					ok++
				}
			}
			conn.Close()
			if ok == len(p.topics) {
				logger.Info("[KAFKA] Topics ready: %v", p.topics)
				return
			}
		}
	}()
}

func (p *Producer) currentWriter() messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer
}

// Publish marshals value to JSON and writes it to topic, retrying with
// exponential backoff. A message that still fails goes to the DLQ store.
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	w := p.currentWriter()
	if w == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		logger.Error("[KAFKA] Error marshaling message for %s: %v", topic, err)
		return err
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: payload}

	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if lastErr = p.write(ctx, w, msg); lastErr == nil {
			return nil
		}
		logger.Warn("[KAFKA] Publish attempt %d/%d to %s failed: %v", attempt+1, p.attempts, topic, lastErr)
		if attempt < p.attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << attempt):
			}
		}
	}

	if p.dlq != nil {
		// Use a fresh context: ctx may be what just expired.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.dlq.Store(sctx, topic, key, payload, lastErr.Error()); err != nil {
			logger.Error("[KAFKA] Failed to store undeliverable message in DLQ: %v", err)
		}
	}
	return lastErr
}

// Resend writes an already encoded message once. Failures are returned and
// not dead-lettered again.
func (p *Producer) Resend(ctx context.Context, topic, key string, value []byte) error {
	w := p.currentWriter()
	if w == nil {
		return apperr.E(apperr.Config, "kafka is disabled")
	}
	return p.write(ctx, w, kafka.Message{Topic: topic, Key: []byte(key), Value: value})
}

func (p *Producer) write(ctx context.Context, w messageWriter, msg kafka.Message) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := w.WriteMessages(wctx, msg)
	p.connected.Store(err == nil)
	return err
}

// IsConnected reports whether the last write succeeded.
func (p *Producer) IsConnected() bool {
	return p.connected.Load() && p.currentWriter() != nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	p.connected.Store(false)
	return err
}
