package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"trust-payments/config"
	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/models"
)

// DLQStore persists dead-lettered messages.
type DLQStore interface {
	Store(ctx context.Context, topic, key string, value []byte, errMsg string) error
	Unresolved(ctx context.Context, limit int) ([]models.DLQMessage, error)
	Retryable(ctx context.Context, limit int) ([]models.DLQMessage, error)
	Get(ctx context.Context, messageID string) (*models.DLQMessage, error)
	MarkRetried(ctx context.Context, messageID string, resolved bool, note string) error
	Resolve(ctx context.Context, messageID, notes string) error
	Stats(ctx context.Context) (models.DLQStats, error)
}

// DLQ records consumer failures on the DLQ topic (when Kafka is up) and
// always in the store, and retries them through the consumer.
type DLQ struct {
	store DLQStore
	topic string

	mu     sync.Mutex
	writer messageWriter

	// reprocess and consumerTopic are set by the consumer that owns this DLQ.
	reprocess     func(ctx context.Context, value []byte) error
	consumerTopic string
	// republish sends messages dead-lettered by a producer back to their topic.
	republish func(ctx context.Context, topic, key string, value []byte) error
}

func NewDLQ(cfg config.KafkaConfig, store DLQStore) *DLQ {
	d := &DLQ{store: store, topic: cfg.DLQTopic}
	if cfg.Enabled() && d.topic != "" {
		d.writer = newWriter(cfg.Brokers, d.topic)
		logger.Info("[DLQ] Producer initialized. Topic=%s", d.topic)
	}
	return d
}

// Send dead-letters a message. The Kafka publish is attempted once; the
// store write decides the result.
func (d *DLQ) Send(ctx context.Context, topic, key string, value []byte, errMsg string) error {
	d.mu.Lock()
	w := d.writer
	d.mu.Unlock()

	if w != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"original_topic": topic,
			"original_key":   key,
			"original_value": string(value),
			"error_message":  errMsg,
			"timestamp":      time.Now().Unix(),
		})
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := w.WriteMessages(wctx, kafka.Message{Key: []byte(key), Value: payload})
		cancel()
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown topic") {
			logger.Warn("[DLQ] Topic %s missing on broker; disabling DLQ producer: %v", d.topic, err)
			d.mu.Lock()
			d.writer = nil
			d.mu.Unlock()
			w.Close()
		} else if err != nil {
			logger.Warn("[DLQ] Publish failed, storing to DB only: %v", err)
		}
	}

	if err := d.store.Store(ctx, topic, key, value, errMsg); err != nil {
		logger.Error("[DLQ] Error storing message for %s: %v", topic, err)
		return err
	}
	logger.Info("[DLQ] Message stored. Topic: %s, Key: %s", topic, key)
	return nil
}

// UseProducer lets retries of producer-side failures go back out through p.
func (d *DLQ) UseProducer(p *Producer) {
	d.republish = p.Resend
}

func (d *DLQ) Messages(ctx context.Context, limit int) ([]models.DLQMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return d.store.Unresolved(ctx, limit)
}

// Retry reprocesses one message. A failed retry only bumps the retry count
// and is reported as resolved=false, not as an error.
func (d *DLQ) Retry(ctx context.Context, messageID string) (bool, error) {
	msg, err := d.store.Get(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.Resolved {
		return true, nil
	}
	return d.retry(ctx, msg, "Manually retried successfully")
}

// retry hands a consumer failure back to the consumer and republishes
// anything else to the topic it was meant for.
func (d *DLQ) retry(ctx context.Context, msg *models.DLQMessage, note string) (bool, error) {
	var rerr error
	switch {
	case msg.Topic != "" && msg.Topic != d.consumerTopic:
		if d.republish == nil {
			return false, apperr.E(apperr.Config, "no producer registered for DLQ retries")
		}
		rerr = d.republish(ctx, msg.Topic, msg.Key, msg.Value)
	case d.reprocess == nil:
		return false, apperr.E(apperr.Config, "no consumer registered for DLQ retries")
	default:
		rerr = d.reprocess(ctx, msg.Value)
	}
	if rerr != nil {
		logger.Warn("[DLQ] Retry of %s failed (attempt %d/%d): %v", msg.MessageID, msg.RetryCount+1, msg.MaxRetries, rerr)
	}
	ok := rerr == nil
	if err := d.store.MarkRetried(ctx, msg.MessageID, ok, note); err != nil {
		return ok, err
	}
	if ok {
		logger.Info("[DLQ] Message %s resolved", msg.MessageID)
	}
	return ok, nil
}

func (d *DLQ) Resolve(ctx context.Context, messageID, notes string) error {
	if err := d.store.Resolve(ctx, messageID, notes); err != nil {
		return err
	}
	logger.Info("[DLQ] Message %s marked as resolved", messageID)
	return nil
}

func (d *DLQ) Stats(ctx context.Context) (models.DLQStats, error) {
	return d.store.Stats(ctx)
}

// RetryPending retries up to limit unresolved messages that are under their
// retry budget and returns how many were resolved.
func (d *DLQ) RetryPending(ctx context.Context, limit int) (int, error) {
	msgs, err := d.store.Retryable(ctx, limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range msgs {
		ok, err := d.retry(ctx, &msgs[i], "Auto-retried successfully")
		if err != nil {
			logger.Error("[DLQ] Error updating message %s: %v", msgs[i].MessageID, err)
			continue
		}
		if ok {
			resolved++
		}
	}
	if len(msgs) > 0 {
		logger.Info("[DLQ] Auto-retry processed %d messages, %d resolved", len(msgs), resolved)
	}
	return resolved, nil
}

// StartAutoRetry runs RetryPending every interval until ctx is cancelled.
func (d *DLQ) StartAutoRetry(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger.Info("[DLQ] Auto-retry started (every %s)", interval)
		for {
			select {
			case <-ctx.Done():
				logger.Info("[DLQ] Auto-retry stopped")
				return
			case <-ticker.C:
				if _, err := d.RetryPending(ctx, 10); err != nil {
					logger.Error("[DLQ] Auto-retry query failed: %v", err)
				}
			}
		}
	}()
}

func (d *DLQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	err := d.writer.Close()
	d.writer = nil
	return err
}
