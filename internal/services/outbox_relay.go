package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"festival-platform/internal/metrics"
	"festival-platform/internal/models"

	"github.com/segmentio/kafka-go"
)

// ErrPublisherDisabled is returned when no brokers are configured
var ErrPublisherDisabled = errors.New("kafka disabled")

// Publisher delivers one outbox record
type Publisher interface {
	Publish(ctx context.Context, record models.OutboxRecord) error
}

// KafkaPublisher writes outbox records to Kafka, one writer per topic
type KafkaPublisher struct {
	brokers     []string
	topicPrefix string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaPublisher creates a publisher for a comma separated broker list
func NewKafkaPublisher(brokersCSV, topicPrefix string) *KafkaPublisher {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &KafkaPublisher{
		brokers:     brokers,
		topicPrefix: topicPrefix,
		writers:     make(map[string]*kafka.Writer),
	}
}

// Enabled returns true when at least one broker is configured
func (p *KafkaPublisher) Enabled() bool {
	return len(p.brokers) > 0
}

// Topic returns the Kafka topic an outbox topic is published to
func (p *KafkaPublisher) Topic(topic string) string {
	return p.topicPrefix + topic
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(p.brokers...),
			Topic:        p.Topic(topic),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
		p.writers[topic] = w
	}
	return w
}

// Publish implements Publisher. The record key keeps one user's events in order.
func (p *KafkaPublisher) Publish(ctx context.Context, record models.OutboxRecord) error {
	if !p.Enabled() {
		return ErrPublisherDisabled
	}
	return p.writer(record.Topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.Key),
		Value: record.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(record.EventID)},
		},
		Time: time.Now().UTC(),
	})
}

// Close flushes and closes every writer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}

// OutboxRelay publishes outbox rows written by the commit transaction.
// Delivery is at least once; consumers dedupe on event_id.
type OutboxRelay struct {
	store     OutboxStore
	publisher Publisher
	batchSize int
	metrics   *metrics.Metrics
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(store OutboxStore, publisher Publisher, batchSize int, m *metrics.Metrics) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{store: store, publisher: publisher, batchSize: batchSize, metrics: m}
}

// RelayOnce publishes one batch in id order and stops at the first failure
// so events for a key are never reordered
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox: %w", err)
	}

	sent := 0
	for _, record := range records {
		err := r.publisher.Publish(ctx, record)
		r.metrics.OutboxResult(err)
		if err != nil {
			return sent, fmt.Errorf("failed to publish outbox event %s: %w", record.EventID, err)
		}
		if err := r.store.MarkSent(ctx, record.ID); err != nil {
			return sent, fmt.Errorf("failed to mark outbox event %s sent: %w", record.EventID, err)
		}
		sent++
	}
	return sent, nil
}

// Run relays every interval until ctx is cancelled
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	RunEvery(ctx, "outbox", interval, func(ctx context.Context) error {
		n, err := r.RelayOnce(ctx)
		if n > 0 {
			log.Printf("outbox: published %d events", n)
		}
		return err
	})
}
