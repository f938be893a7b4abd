package tenancy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// AuditEvent is the post-commit fan-out copy of an audit-log entry. The
// authoritative record is the row written inside the mutation's
// transaction; these events are fire-and-forget for downstream consumers.
type AuditEvent struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id,omitempty"`
	Level      string    `json:"level"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditSink receives audit events after the owning transaction commits
type AuditSink interface {
	Publish(event AuditEvent)
}

// NopAuditSink drops all events; used when Kafka is not configured
type NopAuditSink struct{}

func (NopAuditSink) Publish(AuditEvent) {}

// KafkaAuditPublisher fans audit events out to Kafka through a worker
// pool. Publishing never blocks the caller: when the buffer is full the
// event is dropped and counted in the log.
type KafkaAuditPublisher struct {
	writer      *kafka.Writer
	events      chan AuditEvent
	workerCount int
	shutdown    chan struct{}
	wg          sync.WaitGroup
	log         *logrus.Entry
}

// NewKafkaAuditPublisher creates a publisher and starts its workers
func NewKafkaAuditPublisher(broker, topic string) *KafkaAuditPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	p := &KafkaAuditPublisher{
		writer:      writer,
		events:      make(chan AuditEvent, 1000),
		workerCount: 4,
		shutdown:    make(chan struct{}),
		log:         logrus.WithField("component", "audit_publisher"),
	}
	p.startWorkers()
	return p
}

func (p *KafkaAuditPublisher) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *KafkaAuditPublisher) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.events:
			if err := p.send(event); err != nil {
				p.log.WithError(err).WithFields(logrus.Fields{
					"worker": id,
					"action": event.Action,
				}).Warn("Failed to publish audit event")
			}
		case <-p.shutdown:
			return
		}
	}
}

// Publish queues an audit event without blocking
func (p *KafkaAuditPublisher) Publish(event AuditEvent) {
	select {
	case p.events <- event:
	default:
		p.log.WithField("action", event.Action).Warn("Audit event queue full, event dropped")
	}
}

func (p *KafkaAuditPublisher) send(event AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.TenantID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}

// Close drains the workers and closes the Kafka writer
func (p *KafkaAuditPublisher) Close() error {
	close(p.shutdown)
	p.wg.Wait()
	return p.writer.Close()
}
