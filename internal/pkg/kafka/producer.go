package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const DefaultTopic = "espdisplay-flow-events"

// Producer publishes flow outcomes.
type Producer interface {
	Publish(ctx context.Context, event entity.FlowEvent) error
	Close() error
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

type kafkaProducer struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewProducer connects to the first broker, makes sure the topic exists and
// returns a writer for it. When no broker answers a mock producer is returned.
func NewProducer(cfg ProducerConfig) Producer {
	if len(cfg.Brokers) == 0 {
		logrus.Info("no kafka brokers configured, flow events are only logged")
		return NewMockProducer()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	log := logrus.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		log.WithError(err).Warn("kafka connection failed, using mock producer instead")
		writer.Close()
		return NewMockProducer()
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		log.WithError(err).Debug("could not create topic (might already exist)")
	}

	log.Info("connected to kafka")
	return &kafkaProducer{writer: writer, timeout: cfg.Timeout}
}

func (p *kafkaProducer) Publish(ctx context.Context, event entity.FlowEvent) error {
	msg, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish flow event %s: %w", event.FlowID, err)
	}

	logrus.WithFields(logrus.Fields{
		"flow_id": event.FlowID,
		"status":  event.Status,
		"topic":   p.writer.Topic,
	}).Debug("flow event published")
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// EncodeEvent keys the message by flow id so one flow's events stay ordered.
func EncodeEvent(event entity.FlowEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal flow event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.FlowID),
		Value: value,
		Time:  event.Timestamp,
	}, nil
}

// MockProducer keeps events in memory for running without kafka.
type MockProducer struct {
	mu     sync.Mutex
	events []entity.FlowEvent
}

func NewMockProducer() *MockProducer {
	return &MockProducer{}
}

func (m *MockProducer) Publish(_ context.Context, event entity.FlowEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"flow_id": event.FlowID,
		"status":  event.Status,
	}).Info("MOCK: flow event")
	return nil
}

// Events returns a copy of everything published so far.
func (m *MockProducer) Events() []entity.FlowEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.FlowEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockProducer) Close() error {
	return nil
}
