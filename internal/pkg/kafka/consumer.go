package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// readRetryDelay is the pause after a failed read before the next one.
const readRetryDelay = 2 * time.Second

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// EventHandler is called for every flow event read from the topic.
type EventHandler func(ctx context.Context, event entity.FlowEvent) error

// StartEventConsumer reads flow events until ctx is cancelled.
func StartEventConsumer(ctx context.Context, cfg ConsumerConfig, handle EventHandler) error {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	defer reader.Close()

	log := logrus.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic, "group": cfg.GroupID})
	log.Info("flow event consumer started")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("flow event consumer stopped")
				return nil
			}
			log.WithError(err).Error("error reading message from kafka")
			if !sleepCtx(ctx, readRetryDelay) {
				log.Info("flow event consumer stopped")
				return nil
			}
			continue
		}

		event, err := DecodeEvent(msg)
		if err != nil {
			log.WithError(err).WithField("offset", msg.Offset).Warn("skipping malformed flow event")
			continue
		}
		if err := handle(ctx, event); err != nil {
			log.WithError(err).WithField("flow_id", event.FlowID).Error("flow event handler failed")
		}
	}
}

func DecodeEvent(msg kafka.Message) (entity.FlowEvent, error) {
	var event entity.FlowEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return entity.FlowEvent{}, fmt.Errorf("decode flow event: %w", err)
	}
	if event.FlowID == "" {
		event.FlowID = string(msg.Key)
	}
	return event, nil
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
