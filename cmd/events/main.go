package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ds124wfegd/espdisplay/config"
	"github.com/ds124wfegd/espdisplay/internal/appServer"
	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/kafka"
	"github.com/sirupsen/logrus"
)

// events tails the flow outcome topic and logs every delivery result.
func main() {
	v, err := config.LoadConfig(config.GetEnv("ESPDISPLAY_CONFIG_DIR", "./config"))
	if err != nil {
		logrus.Fatalf("error initializing configs: %s", err.Error())
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logrus.Fatalf("error parsing configs: %s", err.Error())
	}
	appServer.SetupLogging(cfg.Log)

	if len(cfg.Kafka.Brokers) == 0 {
		logrus.Fatal("no kafka brokers configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = kafka.StartEventConsumer(ctx, kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, logEvent)
	if err != nil {
		logrus.Fatalf("error consuming flow events: %s", err.Error())
	}
}

func logEvent(_ context.Context, event entity.FlowEvent) error {
	log := logrus.WithFields(logrus.Fields{
		"flow_id": event.FlowID,
		"target":  event.Target.String(),
		"status":  event.Status,
		"attempt": event.Attempt,
		"bytes":   event.Bytes,
	})
	if event.Failure != nil {
		log.WithField("reason", event.Failure.Kind).Warn(event.Failure.Message)
		return nil
	}
	log.Info("flow finished")
	return nil
}
